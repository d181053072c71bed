package ingest

import (
	"context"
)

// Ledger records packages whose every granule reached a terminal outcome.
type Ledger interface {
	IsDone(ctx context.Context, packageID string) (bool, error)
	MarkDone(ctx context.Context, packageID string) error
	DoneSet(ctx context.Context) (map[string]bool, error)
}

// PackageStore is the store side of the ledger.
type PackageStore interface {
	IsPackageDone(ctx context.Context, packageID string) (bool, error)
	MarkPackageDone(ctx context.Context, packageID string) error
	DonePackages(ctx context.Context) (map[string]bool, error)
}

// NewLedger returns a Ledger backed by the processed_packages table.
func NewLedger(st PackageStore) Ledger {
	return storeLedger{st: st}
}

type storeLedger struct {
	st PackageStore
}

func (l storeLedger) IsDone(ctx context.Context, packageID string) (bool, error) {
	return l.st.IsPackageDone(ctx, packageID)
}

// MarkDone is idempotent.
func (l storeLedger) MarkDone(ctx context.Context, packageID string) error {
	return l.st.MarkPackageDone(ctx, packageID)
}

func (l storeLedger) DoneSet(ctx context.Context) (map[string]bool, error) {
	return l.st.DonePackages(ctx)
}
