// Package store persists speeches, the package ledger and classification
// labels, and serves the read-side aggregate queries.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/db"
	"github.com/sells-group/crec-cli/internal/model"
)

// ErrNotFound is returned when a requested speech does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the canonical speech store.
type Store interface {
	// Speeches
	UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error)
	GetSpeech(ctx context.Context, speechID string) (*model.Speech, error)
	SpeechesBySession(ctx context.Context, session string, limit int, filterProc bool) ([]model.Speech, error)

	// Package ledger
	IsPackageDone(ctx context.Context, packageID string) (bool, error)
	MarkPackageDone(ctx context.Context, packageID string) error
	DonePackages(ctx context.Context) (map[string]bool, error)

	// Classification
	ListUnclassified(ctx context.Context, maxLen, limit int) ([]model.Candidate, error)
	SetProcedure(ctx context.Context, updates []model.ProcedureUpdate) (int64, error)
	CountProgress(ctx context.Context) (*model.Progress, error)

	// Aggregates
	PhraseTrend(ctx context.Context, phrase string, filterProc bool) ([]model.TrendRow, error)
	PartisanShare(ctx context.Context, phrase string) ([]model.ShareRow, error)
	PhraseMentions(ctx context.Context, phrase string) ([]model.Mention, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// speechColumns is the column order used by every speech read and write.
var speechColumns = []string{
	"speech_id", "text", "date", "speaker_id", "speaker_name", "party",
	"state", "last_name", "first_name", "is_mapped", "congress_session",
	"is_procedure",
}

// writeColumns excludes is_procedure so re-ingestion never resets a label.
var writeColumns = speechColumns[:len(speechColumns)-1]

// likePattern wraps phrase for a substring LIKE match with '\' as the escape.
func likePattern(phrase string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(phrase) + "%"
}

type scannable interface {
	Scan(dest ...any) error
}

// scanSpeech reads one row selected with speechColumns.
func scanSpeech(row scannable) (*model.Speech, error) {
	var s model.Speech
	var proc *int64
	err := row.Scan(
		&s.SpeechID, &s.Text, &s.Date, &s.SpeakerID, &s.SpeakerName, &s.Party,
		&s.State, &s.LastName, &s.FirstName, &s.IsMapped, &s.CongressSession,
		&proc,
	)
	if err != nil {
		return nil, err
	}
	s.IsProcedure = intPtr(proc)
	return &s, nil
}

func intPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func selectList() string {
	return strings.Join(speechColumns, ", ")
}
