package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/model"
)

// DefaultWorkers is the per-page worker pool size.
const DefaultWorkers = 3

// API is the part of the document API the orchestrator needs.
type API interface {
	Source
	ListGranules(ctx context.Context, packageID string, offset, pageSize int) (*govinfo.GranuleList, error)
	AllPackages(ctx context.Context, start, end string) ([]govinfo.Package, error)
	GetPackage(ctx context.Context, packageID string) (*govinfo.Package, error)
}

// SpeechWriter persists a page of speeches in one write.
type SpeechWriter interface {
	UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error)
}

// Audit counts granule outcomes for one package.
type Audit struct {
	PackageID string
	Saved     int
	Skipped   int
	Errors    int
}

func (a Audit) String() string {
	return fmt.Sprintf("%s: %d Saved | %d Skipped | %d Errors", a.PackageID, a.Saved, a.Skipped, a.Errors)
}

// Options configures an Orchestrator.
type Options struct {
	Workers    int
	PageSize   int
	MinTextLen int
}

// Orchestrator ingests packages page by page: each page fans out to a
// bounded worker pool, joins, and is written as one batch.
type Orchestrator struct {
	api      API
	store    SpeechWriter
	ledger   Ledger
	failures FailureRecorder
	worker   *Worker
	workers  int
	pageSize int
}

// NewOrchestrator wires an Orchestrator. failures may be nil.
func NewOrchestrator(api API, store SpeechWriter, ledger Ledger, failures FailureRecorder, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if failures == nil {
		failures = nopRecorder{}
	}
	return &Orchestrator{
		api:      api,
		store:    store,
		ledger:   ledger,
		failures: failures,
		worker:   NewWorker(api, opts.MinTextLen),
		workers:  opts.Workers,
		pageSize: opts.PageSize,
	}
}

// ProcessPackage ingests every granule of pkg and then marks it done. A
// failed page listing, a failed write or cancellation returns an error and
// leaves the package unmarked so the next run retries it.
//
// Cancellation is only observed between pages. A page that has started is
// fetched, joined and written in full on a context detached from ctx.
func (o *Orchestrator) ProcessPackage(ctx context.Context, pkg govinfo.Package) (Audit, error) {
	log := zap.L().With(
		zap.String("component", "ingest.orchestrator"),
		zap.String("package_id", pkg.PackageID),
	)
	audit := Audit{PackageID: pkg.PackageID}
	pc := PackageContext{
		PackageID: pkg.PackageID,
		Date:      govinfo.PackageDate(pkg.PackageID),
		Congress:  pkg.Congress.String(),
	}
	log.Info("processing package", zap.String("congress", pc.Congress))

	work := context.WithoutCancel(ctx)
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			log.Warn("package interrupted", zap.Int("offset", offset), zap.Int("saved", audit.Saved))
			return audit, err
		}
		page, err := o.api.ListGranules(ctx, pkg.PackageID, offset, o.pageSize)
		if err != nil {
			return audit, eris.Wrapf(err, "ingest: list granules for %s", pkg.PackageID)
		}
		if len(page.Granules) == 0 {
			break
		}

		outcomes, err := o.processPage(work, page.Granules, pc)
		if err != nil {
			return audit, err
		}

		var batch []model.Speech
		for _, out := range outcomes {
			switch out.Status {
			case StatusSuccess:
				batch = append(batch, *out.Speech)
			case StatusSkip:
				audit.Skipped++
			case StatusError:
				audit.Errors++
				o.failures.Record(pkg.PackageID, out)
				log.Warn("granule failed",
					zap.String("granule_id", out.GranuleID),
					zap.String("reason", out.Reason),
					zap.Error(out.Err),
				)
			}
		}
		if len(batch) > 0 {
			if _, err := o.store.UpsertSpeeches(work, batch); err != nil {
				return audit, eris.Wrapf(err, "ingest: write page at offset %d of %s", offset, pkg.PackageID)
			}
			audit.Saved += len(batch)
		}

		offset += len(page.Granules)
		if page.Count > 0 && offset >= page.Count {
			break
		}
	}

	if err := o.ledger.MarkDone(work, pkg.PackageID); err != nil {
		return audit, eris.Wrapf(err, "ingest: mark %s done", pkg.PackageID)
	}
	log.Info("[AUDIT] "+audit.String(),
		zap.Int("saved", audit.Saved),
		zap.Int("skipped", audit.Skipped),
		zap.Int("errors", audit.Errors),
	)
	return audit, nil
}

// processPage runs every granule of a page and returns outcomes in page
// order. Workers only read their inputs; results land in distinct slots.
func (o *Orchestrator) processPage(ctx context.Context, granules []govinfo.Granule, pc PackageContext) ([]Outcome, error) {
	outcomes := make([]Outcome, len(granules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, gr := range granules {
		g.Go(func() error {
			outcomes[i] = o.worker.Process(gctx, gr, pc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// RangeOpts selects the packages for a run. PackageIDs wins over dates;
// Start/End (YYYY-MM-DD) win over years.
type RangeOpts struct {
	PackageIDs []string
	Start      string
	End        string
	StartYear  int
	EndYear    int
}

// DateRange is one inclusive published-date window.
type DateRange struct {
	Start string
	End   string
}

// Ranges expands the options into listing windows, one per calendar year
// when only years are given.
func (r RangeOpts) Ranges() ([]DateRange, error) {
	if r.Start != "" || r.End != "" {
		if r.Start == "" || r.End == "" {
			return nil, eris.New("ingest: both start and end dates are required")
		}
		if _, err := time.Parse(time.DateOnly, r.Start); err != nil {
			return nil, eris.Wrapf(err, "ingest: bad start date %q", r.Start)
		}
		if _, err := time.Parse(time.DateOnly, r.End); err != nil {
			return nil, eris.Wrapf(err, "ingest: bad end date %q", r.End)
		}
		if r.Start > r.End {
			return nil, eris.Errorf("ingest: start %s is after end %s", r.Start, r.End)
		}
		return []DateRange{{Start: r.Start, End: r.End}}, nil
	}
	if r.StartYear <= 0 || r.EndYear < r.StartYear {
		return nil, eris.Errorf("ingest: invalid year range %d..%d", r.StartYear, r.EndYear)
	}
	out := make([]DateRange, 0, r.EndYear-r.StartYear+1)
	for y := r.StartYear; y <= r.EndYear; y++ {
		out = append(out, DateRange{
			Start: fmt.Sprintf("%04d-01-01", y),
			End:   fmt.Sprintf("%04d-12-31", y),
		})
	}
	return out, nil
}

// RunSummary totals a Run.
type RunSummary struct {
	RunID     string
	Processed int
	Resumed   int // already in the ledger
	Failed    int // packages, lookups or listing windows
	Saved     int
	Skipped   int
	Errors    int
}

// Run ingests every package selected by opts that the ledger does not
// already hold. Year ranges are listed and processed one window at a time.
// A package, lookup or window listing that fails is logged, counted in
// Failed and left for the next run; cancellation stops the run between
// packages.
func (o *Orchestrator) Run(ctx context.Context, opts RangeOpts) (*RunSummary, error) {
	sum := &RunSummary{RunID: uuid.NewString()}
	log := zap.L().With(
		zap.String("component", "ingest.run"),
		zap.String("run_id", sum.RunID),
	)

	if len(opts.PackageIDs) > 0 {
		log.Info("run started", zap.Strings("packages", opts.PackageIDs))
		pkgs := make([]govinfo.Package, 0, len(opts.PackageIDs))
		for _, id := range opts.PackageIDs {
			isDone, err := o.ledger.IsDone(ctx, id)
			if err != nil {
				return sum, eris.Wrapf(err, "ingest: check ledger for %s", id)
			}
			if isDone {
				sum.Resumed++
				continue
			}
			pkg, err := o.api.GetPackage(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return sum, eris.Wrap(ctx.Err(), "ingest: run interrupted")
				}
				sum.Failed++
				log.Error("package lookup failed", zap.String("package_id", id), zap.Error(err))
				continue
			}
			pkgs = append(pkgs, *pkg)
		}
		if err := o.runPackages(ctx, pkgs, map[string]bool{}, sum, log); err != nil {
			return sum, err
		}
	} else {
		ranges, err := opts.Ranges()
		if err != nil {
			return sum, err
		}
		done, err := o.ledger.DoneSet(ctx)
		if err != nil {
			return sum, eris.Wrap(err, "ingest: load ledger")
		}
		log.Info("run started", zap.Int("windows", len(ranges)), zap.Int("already_done", len(done)))
		for _, r := range ranges {
			pkgs, err := o.api.AllPackages(ctx, r.Start, r.End)
			if err != nil {
				if ctx.Err() != nil {
					return sum, eris.Wrap(ctx.Err(), "ingest: run interrupted")
				}
				// The window is retried whole on the next run.
				sum.Failed++
				log.Error("package listing failed",
					zap.String("start", r.Start),
					zap.String("end", r.End),
					zap.Error(err),
				)
				continue
			}
			log.Info("listed packages",
				zap.String("start", r.Start),
				zap.String("end", r.End),
				zap.Int("count", len(pkgs)),
			)
			if err := o.runPackages(ctx, pkgs, done, sum, log); err != nil {
				return sum, err
			}
		}
	}

	log.Info("run complete",
		zap.Int("processed", sum.Processed),
		zap.Int("resumed", sum.Resumed),
		zap.Int("failed", sum.Failed),
		zap.Int("saved", sum.Saved),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
	)
	return sum, nil
}

func (o *Orchestrator) runPackages(ctx context.Context, pkgs []govinfo.Package, done map[string]bool, sum *RunSummary, log *zap.Logger) error {
	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			log.Warn("run interrupted", zap.String("next_package", pkg.PackageID))
			return eris.Wrap(err, "ingest: run interrupted")
		}
		if done[pkg.PackageID] {
			sum.Resumed++
			continue
		}

		audit, err := o.ProcessPackage(ctx, pkg)
		sum.Saved += audit.Saved
		sum.Skipped += audit.Skipped
		sum.Errors += audit.Errors
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "ingest: run interrupted")
			}
			sum.Failed++
			log.Error("package failed", zap.String("package_id", pkg.PackageID), zap.Error(err))
			continue
		}
		done[pkg.PackageID] = true
		sum.Processed++
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) Record(string, Outcome) {}
