package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/model"
)

// fakeAPI serves a fixed set of packages, each with a list of granules that
// all share one summary and text.
type fakeAPI struct {
	fakeSource

	mu        sync.Mutex
	granules  map[string][]govinfo.Granule
	packages  []govinfo.Package
	listErrAt map[string]int  // package id -> offset whose listing fails
	windowErr map[string]bool // window start dates whose package listing fails
	onSummary func()

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func (f *fakeAPI) ListGranules(_ context.Context, packageID string, offset, pageSize int) (*govinfo.GranuleList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at, ok := f.listErrAt[packageID]; ok && at == offset {
		return nil, errors.New("listing unavailable")
	}
	all := f.granules[packageID]
	end := min(offset+pageSize, len(all))
	if offset >= len(all) {
		return &govinfo.GranuleList{Count: len(all)}, nil
	}
	return &govinfo.GranuleList{Count: len(all), Offset: offset, Granules: all[offset:end]}, nil
}

func (f *fakeAPI) AllPackages(_ context.Context, start, end string) ([]govinfo.Package, error) {
	if f.windowErr[start] {
		return nil, errors.New("published listing unavailable")
	}
	var out []govinfo.Package
	for _, p := range f.packages {
		d := fmt.Sprintf("%d", govinfo.PackageDate(p.PackageID))
		s := start[:4] + start[5:7] + start[8:10]
		e := end[:4] + end[5:7] + end[8:10]
		if d >= s && d <= e {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetPackage(_ context.Context, id string) (*govinfo.Package, error) {
	for _, p := range f.packages {
		if p.PackageID == id {
			return &p, nil
		}
	}
	return nil, errors.New("unknown package " + id)
}

func (f *fakeAPI) GranuleSummary(ctx context.Context, link string) (*govinfo.Summary, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onSummary != nil {
		f.onSummary()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fakeSource.GranuleSummary(ctx, link)
}

// memStore is an in-memory SpeechWriter and PackageStore. Writes fail on a
// cancelled context.
type memStore struct {
	mu       sync.Mutex
	speeches map[string]model.Speech
	done     map[string]bool
	writes   int
}

func newMemStore() *memStore {
	return &memStore{speeches: map[string]model.Speech{}, done: map[string]bool{}}
}

func (m *memStore) UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.writes++
	for _, s := range speeches {
		m.speeches[s.SpeechID] = s
	}
	return int64(len(speeches)), nil
}

func (m *memStore) IsPackageDone(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[id], nil
}

func (m *memStore) MarkPackageDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[id] = true
	return nil
}

func (m *memStore) DonePackages(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.done))
	for k, v := range m.done {
		out[k] = v
	}
	return out, nil
}

type recordedFailures struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordedFailures) Record(pkg string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, pkg+"/"+o.GranuleID+": "+o.Reason)
}

// floorGranules returns n floor granules for pkg that all resolve to the
// Jane Doe summary.
func floorGranules(pkg string, n int) []govinfo.Granule {
	out := make([]govinfo.Granule, n)
	for i := range out {
		out[i] = govinfo.Granule{GranuleID: fmt.Sprintf("%s-pt1-PgH%d", pkg, i+1), GranuleLink: "sum/jane"}
	}
	return out
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		fakeSource: fakeSource{
			summaries: map[string]*govinfo.Summary{"sum/jane": janeDoeSummary()},
			texts:     map[string]string{"txt/jane": janeDoeText},
		},
		granules: map[string][]govinfo.Granule{},
	}
}

func TestProcessPackagePagesAndAudits(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05", Congress: raw(`"116"`)}
	granules := floorGranules(pkg.PackageID, 3)
	granules = append(granules,
		govinfo.Granule{GranuleID: "CREC-2020-01-05-pt1-PgE1", GranuleLink: "sum/jane"},    // skip
		govinfo.Granule{GranuleID: "CREC-2020-01-05-pt1-PgS9", GranuleLink: "sum/missing"}, // error
	)
	api.granules[pkg.PackageID] = granules

	st := newMemStore()
	fails := &recordedFailures{}
	o := NewOrchestrator(api, st, NewLedger(st), fails, Options{Workers: 2, PageSize: 2})

	audit, err := o.ProcessPackage(context.Background(), pkg)
	require.NoError(t, err)

	assert.Equal(t, Audit{PackageID: pkg.PackageID, Saved: 3, Skipped: 1, Errors: 1}, audit)
	assert.Equal(t, "CREC-2020-01-05: 3 Saved | 1 Skipped | 1 Errors", audit.String())
	assert.Len(t, st.speeches, 3)
	assert.Equal(t, 2, st.writes) // page 3 holds only the failed granule
	assert.True(t, st.done[pkg.PackageID])
	assert.Equal(t, []string{"CREC-2020-01-05/CREC-2020-01-05-pt1-PgS9: " + ReasonMetadata}, fails.entries)

	sp := st.speeches["CREC-2020-01-05-pt1-PgH1"]
	assert.Equal(t, 20200105, sp.Date)
	assert.Equal(t, "116", sp.CongressSession)
}

func TestProcessPackageBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	api.delay = 5 * time.Millisecond
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05"}
	api.granules[pkg.PackageID] = floorGranules(pkg.PackageID, 12)

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{Workers: 3, PageSize: 100})

	_, err := o.ProcessPackage(context.Background(), pkg)
	require.NoError(t, err)
	assert.LessOrEqual(t, api.maxInflight.Load(), int32(3))
	assert.Len(t, st.speeches, 12)
	assert.Equal(t, 1, st.writes)
}

func TestProcessPackageResume(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05"}
	api.granules[pkg.PackageID] = floorGranules(pkg.PackageID, 4)
	api.listErrAt = map[string]int{pkg.PackageID: 2}

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{Workers: 2, PageSize: 2})

	// Interrupted after the first page: rows stored, package not done.
	_, err := o.ProcessPackage(context.Background(), pkg)
	require.Error(t, err)
	assert.Len(t, st.speeches, 2)
	assert.False(t, st.done[pkg.PackageID])

	// Next run reprocesses the whole package without duplicating rows.
	api.listErrAt = nil
	audit, err := o.ProcessPackage(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, 4, audit.Saved)
	assert.Len(t, st.speeches, 4)
	assert.True(t, st.done[pkg.PackageID])
}

func TestProcessPackageCancelledBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05"}
	api.granules[pkg.PackageID] = floorGranules(pkg.PackageID, 2)

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.ProcessPackage(ctx, pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.speeches)
	assert.False(t, st.done[pkg.PackageID])
}

func TestProcessPackageCommitsInFlightPage(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05"}
	api.granules[pkg.PackageID] = floorGranules(pkg.PackageID, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onSummary = cancel // interrupt arrives while page one is being fetched

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{Workers: 2, PageSize: 2})

	audit, err := o.ProcessPackage(ctx, pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Page one finished and was written; page two never started.
	assert.Equal(t, 2, audit.Saved)
	assert.Zero(t, audit.Errors)
	assert.Len(t, st.speeches, 2)
	assert.Equal(t, 1, st.writes)
	assert.False(t, st.done[pkg.PackageID])
}

func TestProcessPackageFinishesLastPageAfterCancel(t *testing.T) {
	api := newFakeAPI()
	pkg := govinfo.Package{PackageID: "CREC-2020-01-05"}
	api.granules[pkg.PackageID] = floorGranules(pkg.PackageID, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onSummary = cancel

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{PageSize: 100})

	audit, err := o.ProcessPackage(ctx, pkg)
	require.NoError(t, err)
	assert.Equal(t, 2, audit.Saved)
	assert.True(t, st.done[pkg.PackageID])
}

func TestProcessPackageEmpty(t *testing.T) {
	api := newFakeAPI()
	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	audit, err := o.ProcessPackage(context.Background(), govinfo.Package{PackageID: "CREC-2020-01-04"})
	require.NoError(t, err)
	assert.Zero(t, audit.Saved)
	assert.True(t, st.done["CREC-2020-01-04"])
	assert.Zero(t, st.writes)
}

func TestRunSkipsDonePackages(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeAPI()
	for _, id := range []string{"CREC-2020-01-06", "CREC-2020-01-03", "CREC-2020-01-07", "CREC-2021-02-01"} {
		api.packages = append(api.packages, govinfo.Package{PackageID: id})
		api.granules[id] = floorGranules(id, 1)
	}
	api.listErrAt = map[string]int{"CREC-2020-01-07": 0}

	st := newMemStore()
	st.done["CREC-2020-01-03"] = true
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	sum, err := o.Run(context.Background(), RangeOpts{StartYear: 2020, EndYear: 2020})
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Resumed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Saved)

	var done []string
	for id := range st.done {
		done = append(done, id)
	}
	sort.Strings(done)
	assert.Equal(t, []string{"CREC-2020-01-03", "CREC-2020-01-06"}, done)
}

func TestRunSinglePackage(t *testing.T) {
	api := newFakeAPI()
	api.packages = []govinfo.Package{{PackageID: "CREC-2020-01-06"}, {PackageID: "CREC-2020-01-07"}}
	api.granules["CREC-2020-01-06"] = floorGranules("CREC-2020-01-06", 2)

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	sum, err := o.Run(context.Background(), RangeOpts{PackageIDs: []string{"CREC-2020-01-06"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 2, sum.Saved)
	assert.False(t, st.done["CREC-2020-01-07"])

	// An unknown package is counted and the rest of the list still runs.
	api.granules["CREC-2020-01-07"] = floorGranules("CREC-2020-01-07", 1)
	sum, err = o.Run(context.Background(), RangeOpts{PackageIDs: []string{"CREC-1999-01-01", "CREC-2020-01-07"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, st.done["CREC-2020-01-07"])
}

func TestRunListingFailureContinues(t *testing.T) {
	api := newFakeAPI()
	for _, id := range []string{"CREC-2019-03-01", "CREC-2020-03-02"} {
		api.packages = append(api.packages, govinfo.Package{PackageID: id})
		api.granules[id] = floorGranules(id, 1)
	}
	api.windowErr = map[string]bool{"2019-01-01": true}

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	sum, err := o.Run(context.Background(), RangeOpts{StartYear: 2019, EndYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Processed)
	assert.False(t, st.done["CREC-2019-03-01"])
	assert.True(t, st.done["CREC-2020-03-02"])
}

func TestRunInterrupted(t *testing.T) {
	api := newFakeAPI()
	api.packages = []govinfo.Package{{PackageID: "CREC-2020-01-06"}}

	st := newMemStore()
	o := NewOrchestrator(api, st, NewLedger(st), nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, RangeOpts{Start: "2020-01-01", End: "2020-01-31"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Empty(t, st.done)
}

func TestRangeOpts(t *testing.T) {
	r, err := RangeOpts{StartYear: 2019, EndYear: 2020}.Ranges()
	require.NoError(t, err)
	assert.Equal(t, []DateRange{
		{Start: "2019-01-01", End: "2019-12-31"},
		{Start: "2020-01-01", End: "2020-12-31"},
	}, r)

	r, err = RangeOpts{Start: "2020-01-01", End: "2020-03-31", StartYear: 1990, EndYear: 1991}.Ranges()
	require.NoError(t, err)
	assert.Equal(t, []DateRange{{Start: "2020-01-01", End: "2020-03-31"}}, r)

	for _, bad := range []RangeOpts{
		{},
		{StartYear: 2021, EndYear: 2020},
		{Start: "2020-01-01"},
		{Start: "2020-13-01", End: "2020-12-31"},
		{Start: "2020-02-01", End: "2020-01-01"},
	} {
		_, err := bad.Ranges()
		assert.Error(t, err, "%+v", bad)
	}
}
