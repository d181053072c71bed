package classify

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/model"
)

// DefaultKeywords are the phrases whose presence marks a short speech as
// procedural in stage A.
var DefaultKeywords = []string{
	"yield back", "yield the floor", "without objection", "so ordered",
	"move to adjourn", "clerk will report", "recognize the gentleman",
	"recognize the gentlewoman", "unanimous consent", "ask for the yeas and nays",
	"quorum call", "resume consideration", "motion to reconsider",
	"mr. speaker", "madam speaker", "mr. president", "madam president",
}

// Defaults.
const (
	DefaultChunkSize   = 50000
	DefaultBatchSize   = 1024
	DefaultThreshold   = 0.70
	DefaultPurgeMaxLen = 500
)

// Store is the slice of the speech store the pipeline reads and labels.
type Store interface {
	ListUnclassified(ctx context.Context, maxLen, limit int) ([]model.Candidate, error)
	SetProcedure(ctx context.Context, updates []model.ProcedureUpdate) (int64, error)
}

// Options tunes a Pipeline. Zero values take the defaults.
type Options struct {
	ChunkSize   int
	BatchSize   int
	Threshold   float64
	PurgeMaxLen int
	Keywords    []string
}

// Pipeline runs the two classification stages against a Store.
type Pipeline struct {
	store    Store
	clf      ZeroShotClassifier
	opts     Options
	keywords []string
	log      *zap.Logger
}

// NewPipeline wires a Pipeline. clf may be nil when only Purge is run.
func NewPipeline(store Store, clf ZeroShotClassifier, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.PurgeMaxLen <= 0 {
		opts.PurgeMaxLen = DefaultPurgeMaxLen
	}
	kw := opts.Keywords
	if len(kw) == 0 {
		kw = DefaultKeywords
	}
	lowered := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Pipeline{
		store:    store,
		clf:      clf,
		opts:     opts,
		keywords: lowered,
		log:      zap.L().With(zap.String("component", "classify")),
	}
}

// MatchesKeyword reports whether text contains any purge keyword,
// ignoring case.
func (p *Pipeline) MatchesKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range p.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Purge labels every unclassified speech shorter than the purge length that
// contains a procedural keyword. It returns the number of rows labeled.
func (p *Pipeline) Purge(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cands, err := p.store.ListUnclassified(ctx, p.opts.PurgeMaxLen, 0)
	if err != nil {
		return 0, eris.Wrap(err, "classify: list purge candidates")
	}
	if len(cands) == 0 {
		p.log.Info("no candidates for purge")
		return 0, nil
	}
	p.log.Info("scanning purge candidates", zap.Int("candidates", len(cands)))

	var updates []model.ProcedureUpdate
	for _, c := range cands {
		if p.MatchesKeyword(c.Text) {
			updates = append(updates, model.ProcedureUpdate{SpeechID: c.SpeechID, IsProcedure: 1})
		}
	}
	if len(updates) == 0 {
		p.log.Info("no procedural matches found")
		return 0, nil
	}
	n, err := p.store.SetProcedure(context.WithoutCancel(ctx), updates)
	if err != nil {
		return 0, eris.Wrap(err, "classify: write purge labels")
	}
	p.log.Info("purge complete", zap.Int("matches", len(updates)), zap.Int64("updated", n))
	return n, nil
}

// Label maps a prediction to is_procedure: 1 only when the top label is
// administrative procedure with a score strictly above the threshold.
func (p *Pipeline) Label(r Result) int {
	label, score := r.Top()
	if label == LabelProcedure && score > p.opts.Threshold {
		return 1
	}
	return 0
}

// Classify labels unclassified speeches chunk by chunk until none remain.
// Each chunk is written in one update. Any backend or store error aborts the
// run. Cancellation is honored between chunks only: a chunk that has been
// listed is classified and written on a context detached from ctx.
func (p *Pipeline) Classify(ctx context.Context) (int64, error) {
	if p.clf == nil {
		return 0, eris.New("classify: no classifier configured")
	}
	work := context.WithoutCancel(ctx)
	var total int64
	for chunk := 1; ; chunk++ {
		if err := ctx.Err(); err != nil {
			p.log.Warn("classification interrupted", zap.Int("next_chunk", chunk), zap.Int64("labeled", total))
			return total, err
		}
		cands, err := p.store.ListUnclassified(ctx, 0, p.opts.ChunkSize)
		if err != nil {
			return total, eris.Wrap(err, "classify: list unclassified")
		}
		if len(cands) == 0 {
			p.log.Info("classification complete", zap.Int64("labeled", total))
			return total, nil
		}
		p.log.Info("processing chunk", zap.Int("chunk", chunk), zap.Int("speeches", len(cands)))

		updates, err := p.classifyChunk(work, cands)
		if err != nil {
			return total, err
		}
		n, err := p.store.SetProcedure(work, updates)
		if err != nil {
			return total, eris.Wrap(err, "classify: write labels")
		}
		total += n
		if n == 0 {
			// Nothing changed, so the next fetch would return the same chunk.
			return total, eris.Errorf("classify: chunk %d updated no rows", chunk)
		}
	}
}

func (p *Pipeline) classifyChunk(ctx context.Context, cands []model.Candidate) ([]model.ProcedureUpdate, error) {
	updates := make([]model.ProcedureUpdate, 0, len(cands))
	for i := 0; i < len(cands); i += p.opts.BatchSize {
		batch := cands[i:min(i+p.opts.BatchSize, len(cands))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		results, err := p.clf.Classify(ctx, texts, Labels)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: batch at %d", i)
		}
		if len(results) != len(batch) {
			return nil, eris.Errorf("classify: %d results for batch of %d", len(results), len(batch))
		}
		for j, c := range batch {
			updates = append(updates, model.ProcedureUpdate{SpeechID: c.SpeechID, IsProcedure: p.Label(results[j])})
		}
	}
	return updates, nil
}

// Stage selects which stages Run executes.
type Stage string

// Stages.
const (
	StagePurge    Stage = "a"
	StageClassify Stage = "b"
	StageAll      Stage = "all"
)

// ParseStage validates a --stage value.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(s)) {
	case StagePurge, StageClassify, StageAll:
		return Stage(strings.ToLower(s)), nil
	}
	return "", eris.Errorf("classify: unknown stage %q (want a, b or all)", s)
}

// RunSummary reports rows labeled per stage.
type RunSummary struct {
	Purged     int64
	Classified int64
}

// Run executes the selected stages in order.
func (p *Pipeline) Run(ctx context.Context, stage Stage) (*RunSummary, error) {
	sum := &RunSummary{}
	var err error
	if stage == StagePurge || stage == StageAll {
		if sum.Purged, err = p.Purge(ctx); err != nil {
			return sum, err
		}
	}
	if stage == StageClassify || stage == StageAll {
		if sum.Classified, err = p.Classify(ctx); err != nil {
			return sum, err
		}
	}
	return sum, nil
}
