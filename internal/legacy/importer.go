package legacy

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/model"
)

// Session bounds and the write chunk size.
const (
	FirstSession     = 43
	LastSession      = 114
	DefaultChunkSize = 10000
)

const noText = "[No Text]"

// Writer persists speeches.
type Writer interface {
	UpsertSpeeches(ctx context.Context, speeches []model.Speech) (int64, error)
}

// Summary totals an import.
type Summary struct {
	Imported int // sessions written
	Missing  int // sessions without all three files
	Failed   int // sessions that could not be parsed
	Rows     int
	Skipped  int // malformed lines dropped
}

// Importer rebuilds speeches from session files under a directory.
type Importer struct {
	w     Writer
	dir   string
	chunk int
	log   *zap.Logger
}

// NewImporter creates an Importer. chunk <= 0 uses DefaultChunkSize.
func NewImporter(w Writer, dir string, chunk int) *Importer {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Importer{
		w:     w,
		dir:   dir,
		chunk: chunk,
		log:   zap.L().With(zap.String("component", "legacy")),
	}
}

// LoadSession parses session n and left-joins descriptions and speaker maps
// onto the speeches by speech_id.
func LoadSession(dir string, n int) ([]model.Speech, int, error) {
	files := FilesFor(dir, n)
	speeches, err := ReadTableFile(files.Speeches)
	if err != nil {
		return nil, 0, err
	}
	descr, err := ReadTableFile(files.Descr)
	if err != nil {
		return nil, 0, err
	}
	smap, err := ReadTableFile(files.SpeakerMap)
	if err != nil {
		return nil, 0, err
	}
	if !hasColumn(speeches, "speech_id") {
		return nil, 0, eris.Errorf("legacy: session %d speeches file has no speech_id column", n)
	}

	descrIdx := descr.Index("speech_id")
	smapIdx := smap.Index("speech_id")
	session := strconv.Itoa(n)

	out := make([]model.Speech, 0, len(speeches.Rows))
	for _, row := range speeches.Rows {
		id := row["speech_id"]
		if id == "" {
			continue
		}
		d := descrIdx[id]
		m := smapIdx[id]
		out = append(out, buildSpeech(id, row["speech"], d, m, session))
	}
	skipped := speeches.Skipped + descr.Skipped + smap.Skipped
	return out, skipped, nil
}

func buildSpeech(id, text string, d, m map[string]string, session string) model.Speech {
	sp := model.Speech{
		SpeechID:        id,
		Text:            or(text, noText),
		SpeakerID:       model.NoSpeakerID,
		Party:           or(m["party"], model.Unknown),
		State:           or(d["state"], model.Unknown),
		LastName:        or(m["lastname"], model.Unknown),
		FirstName:       or(m["firstname"], model.Unknown),
		CongressSession: session,
	}
	if date, err := strconv.Atoi(d["date"]); err == nil {
		sp.Date = date
	}
	if sid := m["speakerid"]; sid != "" {
		sp.IsMapped = true
		if n, err := strconv.Atoi(sid); err == nil {
			sp.SpeakerID = n
		}
	}
	sp.SpeakerName = or(strings.TrimSpace(m["firstname"]+" "+m["lastname"]), model.UnknownSpeaker)
	return sp
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func hasColumn(t *Table, col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Import loads sessions from..to. A session that is missing or fails to
// parse is logged and skipped; a store write failure or cancellation stops
// the import.
func (im *Importer) Import(ctx context.Context, from, to int) (*Summary, error) {
	if from > to {
		return nil, eris.Errorf("legacy: session range %d..%d is empty", from, to)
	}
	sum := &Summary{}
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := im.log.With(zap.Int("session", n))
		if !FilesFor(im.dir, n).Exist() {
			sum.Missing++
			log.Debug("session files missing")
			continue
		}

		rows, skipped, err := LoadSession(im.dir, n)
		sum.Skipped += skipped
		if err != nil {
			sum.Failed++
			log.Error("session parse failed", zap.Error(err))
			continue
		}

		if err := im.write(ctx, rows); err != nil {
			return sum, eris.Wrapf(err, "legacy: write session %d", n)
		}
		sum.Imported++
		sum.Rows += len(rows)
		log.Info("session committed",
			zap.Int("rows", len(rows)),
			zap.Int("skipped_lines", skipped),
			zap.Float64("match_rate", matchRate(rows)),
		)
	}
	return sum, nil
}

func (im *Importer) write(ctx context.Context, rows []model.Speech) error {
	for i := 0; i < len(rows); i += im.chunk {
		if _, err := im.w.UpsertSpeeches(ctx, rows[i:min(i+im.chunk, len(rows))]); err != nil {
			return err
		}
	}
	return nil
}

// matchRate is the percentage of rows with a mapped speaker.
func matchRate(rows []model.Speech) float64 {
	if len(rows) == 0 {
		return 0
	}
	mapped := 0
	for _, r := range rows {
		if r.IsMapped {
			mapped++
		}
	}
	return float64(mapped) / float64(len(rows)) * 100
}
