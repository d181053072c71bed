// Package ingest turns document API packages into stored speeches.
package ingest

import (
	"context"
	"strings"

	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/model"
	"github.com/sells-group/crec-cli/internal/speaker"
	"github.com/sells-group/crec-cli/internal/textclean"
)

// Status is the terminal state of one granule.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusSkip    Status = "SKIP"
	StatusError   Status = "ERROR"
)

// Outcome reasons.
const (
	ReasonNotFloor     = "Not Floor Speech"
	ReasonMatter       = "Front/BackMatter"
	ReasonMetadata     = "Metadata Fail"
	ReasonNoTextLink   = "No Text Link"
	ReasonTextDownload = "Text Download Fail"
	ReasonEmpty        = "Empty/Header Only"
)

// DefaultMinTextLen is the shortest normalized text kept as a speech.
const DefaultMinTextLen = 50

var floorMarkers = []string{"PgH", "PgS", "PGH", "PGS"}

// Source is the part of the document API a worker reads from.
type Source interface {
	GranuleSummary(ctx context.Context, link string) (*govinfo.Summary, error)
	DownloadText(ctx context.Context, link string) ([]byte, error)
}

// PackageContext carries what a worker knows about the enclosing package.
type PackageContext struct {
	PackageID string
	Date      int    // YYYYMMDD, 0 if unknown
	Congress  string // model.Unknown when the package did not say
}

// Outcome is the result of processing one granule. Speech is set only on
// success; Err holds the underlying cause of an error outcome.
type Outcome struct {
	Status    Status
	Reason    string
	GranuleID string
	Speech    *model.Speech
	Err       error
}

// Worker processes single granules. It holds no mutable state and is safe
// for concurrent use.
type Worker struct {
	src        Source
	minTextLen int
}

// NewWorker creates a Worker. minTextLen <= 0 selects DefaultMinTextLen.
func NewWorker(src Source, minTextLen int) *Worker {
	if minTextLen <= 0 {
		minTextLen = DefaultMinTextLen
	}
	return &Worker{src: src, minTextLen: minTextLen}
}

// IsFloorSpeech reports whether a granule id names a House or Senate floor
// page that is not front or back matter. The second result is the skip
// reason when it is not.
func IsFloorSpeech(granuleID string) (bool, string) {
	floor := false
	for _, m := range floorMarkers {
		if strings.Contains(granuleID, m) {
			floor = true
			break
		}
	}
	if !floor {
		return false, ReasonNotFloor
	}
	if strings.Contains(granuleID, "FrontMatter") || strings.Contains(granuleID, "BackMatter") {
		return false, ReasonMatter
	}
	return true, ""
}

// Process runs one granule to a terminal outcome.
func (w *Worker) Process(ctx context.Context, g govinfo.Granule, pc PackageContext) Outcome {
	out := Outcome{GranuleID: g.GranuleID}

	if ok, reason := IsFloorSpeech(g.GranuleID); !ok {
		out.Status, out.Reason = StatusSkip, reason
		return out
	}

	summary, err := w.src.GranuleSummary(ctx, g.GranuleLink)
	if err != nil {
		out.Status, out.Reason, out.Err = StatusError, ReasonMetadata, err
		return out
	}

	if summary.Download.TxtLink == "" {
		out.Status, out.Reason = StatusError, ReasonNoTextLink
		return out
	}

	body, err := w.src.DownloadText(ctx, summary.Download.TxtLink)
	if err != nil {
		out.Status, out.Reason, out.Err = StatusError, ReasonTextDownload, err
		return out
	}

	text := textclean.Normalize(textclean.StripMarkup(textclean.Decode(body)))
	if len([]rune(text)) < w.minTextLen {
		out.Status, out.Reason = StatusSkip, ReasonEmpty
		return out
	}

	sp := speaker.Resolve(summary.Members, text)

	congress := pc.Congress
	if congress == "" || congress == model.Unknown {
		congress = summary.Congress.Or("0")
	}

	out.Status = StatusSuccess
	out.Speech = &model.Speech{
		SpeechID:        g.GranuleID,
		Text:            text,
		Date:            pc.Date,
		SpeakerID:       sp.ID,
		SpeakerName:     sp.Name,
		Party:           sp.Party,
		State:           sp.State,
		LastName:        sp.LastName,
		FirstName:       sp.FirstName,
		IsMapped:        sp.IsMapped,
		CongressSession: congress,
	}
	return out
}
