package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const (
	// llmConcurrency bounds in-flight chat requests per batch.
	llmConcurrency = 8
	// maxPromptRunes truncates long speeches before they are sent.
	maxPromptRunes = 6000
)

func systemPrompt(labels []string) string {
	return fmt.Sprintf(`You label passages from the Congressional Record.
Choose exactly one label from: %s.
"%s" means floor mechanics such as yielding time, unanimous consent requests, quorum calls, motions and recognitions.
"%s" means substantive argument about policy.
Reply with only a JSON object: {"label": "<label>", "score": <confidence between 0 and 1>}`,
		strings.Join(quoteAll(labels), ", "), LabelProcedure, LabelDebate)
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = `"` + s + `"`
	}
	return out
}

func promptText(text string) string {
	r := []rune(text)
	if len(r) > maxPromptRunes {
		r = r[:maxPromptRunes]
	}
	return string(r)
}

type llmAnswer struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// parseAnswer turns a chat reply into a Result. The chosen label leads with
// its score; the remaining labels share what is left.
func parseAnswer(reply string, labels []string) (Result, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return Result{}, eris.Errorf("classify: no JSON object in reply %q", truncate(reply, 80))
	}
	var a llmAnswer
	if err := json.Unmarshal([]byte(reply[start:end+1]), &a); err != nil {
		return Result{}, eris.Wrap(err, "classify: decode reply")
	}

	chosen := ""
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(a.Label), l) {
			chosen = l
			break
		}
	}
	if chosen == "" {
		return Result{}, eris.Errorf("classify: reply label %q is not a candidate", a.Label)
	}
	score := min(max(a.Score, 0), 1)

	res := Result{Labels: []string{chosen}, Scores: []float64{score}}
	if rest := len(labels) - 1; rest > 0 {
		share := (1 - score) / float64(rest)
		for _, l := range labels {
			if l != chosen {
				res.Labels = append(res.Labels, l)
				res.Scores = append(res.Scores, share)
			}
		}
	}
	return res, nil
}

// classifyEach runs one chat request per text with bounded concurrency.
func classifyEach(ctx context.Context, texts []string, fn func(ctx context.Context, text string) (Result, error)) ([]Result, error) {
	results := make([]Result, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(llmConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			r, err := fn(gctx, text)
			if err != nil {
				return eris.Wrapf(err, "classify: text %d", i)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
