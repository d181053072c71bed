package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/lexicon"
	"github.com/sells-group/crec-cli/internal/model"
	"github.com/sells-group/crec-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// countingReader counts aggregate queries so cache hits are observable.
type countingReader struct {
	Reader
	trends   atomic.Int32
	shares   atomic.Int32
	mentions atomic.Int32
	err      error
}

func (c *countingReader) PhraseMentions(ctx context.Context, phrase string) ([]model.Mention, error) {
	c.mentions.Add(1)
	return c.Reader.PhraseMentions(ctx, phrase)
}

func (c *countingReader) PhraseTrend(ctx context.Context, phrase string, filter bool) ([]model.TrendRow, error) {
	c.trends.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Reader.PhraseTrend(ctx, phrase, filter)
}

func (c *countingReader) PartisanShare(ctx context.Context, phrase string) ([]model.ShareRow, error) {
	c.shares.Add(1)
	return c.Reader.PartisanShare(ctx, phrase)
}

func newTestServer(t *testing.T) (*httptest.Server, *countingReader) {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith seeds the labeled fixture, then adds extra speeches
// without labels.
func newTestServerWith(t *testing.T, extra []model.Speech, opts ...Option) (*httptest.Server, *countingReader) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "crec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	var speeches []model.Speech
	add := func(n int, prefix, party, session, text string, date int) {
		for i := 0; i < n; i++ {
			speeches = append(speeches, model.Speech{
				SpeechID:        fmt.Sprintf("%s-%d", prefix, i),
				Text:            text,
				Date:            date,
				Party:           party,
				CongressSession: session,
			})
		}
	}
	add(3, "d116", "D", "116", "We must address climate change now.", 20200105)
	add(7, "r116", "R", "116", "Climate change policy hurts jobs.", 20200105)
	add(2, "p116", "R", "116", "I yield back on climate change.", 20200106)
	add(1, "d99", "D", "99", "Acid rain and climate change.", 19850301)
	_, err = st.UpsertSpeeches(ctx, speeches)
	require.NoError(t, err)

	var updates []model.ProcedureUpdate
	for _, s := range speeches {
		label := 0
		if s.SpeechID[0] == 'p' {
			label = 1
		}
		updates = append(updates, model.ProcedureUpdate{SpeechID: s.SpeechID, IsProcedure: label})
	}
	_, err = st.SetProcedure(ctx, updates)
	require.NoError(t, err)
	if len(extra) > 0 {
		_, err = st.UpsertSpeeches(ctx, extra)
		require.NoError(t, err)
	}

	reader := &countingReader{Reader: st}
	srv := httptest.NewServer(NewServer(reader, time.Minute, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, reader
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	resp := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestGetSpeech(t *testing.T) {
	srv, _ := newTestServer(t)

	var sp model.Speech
	resp := getJSON(t, srv.URL+"/speeches/d116-0", &sp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "D", sp.Party)
	require.NotNil(t, sp.IsProcedure)
	assert.Equal(t, 0, *sp.IsProcedure)

	resp = getJSON(t, srv.URL+"/speeches/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSpeeches(t *testing.T) {
	srv, _ := newTestServer(t)

	// Procedural rows are hidden unless the caller opts out.
	var filtered []model.Speech
	getJSON(t, srv.URL+"/sessions/116/speeches", &filtered)
	assert.Len(t, filtered, 10)

	var all []model.Speech
	getJSON(t, srv.URL+"/sessions/116/speeches?filter_proc=false", &all)
	assert.Len(t, all, 12)

	var limited []model.Speech
	getJSON(t, srv.URL+"/sessions/116/speeches?limit=4", &limited)
	assert.Len(t, limited, 4)

	var empty []model.Speech
	resp := getJSON(t, srv.URL+"/sessions/42/speeches", &empty)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/sessions/116/speeches?limit=-1", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/sessions/116/speeches?filter_proc=maybe", nil).StatusCode)
}

func TestPartisanShareCached(t *testing.T) {
	srv, reader := newTestServer(t)

	var rows []model.ShareRow
	resp := getJSON(t, srv.URL+"/partisan-share?phrase=Climate+Change", &rows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	require.Len(t, rows, 2)
	assert.Equal(t, "99", rows[0].CongressSession)
	assert.Equal(t, "116", rows[1].CongressSession)
	assert.Equal(t, int64(3), rows[1].DCount)
	assert.Equal(t, int64(7), rows[1].RCount)
	assert.InDelta(t, 0.7, rows[1].RepShare, 1e-9)

	resp = getJSON(t, srv.URL+"/partisan-share?phrase=climate+change", &rows)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, int32(1), reader.shares.Load())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/partisan-share", nil).StatusCode)
}

func testLexicon() *lexicon.Lexicon {
	return lexicon.New(
		map[string]lexicon.Category{
			"environment": {HistoricalTerms: []string{"Climate_Change", "acid rain"}},
			"energy":      {HistoricalTerms: []string{"energy prices"}},
		},
		map[string][]string{lexicon.ProceduralBigramsList: {
			"i yield", "yield back", "the balance", "balance of", "of my", "my time",
		}},
	)
}

func unlabeled(id, party, text string) model.Speech {
	return model.Speech{SpeechID: id, Text: text, Date: 20210105, Party: party, CongressSession: "117"}
}

func TestPartisanShareBigramMode(t *testing.T) {
	extra := []model.Speech{
		unlabeled("u1", "D", "We must act on climate change to protect farms, coastal towns and the jobs of our children."),
		unlabeled("u2", "D", "Climate change is already costing our farmers billions in lost crops every single year."),
		unlabeled("u3", "R", "The climate change rules will raise energy prices for working families in every state."),
		unlabeled("u4", "R", "I yield back the balance of my time on climate change thank you"),
		unlabeled("u5", "R", "Climate change."), // too short to be substantive
	}
	srv, reader := newTestServerWith(t, extra, WithLexicon(testLexicon()))

	// Label mode ignores unclassified speeches.
	var labeled []model.ShareRow
	getJSON(t, srv.URL+"/partisan-share?phrase=climate+change", &labeled)
	require.Len(t, labeled, 2)

	var rows []model.ShareRow
	resp := getJSON(t, srv.URL+"/partisan-share?phrase=climate+change&mode=bigram", &rows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"99", "116", "117"}, []string{rows[0].CongressSession, rows[1].CongressSession, rows[2].CongressSession})
	// Labeled rows pass through; procedural ones stay out.
	assert.Equal(t, int64(3), rows[1].DCount)
	assert.Equal(t, int64(7), rows[1].RCount)
	// Unclassified rows are admitted by the failsafe only.
	assert.Equal(t, int64(2), rows[2].DCount)
	assert.Equal(t, int64(1), rows[2].RCount)
	assert.InDelta(t, 1.0/3.0, rows[2].RepShare, 1e-9)

	resp = getJSON(t, srv.URL+"/partisan-share?phrase=Climate+Change&mode=BIGRAM", &rows)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, int32(1), reader.mentions.Load())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/partisan-share?phrase=tax&mode=fuzzy", nil).StatusCode)
}

func TestBigramModeNeedsLexicon(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := getJSON(t, srv.URL+"/partisan-share?phrase=tax&mode=bigram", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = getJSON(t, srv.URL+"/speeches/d116-0/policy-terms", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPolicyTerms(t *testing.T) {
	srv, _ := newTestServerWith(t, nil, WithLexicon(testLexicon()))

	var body struct {
		SpeechID string                `json:"speech_id"`
		Terms    []lexicon.PolicyMatch `json:"terms"`
	}
	resp := getJSON(t, srv.URL+"/speeches/d99-0/policy-terms", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "d99-0", body.SpeechID)
	assert.Equal(t, []lexicon.PolicyMatch{
		{Term: "acid rain", Category: "environment", Count: 1},
		{Term: "climate change", Category: "environment", Count: 1},
	}, body.Terms)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/speeches/missing/policy-terms", nil).StatusCode)
}

func TestTrend(t *testing.T) {
	srv, reader := newTestServer(t)

	var rows []model.TrendRow
	getJSON(t, srv.URL+"/trends?phrase=climate", &rows)
	assert.Equal(t, []model.TrendRow{
		{Year: 1985, Party: "D", Count: 1},
		{Year: 2020, Party: "D", Count: 3},
		{Year: 2020, Party: "R", Count: 7},
	}, rows)

	getJSON(t, srv.URL+"/trends?phrase=climate&filter_proc=0", &rows)
	assert.Equal(t, int64(9), rows[2].Count)
	assert.Equal(t, int32(2), reader.trends.Load())
}

func TestQueryErrorIs500(t *testing.T) {
	srv, reader := newTestServer(t)
	reader.err = errors.New("database is locked")

	resp := getJSON(t, srv.URL+"/trends?phrase=tax", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/trends", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestReadOnlyRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/speeches/d116-0", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
