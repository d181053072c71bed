// Package api serves read-only queries over the speech store to the
// dashboard and other readers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/lexicon"
	"github.com/sells-group/crec-cli/internal/model"
	"github.com/sells-group/crec-cli/internal/store"
)

// Session listing bounds.
const (
	DefaultSessionLimit = 100
	MaxSessionLimit     = 1000
)

// Reader is the read side of the speech store.
type Reader interface {
	GetSpeech(ctx context.Context, speechID string) (*model.Speech, error)
	SpeechesBySession(ctx context.Context, session string, limit int, filterProc bool) ([]model.Speech, error)
	PhraseTrend(ctx context.Context, phrase string, filterProc bool) ([]model.TrendRow, error)
	PartisanShare(ctx context.Context, phrase string) ([]model.ShareRow, error)
	PhraseMentions(ctx context.Context, phrase string) ([]model.Mention, error)
	CountProgress(ctx context.Context) (*model.Progress, error)
}

// Partisan-share modes. ShareModeLabel counts speeches classified as
// substantive; ShareModeBigram also admits unclassified speeches that pass
// the lexicon's bigram failsafe.
const (
	ShareModeLabel  = "label"
	ShareModeBigram = "bigram"
)

// Server routes query requests to a Reader. Aggregate results are cached
// for the configured TTL.
type Server struct {
	reader Reader
	lex    *lexicon.Lexicon
	cache  *gocache.Cache
	log    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLexicon enables the bigram share mode and policy-term tagging.
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(s *Server) { s.lex = lex }
}

// NewServer creates a Server. ttl <= 0 uses five minutes.
func NewServer(reader Reader, ttl time.Duration, opts ...Option) *Server {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &Server{
		reader: reader,
		cache:  gocache.New(ttl, 2*ttl),
		log:    zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/speeches/{id}", s.handleSpeech)
	r.Get("/speeches/{id}/policy-terms", s.handlePolicyTerms)
	r.Get("/sessions/{session}/speeches", s.handleSession)
	r.Get("/trends", s.handleTrend)
	r.Get("/partisan-share", s.handleShare)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.reader.CountProgress(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	sp, err := s.reader.GetSpeech(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handlePolicyTerms(w http.ResponseWriter, r *http.Request) {
	if s.lex == nil {
		writeError(w, http.StatusServiceUnavailable, "no lexicon loaded")
		return
	}
	sp, err := s.reader.GetSpeech(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	matches := s.lex.MatchPolicyTerms(sp.Text)
	if matches == nil {
		matches = []lexicon.PolicyMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"speech_id": sp.SpeechID, "terms": matches})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxSessionLimit)
	}
	filter, ok := boolParam(w, r, "filter_proc", true)
	if !ok {
		return
	}

	speeches, err := s.reader.SpeechesBySession(r.Context(), chi.URLParam(r, "session"), limit, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if speeches == nil {
		speeches = []model.Speech{}
	}
	writeJSON(w, http.StatusOK, speeches)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	phrase, ok := phraseParam(w, r)
	if !ok {
		return
	}
	filter, ok := boolParam(w, r, "filter_proc", true)
	if !ok {
		return
	}
	key := "trend|" + strconv.FormatBool(filter) + "|" + phrase
	s.cached(w, r, key, func(ctx context.Context) (any, error) {
		rows, err := s.reader.PhraseTrend(ctx, phrase, filter)
		if rows == nil {
			rows = []model.TrendRow{}
		}
		return rows, err
	})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	phrase, ok := phraseParam(w, r)
	if !ok {
		return
	}
	mode := strings.ToLower(r.URL.Query().Get("mode"))
	switch mode {
	case "", ShareModeLabel:
		s.cached(w, r, "share|"+phrase, func(ctx context.Context) (any, error) {
			rows, err := s.reader.PartisanShare(ctx, phrase)
			if rows == nil {
				rows = []model.ShareRow{}
			}
			return rows, err
		})
	case ShareModeBigram:
		if s.lex == nil {
			writeError(w, http.StatusServiceUnavailable, "no lexicon loaded")
			return
		}
		s.cached(w, r, "share-bigram|"+phrase, func(ctx context.Context) (any, error) {
			mentions, err := s.reader.PhraseMentions(ctx, phrase)
			if err != nil {
				return nil, err
			}
			return bigramShare(mentions, s.lex), nil
		})
	default:
		writeError(w, http.StatusBadRequest, "mode must be label or bigram")
	}
}

// bigramShare splits mentions by party per session. Speeches labeled
// substantive always count; unclassified ones count only when the bigram
// failsafe finds them substantive. Mentions arrive in session order.
func bigramShare(mentions []model.Mention, lex *lexicon.Lexicon) []model.ShareRow {
	out := []model.ShareRow{}
	for _, m := range mentions {
		if m.Party != "D" && m.Party != "R" {
			continue
		}
		if m.IsProcedure == nil {
			if !lex.IsSubstantive(m.Text) {
				continue
			}
		} else if *m.IsProcedure != 0 {
			continue
		}
		if len(out) == 0 || out[len(out)-1].CongressSession != m.CongressSession {
			out = append(out, model.ShareRow{CongressSession: m.CongressSession})
		}
		row := &out[len(out)-1]
		if m.Party == "D" {
			row.DCount++
		} else {
			row.RCount++
		}
		row.Total++
		row.RepShare = model.RepShareOf(row.DCount, row.RCount)
	}
	return out
}

// cached serves key from the cache, computing and storing it on a miss.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, fn func(ctx context.Context) (any, error)) {
	if v, found := s.cache.Get(key); found {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, v)
		return
	}
	v, err := fn(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.cache.SetDefault(key, v)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("query failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func phraseParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	phrase := strings.TrimSpace(r.URL.Query().Get("phrase"))
	if phrase == "" {
		writeError(w, http.StatusBadRequest, "phrase is required")
		return "", false
	}
	return strings.ToLower(phrase), true
}

func boolParam(w http.ResponseWriter, r *http.Request, name string, def bool) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a boolean")
		return false, false
	}
	return b, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
