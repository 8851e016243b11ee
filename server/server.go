// Package server exposes the search engine over a small HTTP API:
// GET /api/search, GET /api/messages/{id}, GET /api/ledger, plus
// /healthz and /metrics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/ledger"
	"github.com/poiesic/recall/search"
	"github.com/poiesic/recall/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrEngineRequired is returned when a search engine is not provided.
var ErrEngineRequired = errors.New("search engine required")

// Server routes HTTP requests to the search engine and activity ledger.
type Server struct {
	engine   *search.Engine
	recorder *ledger.Recorder
	logger   *slog.Logger
}

// NewServer creates an HTTP API server. The recorder may be nil, in
// which case /api/ledger reports an empty history.
func NewServer(engine *search.Engine, recorder *ledger.Recorder) (*Server, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}
	return &Server{
		engine:   engine,
		recorder: recorder,
		logger:   slog.Default().With("component", "http"),
	}, nil
}

// Router builds the chi handler with logging and metrics middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Get("/ledger", s.handleLedger)
	})

	return r
}

type messageJSON struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Project        string    `json:"project,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
}

type hitJSON struct {
	messageJSON
	Score         float32  `json:"score"`
	LexicalScore  *float32 `json:"lexical_score,omitempty"`
	SemanticScore *float32 `json:"semantic_score,omitempty"`
}

type countsJSON struct {
	Lexical  int `json:"lexical"`
	Semantic int `json:"semantic"`
	Merged   int `json:"merged"`
}

type searchResponseJSON struct {
	Hits     []hitJSON  `json:"hits"`
	Counts   countsJSON `json:"counts"`
	Warnings []string   `json:"warnings,omitempty"`
}

type conversationJSON struct {
	Id           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Project      string    `json:"project,omitempty"`
	SpanStart    time.Time `json:"span_start"`
	SpanEnd      time.Time `json:"span_end"`
	MessageCount int       `json:"message_count"`
}

type groupJSON struct {
	Conversation conversationJSON `json:"conversation"`
	Hits         []hitJSON        `json:"hits"`
}

type groupedResponseJSON struct {
	Groups   []groupJSON `json:"groups"`
	Counts   countsJSON  `json:"counts"`
	Warnings []string    `json:"warnings,omitempty"`
}

type ledgerEventJSON struct {
	Id         string            `json:"id"`
	Kind       string            `json:"kind"`
	Status     string            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Seconds    float64           `json:"seconds"`
	Params     map[string]string `json:"params,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Group {
		result, err := s.engine.SearchGrouped(r.Context(), req)
		if err != nil {
			s.writeSearchError(w, err)
			return
		}
		countWarnings(result.Warnings)
		writeJSON(w, http.StatusOK, groupedToJSON(result))
		return
	}

	result, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	countWarnings(result.Warnings)
	writeJSON(w, http.StatusOK, searchToJSON(result))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	message, err := s.engine.GetMessage(r.Context(), core.ID(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("message lookup failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, messageToJSON(message))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events := []ledgerEventJSON{}
	if s.recorder != nil {
		recent, err := s.recorder.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("ledger read failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, e := range recent {
			events = append(events, ledgerEventJSON{
				Id:         e.Id,
				Kind:       e.Kind,
				Status:     e.Status,
				StartedAt:  e.StartedAt,
				FinishedAt: e.FinishedAt,
				Seconds:    e.Seconds,
				Params:     e.Params,
				Error:      e.Error,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	if errors.Is(err, search.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("search failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// requestFromQuery maps query parameters onto a search request. String
// fields pass through untouched; the query planner validates them.
func requestFromQuery(r *http.Request) (search.Request, error) {
	q := r.URL.Query()
	req := search.Request{
		Terms:   q.Get("q"),
		Role:    q.Get("role"),
		Project: q.Get("project"),
		Since:   q.Get("since"),
		Until:   q.Get("until"),
	}

	var err error
	if req.TopK, err = intParam(q.Get("top"), "top"); err != nil {
		return req, err
	}
	if req.Convos, err = intParam(q.Get("convos"), "convos"); err != nil {
		return req, err
	}
	if req.PerConvo, err = intParam(q.Get("per_convo"), "per_convo"); err != nil {
		return req, err
	}
	req.Group = q.Get("group") == "true" || q.Get("group") == "1"
	return req, nil
}

func intParam(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}

func messageToJSON(m *core.Message) messageJSON {
	return messageJSON{
		Id:             strconv.FormatUint(uint64(m.Id), 10),
		ConversationId: strconv.FormatUint(uint64(m.ConversationId), 10),
		Role:           m.Role.String(),
		Project:        m.Project,
		Timestamp:      m.Timestamp,
		Text:           m.Text,
	}
}

func hitToJSON(h search.Hit) hitJSON {
	out := hitJSON{messageJSON: messageToJSON(h.Message), Score: h.Score}
	if h.HasLexical {
		v := h.LexicalScore
		out.LexicalScore = &v
	}
	if h.HasSemantic {
		v := h.SemanticScore
		out.SemanticScore = &v
	}
	return out
}

func searchToJSON(result *search.Result) searchResponseJSON {
	hits := make([]hitJSON, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, hitToJSON(h))
	}
	return searchResponseJSON{
		Hits:     hits,
		Counts:   countsJSON(result.Counts),
		Warnings: result.Warnings,
	}
}

func groupedToJSON(result *search.GroupedResult) groupedResponseJSON {
	groups := make([]groupJSON, 0, len(result.Groups))
	for _, g := range result.Groups {
		hits := make([]hitJSON, 0, len(g.Hits))
		for _, h := range g.Hits {
			hits = append(hits, hitToJSON(h))
		}
		groups = append(groups, groupJSON{
			Conversation: conversationJSON{
				Id:           strconv.FormatUint(uint64(g.Conversation.Id), 10),
				Title:        g.Conversation.Title,
				Project:      g.Conversation.Project,
				SpanStart:    g.Conversation.SpanStart,
				SpanEnd:      g.Conversation.SpanEnd,
				MessageCount: g.Conversation.MessageCount,
			},
			Hits: hits,
		})
	}
	return groupedResponseJSON{
		Groups:   groups,
		Counts:   countsJSON(result.Counts),
		Warnings: result.Warnings,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorJSON{Error: message})
}
