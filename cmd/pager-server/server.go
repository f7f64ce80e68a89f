package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
	"github.com/Sternrassler/scroll-pager/pkg/metrics"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
)

// fetchFactory builds the fetch function for one search.
type fetchFactory func(params url.Values) pager.FetchFunc[json.RawMessage]

// warmFunc loads pages 1..pages of a search into the page cache and returns
// how many were non-empty.
type warmFunc func(ctx context.Context, params url.Values, pages int) (int, error)

// maxWarmPages bounds a single warm request.
const maxWarmPages = 100

// resultBody is the wire form of a pager result.
type resultBody struct {
	Items  []json.RawMessage `json:"items"`
	Window pager.WindowState `json:"window"`
	Error  *errorBody        `json:"error,omitempty"`
}

type errorBody struct {
	Message   string          `json:"message"`
	Page      int             `json:"page,omitempty"`
	Direction pager.Direction `json:"direction,omitempty"`
}

func newResultBody(r pager.Result[json.RawMessage]) resultBody {
	body := resultBody{Items: r.Items, Window: r.Window}
	if body.Items == nil {
		body.Items = []json.RawMessage{}
	}
	if r.Err != nil {
		body.Error = &errorBody{Message: r.Err.Error()}
		var fetchErr *pager.FetchError
		if errors.As(r.Err, &fetchErr) {
			body.Error.Page = fetchErr.Page
			body.Error.Direction = fetchErr.Direction
		}
	}
	return body
}

type server struct {
	pager       *pager.Pager[json.RawMessage]
	newFetch    fetchFactory
	searchParam string
	logger      zerolog.Logger

	// warm is nil when no page cache is configured.
	warm warmFunc

	// starts serializes session replacement so stream always belongs to
	// the newest session.
	starts sync.Mutex

	mu     sync.RWMutex
	stream *pager.Stream[json.RawMessage]
}

func newServer(p *pager.Pager[json.RawMessage], newFetch fetchFactory, searchParam string) *server {
	return &server{
		pager:       p,
		newFetch:    newFetch,
		searchParam: searchParam,
		logger:      logging.NewLogger("server"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /session", s.sessionHandler)
	mux.HandleFunc("POST /scroll", s.scrollHandler)
	mux.HandleFunc("GET /window", s.windowHandler)
	mux.HandleFunc("GET /events", s.eventsHandler)
	mux.HandleFunc("POST /warm", s.warmHandler)
	return mux
}

func (s *server) currentStream() *pager.Stream[json.RawMessage] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// searchParams maps q to the upstream search parameter and forwards other
// query parameters unchanged, except those in skip.
func (s *server) searchParams(r *http.Request, skip ...string) url.Values {
	params := url.Values{}
	for key, values := range r.URL.Query() {
		if key == "q" || slices.Contains(skip, key) {
			continue
		}
		params[key] = values
	}
	if q := r.URL.Query().Get("q"); q != "" {
		params.Set(s.searchParam, q)
	}
	return params
}

// sessionHandler starts a new search.
func (s *server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	params := s.searchParams(r)

	s.starts.Lock()
	stream, err := s.pager.StartSession(s.newFetch(params))
	if err == nil {
		s.mu.Lock()
		s.stream = stream
		s.mu.Unlock()
	}
	s.starts.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: err.Error()})
		return
	}

	result, _ := stream.Latest()
	s.logger.Info().
		Str("query", params.Encode()).
		Bool("ok", result.OK()).
		Int("items", len(result.Items)).
		Msg("Session started")

	status := http.StatusOK
	if !result.OK() {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, newResultBody(result))
}

func (s *server) scrollHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || index < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Message: "index must be a non-negative integer"})
		return
	}
	if s.currentStream() == nil {
		s.writeJSON(w, http.StatusConflict, errorBody{Message: "no active session"})
		return
	}

	s.pager.ReportVisibleIndex(index)
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) windowHandler(w http.ResponseWriter, r *http.Request) {
	stream := s.currentStream()
	if stream == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Message: "no active session"})
		return
	}
	result, ok := stream.Latest()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody{Message: "no result yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, newResultBody(result))
}

// eventsHandler streams results of the current session as server-sent
// events. The stream ends when the session is replaced.
func (s *server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	stream := s.currentStream()
	if stream == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Message: "no active session"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for result := range stream.Subscribe(r.Context()) {
		data, err := json.Marshal(newResultBody(result))
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode result")
			return
		}
		if _, err := fmt.Fprintf(w, "event: result\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}

	if r.Context().Err() == nil {
		fmt.Fprint(w, "event: end\ndata: {}\n\n")
		flusher.Flush()
	}
}

// warmHandler preloads the first pages of a search into the page cache.
func (s *server) warmHandler(w http.ResponseWriter, r *http.Request) {
	if s.warm == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Message: "page cache is not configured"})
		return
	}
	pages, err := strconv.Atoi(r.URL.Query().Get("pages"))
	if err != nil || pages < 1 || pages > maxWarmPages {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Message: fmt.Sprintf("pages must be an integer in 1..%d", maxWarmPages),
		})
		return
	}

	params := s.searchParams(r, "pages")
	warmed, err := s.warm(r.Context(), params, pages)
	if err != nil {
		s.logger.Warn().Err(err).Int("warmed", warmed).Msg("Cache warm incomplete")
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"pages": warmed, "error": err.Error()})
		return
	}

	s.logger.Info().Str("query", params.Encode()).Int("pages", warmed).Msg("Cache warmed")
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": warmed})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
