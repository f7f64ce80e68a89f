package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/scroll-pager/internal/testutil"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
	"github.com/Sternrassler/scroll-pager/pkg/source"
)

type testEnv struct {
	mock   *testutil.MockPageServer
	server *httptest.Server
}

// newTestEnv serves a pager backed by a mock upstream without a page cache;
// /warm fetches through the same uncached fetch functions.

func newTestEnv(t *testing.T, total int) *testEnv {
	t.Helper()

	mock := testutil.NewMockPageServer(total)
	t.Cleanup(mock.Close)

	srcCfg := source.DefaultConfig(mock.URL())
	srcCfg.Retry = source.RetryConfig{MaxAttempts: 1}
	src, err := source.New[json.RawMessage](srcCfg)
	require.NoError(t, err)

	p, err := pager.New[json.RawMessage](pager.Config{
		PageSize:         10,
		CachedPageLimit:  10,
		DebounceInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	newFetch := newFetchFactory(src, nil)
	handler := newServer(p, newFetch, "text")
	handler.warm = newWarmer(newFetch, 10)
	srv := httptest.NewServer(handler.routes())
	t.Cleanup(srv.Close)

	return &testEnv{mock: mock, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func decodeResult(t *testing.T, body []byte) resultBody {
	t.Helper()
	var result resultBody
	require.NoError(t, json.Unmarshal(body, &result), "body: %s", body)
	return result
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", w.Body.String())
	}
}

func TestSession_ReturnsFirstPage(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(t, http.MethodPost, "/session?q=cats&safe_search=1")
	require.Equal(t, http.StatusOK, status)

	result := decodeResult(t, body)
	require.Nil(t, result.Error)
	require.Len(t, result.Items, 10)
	require.Equal(t, pager.WindowState{First: 1, Current: 1, Last: 1, Cached: 1}, result.Window)

	var first testutil.Item
	require.NoError(t, json.Unmarshal(result.Items[0], &first))
	require.Equal(t, testutil.Item{ID: 0, Title: "Photo 0"}, first)

	query := env.mock.GetLastQuery()
	require.Equal(t, "cats", query["text"])
	require.Equal(t, "1", query["safe_search"])
	require.NotContains(t, query, "q")
}

func TestSession_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, 100)
	env.mock.FailPage(1, http.StatusNotFound, 1)

	status, body := env.do(t, http.MethodPost, "/session?q=cats")
	require.Equal(t, http.StatusBadGateway, status)

	result := decodeResult(t, body)
	require.NotNil(t, result.Error)
	require.Equal(t, 1, result.Error.Page)
	require.Equal(t, pager.DirectionNext, result.Error.Direction)
	require.Empty(t, result.Items)
}

func TestScroll_Validation(t *testing.T) {
	env := newTestEnv(t, 100)

	tests := []struct {
		name       string
		path       string
		session    bool
		wantStatus int
	}{
		{name: "no session", path: "/scroll?index=3", wantStatus: http.StatusConflict},
		{name: "missing index", path: "/scroll", session: true, wantStatus: http.StatusBadRequest},
		{name: "negative index", path: "/scroll?index=-1", session: true, wantStatus: http.StatusBadRequest},
		{name: "not a number", path: "/scroll?index=abc", session: true, wantStatus: http.StatusBadRequest},
		{name: "accepted", path: "/scroll?index=3", session: true, wantStatus: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.session {
				status, _ := env.do(t, http.MethodPost, "/session")
				require.Equal(t, http.StatusOK, status)
			}
			status, _ := env.do(t, http.MethodPost, tt.path)
			require.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestWindow_NoSession(t *testing.T) {
	env := newTestEnv(t, 100)

	status, _ := env.do(t, http.MethodGet, "/window")
	require.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/events")
	require.Equal(t, http.StatusNotFound, status)
}

func TestScroll_AdvancesWindow(t *testing.T) {
	env := newTestEnv(t, 100)

	status, _ := env.do(t, http.MethodPost, "/session?q=dogs")
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/scroll?index=9")
	require.Equal(t, http.StatusAccepted, status)

	require.Eventually(t, func() bool {
		status, body := env.do(t, http.MethodGet, "/window")
		if status != http.StatusOK {
			return false
		}
		return decodeResult(t, body).Window.Current == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, body := env.do(t, http.MethodGet, "/window")
	result := decodeResult(t, body)
	require.Equal(t, pager.WindowState{First: 1, Current: 2, Last: 2, Cached: 2}, result.Window)
	require.Len(t, result.Items, 20)
	require.Equal(t, 1, env.mock.GetPageRequests(2))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 100)
	env.do(t, http.MethodPost, "/session")

	status, body := env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "pager_sessions_total")
	require.Contains(t, string(body), "source_requests_total")
}

// readEvent returns the data of the next server-sent event.
func readEvent(t *testing.T, scanner *bufio.Scanner) (string, string) {
	t.Helper()
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatalf("event stream ended: %v", scanner.Err())
	return "", ""
}

func TestEvents_StreamsResults(t *testing.T) {
	env := newTestEnv(t, 100)

	status, _ := env.do(t, http.MethodPost, "/session?q=birds")
	require.Equal(t, http.StatusOK, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	event, data := readEvent(t, scanner)
	require.Equal(t, "result", event)
	require.Equal(t, 1, decodeResult(t, []byte(data)).Window.Current)

	status, _ = env.do(t, http.MethodPost, "/scroll?index=9")
	require.Equal(t, http.StatusAccepted, status)

	event, data = readEvent(t, scanner)
	require.Equal(t, "result", event)
	require.Equal(t, 2, decodeResult(t, []byte(data)).Window.Current)

	// A new session closes the old stream.
	status, _ = env.do(t, http.MethodPost, "/session?q=fish")
	require.Equal(t, http.StatusOK, status)

	event, _ = readEvent(t, scanner)
	require.Equal(t, "end", event)
}

func TestWarm(t *testing.T) {
	env := newTestEnv(t, 35)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantPages  int
	}{
		{name: "missing pages", path: "/warm?q=cats", wantStatus: http.StatusBadRequest},
		{name: "too many pages", path: "/warm?q=cats&pages=101", wantStatus: http.StatusBadRequest},
		{name: "stops at end of data", path: "/warm?q=cats&pages=6", wantStatus: http.StatusOK, wantPages: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path)
			require.Equal(t, tt.wantStatus, status, "body: %s", body)
			if status != http.StatusOK {
				return
			}
			var got struct {
				Pages int `json:"pages"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			require.Equal(t, tt.wantPages, got.Pages)
			require.Equal(t, "cats", env.mock.GetLastQuery()["text"])
			require.NotContains(t, env.mock.GetLastQuery(), "pages")
		})
	}
}

func TestWarm_WithoutCache(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/warm?pages=2", nil)
	w := httptest.NewRecorder()

	s := &server{logger: zerolog.Nop()}
	s.warmHandler(w, req)

	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestWriteJSON_EncodeFailureLogged(t *testing.T) {
	var logs strings.Builder
	s := &server{logger: zerolog.New(&logs)}

	w := httptest.NewRecorder()
	s.writeJSON(w, http.StatusCreated, map[string]any{"bad": make(chan int)})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Contains(t, logs.String(), "Failed to write response")
}
