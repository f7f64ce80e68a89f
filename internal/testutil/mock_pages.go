// Package testutil provides testing utilities for the pager and its fetch
// collaborators.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Item is the record served by MockPageServer.
type Item struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// MockResponse overrides the response for one page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Times limits the override to the first Times requests; 0 means always.
	Times int
}

// MockPageServer serves a fixed set of items page by page at /photos using
// page and per_page query parameters.
type MockPageServer struct {
	server *httptest.Server
	total  int

	mu        sync.RWMutex
	overrides map[int]*MockResponse
	envelope  string
	delay     time.Duration
	headers   map[string]string

	// Tracking
	RequestCount      int
	PageRequests      map[int]int
	LastRequestHeader http.Header
	LastQuery         map[string]string
}

// NewMockPageServer creates a server holding total items with IDs 0..total-1.
func NewMockPageServer(total int) *MockPageServer {
	m := &MockPageServer{
		total:        total,
		overrides:    make(map[int]*MockResponse),
		PageRequests: make(map[int]int),
		headers:      make(map[string]string),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the items endpoint.
func (m *MockPageServer) URL() string {
	return m.server.URL + "/photos"
}

// Close shuts down the server.
func (m *MockPageServer) Close() {
	m.server.Close()
}

// Reset clears tracking counters and overrides.
func (m *MockPageServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PageRequests = make(map[int]int)
	m.LastRequestHeader = nil
	m.LastQuery = nil
	m.overrides = make(map[int]*MockResponse)
}

// SetEnvelope wraps pages in nested objects along a dotted path, e.g.
// "photos.photo" serves {"photos":{"photo":[...]}}. Empty serves bare arrays.
func (m *MockPageServer) SetEnvelope(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelope = path
}

// SetDelay delays every response.
func (m *MockPageServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHeader adds a header to every response, e.g. rate limit headers.
func (m *MockPageServer) SetHeader(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[key] = value
}

// SetPageResponse overrides the response for a page.
func (m *MockPageServer) SetPageResponse(page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := resp
	m.overrides[page] = &r
}

// FailPage answers the next times requests for page with status.
func (m *MockPageServer) FailPage(page, status, times int) {
	m.SetPageResponse(page, MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error": %q}`, http.StatusText(status)),
		Times:      times,
	})
}

// GetRequestCount returns the number of requests served.
func (m *MockPageServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequests returns the number of requests for page.
func (m *MockPageServer) GetPageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests[page]
}

// GetLastQuery returns the query parameters of the last request.
func (m *MockPageServer) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// Items returns the items of a page as the server would serve them.
func (m *MockPageServer) Items(page, perPage int) []Item {
	start := (page - 1) * perPage
	end := start + perPage
	if start < 0 || start >= m.total {
		return []Item{}
	}
	if end > m.total {
		end = m.total
	}

	items := make([]Item, 0, end-start)
	for id := start; id < end; id++ {
		items = append(items, Item{ID: id, Title: fmt.Sprintf("Photo %d", id)})
	}
	return items
}

func (m *MockPageServer) handle(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	m.mu.Lock()
	m.RequestCount++
	m.PageRequests[page]++
	m.LastRequestHeader = r.Header.Clone()
	m.LastQuery = make(map[string]string)
	for key := range r.URL.Query() {
		m.LastQuery[key] = r.URL.Query().Get(key)
	}
	override := m.overrides[page]
	if override != nil && override.Times > 0 {
		override.Times--
		if override.Times == 0 {
			delete(m.overrides, page)
		}
	}
	envelope := m.envelope
	delay := m.delay
	for key, value := range m.headers {
		w.Header().Set(key, value)
	}
	m.mu.Unlock()

	if r.URL.Path != "/photos" {
		http.NotFound(w, r)
		return
	}

	if override != nil {
		writeOverride(w, r, *override, delay)
		return
	}

	if !sleep(r, delay) {
		return
	}

	if page < 1 || perPage < 1 {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "page and per_page must be positive"}`))
		return
	}

	var body any = m.Items(page, perPage)
	if envelope != "" {
		parts := strings.Split(envelope, ".")
		for i := len(parts) - 1; i >= 0; i-- {
			body = map[string]any{parts[i]: body}
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func writeOverride(w http.ResponseWriter, r *http.Request, resp MockResponse, delay time.Duration) {
	if resp.Delay > 0 {
		delay = resp.Delay
	}
	if !sleep(r, delay) {
		return
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// sleep waits d unless the client goes away first.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}
