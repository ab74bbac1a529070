// Package testutil provides a mock DIME projects API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
)

// ProjectsPath mirrors client.ProjectsPath without importing it.
const ProjectsPath = "/api/v1/projects"

// MockDIMEResponse overrides the reply for one attempt at a page.
type MockDIMEResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockDIME serves a fixed, paginated set of projects the way the dashboard
// API does. The "status" query parameter filters on each record's "status"
// field.
type MockDIME struct {
	server *httptest.Server

	mu       sync.Mutex
	projects []map[string]any
	withMeta bool
	headers  map[string]string
	failures map[int][]MockDIMEResponse
	requests []url.Values
}

// NewMockDIME starts a server holding n generated projects. Statuses are
// assigned round-robin from statuses; when none are given every project is
// "Completed".
func NewMockDIME(n int, statuses ...string) *MockDIME {
	if len(statuses) == 0 {
		statuses = []string{"Completed"}
	}
	projects := make([]map[string]any, n)
	for i := range projects {
		projects[i] = map[string]any{
			"id":          i + 1,
			"projectName": fmt.Sprintf("Project %d", i+1),
			"status":      statuses[i%len(statuses)],
			"region":      fmt.Sprintf("Region %d", i%3+1),
			"cost":        float64(n-i) * 1000,
			"implementingOffices": []map[string]any{
				{"name": "DPWH"},
			},
			"sourceOfFunds": []map[string]any{
				{"name": "GAA"},
			},
		}
	}
	return NewMockDIMEWithProjects(projects)
}

// NewMockDIMEWithProjects starts a server holding the given projects.
func NewMockDIMEWithProjects(projects []map[string]any) *MockDIME {
	m := &MockDIME{
		projects: projects,
		withMeta: true,
		failures: make(map[int][]MockDIMEResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL to configure the client with.
func (m *MockDIME) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDIME) Close() {
	m.server.Close()
}

// SetMeta toggles the meta block in responses.
func (m *MockDIME) SetMeta(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withMeta = enabled
}

// SetHeaders adds headers to every successful response.
func (m *MockDIME) SetHeaders(headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers = headers
}

// FailPage queues replies for the next requests of page; each request
// consumes one. Once the queue is drained the page is served normally.
func (m *MockDIME) FailPage(page int, responses ...MockDIMEResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[page] = append(m.failures[page], responses...)
}

// Requests returns the query of every request received, in order.
func (m *MockDIME) Requests() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]url.Values, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockDIME) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// PageRequests returns how many times page was requested.
func (m *MockDIME) PageRequests(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.requests {
		if q.Get("page") == strconv.Itoa(page) {
			n++
		}
	}
	return n
}

func (m *MockDIME) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != ProjectsPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))

	m.mu.Lock()
	m.requests = append(m.requests, q)
	var failure *MockDIMEResponse
	if queue := m.failures[page]; len(queue) > 0 {
		failure = &queue[0]
		m.failures[page] = queue[1:]
	}
	withMeta := m.withMeta
	headers := m.headers
	matching := m.filter(q.Get("status"))
	m.mu.Unlock()

	if failure != nil {
		for k, v := range failure.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(failure.StatusCode)
		_, _ = w.Write([]byte(failure.Body))
		return
	}

	if page < 1 || perPage < 1 {
		http.Error(w, `{"message":"invalid paging"}`, http.StatusUnprocessableEntity)
		return
	}

	start := min((page-1)*perPage, len(matching))
	end := min(start+perPage, len(matching))
	lastPage := max((len(matching)+perPage-1)/perPage, 1)

	body := map[string]any{"data": matching[start:end]}
	if withMeta {
		body["meta"] = map[string]any{
			"total":       len(matching),
			"currentPage": page,
			"lastPage":    lastPage,
		}
	}

	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// filter must be called with m.mu held.
func (m *MockDIME) filter(status string) []map[string]any {
	if status == "" {
		return m.projects
	}
	var out []map[string]any
	for _, p := range m.projects {
		if p["status"] == status {
			out = append(out, p)
		}
	}
	return out
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockDIMEResponse {
	return MockDIMEResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Server Error"}`,
	}
}

// NewRateLimitResponse creates a 429 response with Laravel throttle headers.
func NewRateLimitResponse(retryAfter int) MockDIMEResponse {
	return MockDIMEResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Too Many Attempts."}`,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "60",
			"X-RateLimit-Remaining": "0",
			"Retry-After":           strconv.Itoa(retryAfter),
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockDIMEResponse {
	return MockDIMEResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
	}
}
