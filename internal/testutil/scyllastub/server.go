// Package scyllastub is an in-memory implementation of the person and task
// service contract, used by tests to exercise scenarios end to end.
package scyllastub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Task mirrors the task resource.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Person mirrors the person resource.
type Person struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     []string `json:"email"`
}

type errorDetail struct {
	Code        string `json:"code"`
	Title       string `json:"title,omitempty"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

type paging struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Server is the stub service. Create it with New and close it when done.
type Server struct {
	*httptest.Server

	latency time.Duration

	mu      sync.Mutex
	nextID  int
	tasks   map[string]Task
	persons []Person

	requests    atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// New starts a stub server on a random local port.
func New(opts ...Option) *Server {
	s := &Server{tasks: make(map[string]Task), nextID: 1}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.ping)
	mux.HandleFunc("POST /v1/scylla/persons", s.createPerson)
	mux.HandleFunc("GET /v1/scylla/persons", s.listPersons)
	mux.HandleFunc("POST /v1/scylla/tasks", s.createTask)
	mux.HandleFunc("GET /v1/scylla/tasks", s.listTasks)
	mux.HandleFunc("GET /v1/scylla/tasks/{id}", s.getTask)
	mux.HandleFunc("PATCH /v1/scylla/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /v1/scylla/tasks/{id}", s.deleteTask)

	s.Server = httptest.NewServer(s.track(mux))
	return s
}

// Requests returns the number of requests served.
func (s *Server) Requests() int64 { return s.requests.Load() }

// MaxInFlight returns the highest number of concurrent requests observed.
func (s *Server) MaxInFlight() int64 { return s.maxInFlight.Load() }

// Tasks returns a snapshot of stored tasks sorted by id.
func (s *Server) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Persons returns a snapshot of stored persons.
func (s *Server) Persons() []Person {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Person(nil), s.persons...)
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			cur := s.maxInFlight.Load()
			if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "pong"})
}

func (s *Server) createPerson(w http.ResponseWriter, r *http.Request) {
	var req Person
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		badRequest(w, "first_name and last_name are required")
		return
	}
	s.mu.Lock()
	s.persons = append(s.persons, req)
	s.mu.Unlock()
	writeData(w, "Person created successfully", nil, nil)
}

func (s *Server) listPersons(w http.ResponseWriter, r *http.Request) {
	first := r.URL.Query().Get("first_name")
	last := r.URL.Query().Get("last_name")

	s.mu.Lock()
	out := make([]Person, 0)
	for _, p := range s.persons {
		if first != "" && p.FirstName != first {
			continue
		}
		if last != "" && p.LastName != last {
			continue
		}
		out = append(out, p)
	}
	s.mu.Unlock()

	writeData(w, out, nil, map[string]string{"first_name": first, "last_name": last})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req Task
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := validateTask(req.Title, req.Status); err != nil {
		badRequest(w, err.Error())
		return
	}

	s.mu.Lock()
	req.ID = fmt.Sprintf("tk%06d", s.nextID)
	s.nextID++
	s.tasks[req.ID] = req
	s.mu.Unlock()

	writeData(w, req.ID, nil, nil)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	limit := 10
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "limit must be a number")
			return
		}
		if n > 0 {
			limit = n
		}
	}

	all := s.Tasks()
	out := make([]Task, 0, limit)
	total := 0
	for _, t := range all {
		if status != "" && t.Status != status {
			continue
		}
		total++
		if len(out) < limit {
			out = append(out, t)
		}
	}

	var filter map[string]string
	if status != "" {
		filter = map[string]string{"status": status}
	}
	writeData(w, out, &paging{Page: 1, Limit: limit, Total: total}, filter)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.tasks[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	writeData(w, t, nil, nil)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if err := validateTask(t.Title, t.Status); err != nil {
		badRequest(w, err.Error())
		return
	}
	s.tasks[t.ID] = t
	writeData(w, true, nil, nil)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	writeData(w, true, nil, nil)
}

func validateTask(title, status string) error {
	if title == "" {
		return fmt.Errorf("title cannot be blank")
	}
	if status != "doing" && status != "done" {
		return fmt.Errorf("status must be 'doing' or 'done'")
	}
	return nil
}

func writeData(w http.ResponseWriter, data any, p *paging, filter any) {
	body := map[string]any{"data": data}
	if p != nil {
		body["paging"] = p
	}
	if filter != nil {
		body["filter"] = filter
	}
	writeJSON(w, http.StatusOK, body)
}

func badRequest(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": errorDetail{
		Code:        "BAD_REQUEST",
		Title:       "Bad Request",
		Message:     "invalid request",
		Description: description,
	}})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": errorDetail{
		Code:    "NOT_FOUND",
		Title:   "Not Found",
		Message: "task not found",
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
