// Package remotetest provides an in-memory entity store served over httptest.
package remotetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dokzlo13/worldmapd/internal/remote"
)

// Request is a recorded call to the fake store
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Server is a fake remote entity store.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	records  map[int]remote.Record
	nextID   int
	requests []Request

	failStatus    int
	colorResponse func(cmd remote.ColorCommand) any
}

// NewServer starts a fake store seeded with records
func NewServer(records ...remote.Record) *Server {
	s := &Server{
		records: make(map[int]remote.Record),
		nextID:  1,
	}
	for _, r := range records {
		s.records[r.ID] = r
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns a copy of all recorded requests
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests matched method and path
func (s *Server) CountRequests(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Record returns the stored record for id
func (s *Server) Record(id int) (remote.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// FailWith makes every endpoint answer with status; 0 restores normal operation.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// OnColor overrides the body returned by POST /color/.
func (s *Server) OnColor(fn func(cmd remote.ColorCommand) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colorResponse = fn
}

// SetRecord replaces a stored record, e.g. to simulate a change made elsewhere.
func (s *Server) SetRecord(r remote.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
	fail := s.failStatus
	s.mu.Unlock()

	if fail != 0 {
		http.Error(w, http.StatusText(fail), fail)
		return
	}

	switch {
	case r.URL.Path == "/entity/" && r.Method == http.MethodGet:
		s.list(w)
	case r.URL.Path == "/entity/" && r.Method == http.MethodPost:
		s.create(w, body)
	case r.URL.Path == "/entity/" && r.Method == http.MethodPut:
		s.update(w, body)
	case strings.HasPrefix(r.URL.Path, "/entity/") && r.Method == http.MethodDelete:
		s.delete(w, strings.TrimPrefix(r.URL.Path, "/entity/"))
	case r.URL.Path == "/color/" && r.Method == http.MethodPost:
		s.color(w, body)
	case r.URL.Path == "/toggle/" && r.Method == http.MethodPost:
		s.toggle(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) list(w http.ResponseWriter) {
	s.mu.Lock()
	out := make([]remote.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, out)
}

func (s *Server) create(w http.ResponseWriter, body []byte) {
	var in remote.EntityInput
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	rec := remote.Record{Entity: remote.Entity{
		ID: id, Name: in.Name, StartAddr: in.StartAddr, EndAddr: in.EndAddr, ParentID: in.ParentID,
	}}
	s.records[id] = rec
	s.mu.Unlock()

	writeJSON(w, rec.Entity)
}

func (s *Server) update(w http.ResponseWriter, body []byte) {
	var in remote.EntityInput
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	rec, ok := s.records[in.ID]
	if ok {
		rec.Name, rec.StartAddr, rec.EndAddr, rec.ParentID = in.Name, in.StartAddr, in.EndAddr, in.ParentID
		s.records[in.ID] = rec
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec.Entity)
}

func (s *Server) delete(w http.ResponseWriter, rawID string) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		http.Error(w, "invalid id", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"deleted": id})
}

func (s *Server) color(w http.ResponseWriter, body []byte) {
	var cmd remote.ColorCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	rec, ok := s.records[cmd.Entity]
	if ok {
		rec.State = remote.EntityState{
			IsOn:       cmd.IsOn,
			Brightness: cmd.Brightness,
			RGBColor:   [3]uint8{cmd.Red, cmd.Green, cmd.Blue},
		}
		s.records[cmd.Entity] = rec
	}
	override := s.colorResponse
	s.mu.Unlock()

	if override != nil {
		writeJSON(w, override(cmd))
		return
	}
	writeJSON(w, map[string]any{"success": ok})
}

func (s *Server) toggle(w http.ResponseWriter, body []byte) {
	var cmd remote.ToggleCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	rec, ok := s.records[cmd.Entity]
	if ok {
		rec.State.IsOn = cmd.IsOn
		s.records[cmd.Entity] = rec
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, remote.ToggleResult{IsOn: rec.State.IsOn})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
