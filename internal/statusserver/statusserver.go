// Package statusserver exposes a minimal localhost-only HTTP view of an
// in-flight mining run: overall progress and per-seed outcome. It is a
// single-operator diagnostic surface, not a multi-tenant API, so there
// is no session or auth layer here, just plain JSON over chi routes.
package statusserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// SeedStatus is the live state of one seed's trace-mine-annotate pass.
type SeedStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"` // "pending", "running", "done", "failed"
	ErrorKind string `json:"error_kind,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// Tracker is the mutable run-progress model the mining pipeline reports
// into and the HTTP handlers read from. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	total   int
	done    int
	failed  int
	seeds   map[string]SeedStatus
	started bool
}

// NewTracker returns a Tracker sized for total seeds. No seed is recorded
// until SetSeed is called for it; Seed reports unseen names as absent.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total, seeds: make(map[string]SeedStatus, total)}
}

// Start marks the run as begun (distinguishes "0 of 0 done because nothing
// has started" from "0 of 0 done because the run is in fact empty").
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

// SetSeed records the current status of one seed, overwriting any
// previous entry for that name.
func (t *Tracker) SetSeed(s SeedStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed := t.seeds[s.Name]
	t.seeds[s.Name] = s
	switch {
	case existed && prev.State != "done" && prev.State != "failed" && s.State == "done":
		t.done++
	case existed && prev.State != "done" && prev.State != "failed" && s.State == "failed":
		t.done++
		t.failed++
	case !existed && s.State == "done":
		t.done++
	case !existed && s.State == "failed":
		t.done++
		t.failed++
	}
}

// Seed returns the recorded status of name and whether it has been seen.
func (t *Tracker) Seed(name string) (SeedStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.seeds[name]
	return s, ok
}

// Summary is the payload served from GET /status.
type Summary struct {
	Started bool `json:"started"`
	Total   int  `json:"total"`
	Done    int  `json:"done"`
	Failed  int  `json:"failed"`
}

// Summary returns a snapshot of overall progress.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Summary{Started: t.started, Total: t.total, Done: t.done, Failed: t.failed}
}

// Router builds the chi router serving t's state. Callers wrap it in an
// http.Server bound to a loopback address; this package does not listen
// on a socket itself.
func Router(t *Tracker) chi.Router {
	r := chi.NewRouter()

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, t.Summary())
	})

	r.Get("/seeds/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		status, ok := t.Seed(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown seed: " + name})
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
