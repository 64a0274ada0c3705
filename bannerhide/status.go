package bannerhide

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/bannerhide/shield"
)

// Page states reported by the status API.
const (
	StatePending    = "pending"
	StateWatching   = "watching"
	StateSuppressed = "suppressed"
	StateAbsent     = "absent"
	StateTimeout    = "timeout"
	StateCaptcha    = "captcha"
	StateFailed     = "failed"
)

// PageStatus is the last known state of one page.
type PageStatus struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Strategy  string `json:"strategy"`
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// track registers p as pending unless it is already known.
func (r *Runner) track(p PageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.status[p.ID]; ok {
		return
	}
	r.status[p.ID] = &PageStatus{
		ID:        p.ID,
		URL:       p.URL,
		Strategy:  p.Strategy,
		State:     StatePending,
		UpdatedAt: r.now().UnixMilli(),
	}
	r.order = append(r.order, p.ID)
}

func (r *Runner) update(id string, fn func(*PageStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[id]
	if !ok {
		return
	}
	fn(s)
	s.UpdatedAt = r.now().UnixMilli()
}

// Status returns a copy of every page status in registration order.
func (r *Runner) Status() []PageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PageStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.status[id])
	}
	return out
}

// PageStatus returns the status of one page.
func (r *Runner) PageStatus(id string) (PageStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[id]
	if !ok {
		return PageStatus{}, false
	}
	return *s, true
}

// Handler serves the read-only status API:
//
//	GET /health       liveness and page count
//	GET /pages        every page status
//	GET /pages/{id}   one page status, 404 when unknown
func (r *Runner) Handler() http.Handler {
	rt := chi.NewRouter()
	rt.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(r.logger) {
		rt.Use(mw)
	}

	rt.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": len(r.Status())})
	})

	rt.Get("/pages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.Status())
	})

	rt.Get("/pages/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		s, ok := r.PageStatus(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown page " + id})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	return rt
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
