package metrics

import (
	"net/http"
	"sync/atomic"
)

// Health backs the liveness and readiness probes. Liveness is delegated to
// a callback (normally "is the publishing consumer running"); readiness is
// flipped by the binary once the broker connection is up.
type Health struct {
	live  func() bool
	ready atomic.Bool
}

func NewHealth(live func() bool) *Health {
	if live == nil {
		live = func() bool { return true }
	}
	return &Health{live: live}
}

func (h *Health) SetReady(v bool) { h.ready.Store(v) }

func (h *Health) Ready() bool { return h.ready.Load() }

func (h *Health) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if h.live() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "unhealthy", http.StatusServiceUnavailable)
}

func (h *Health) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	http.Error(w, "not ready", http.StatusServiceUnavailable)
}
