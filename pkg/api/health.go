package api

import (
	"net/http"
	"time"
)

// handleLiveness answers as long as the process serves requests. It touches
// no dependencies so a degraded store never makes the orchestrator restart
// the process.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"status": "alive"},
	})
}

// handleReadiness reports whether the metadata store and the queue are
// reachable. Any failing check turns the probe 503 with per-check detail.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := s.deps.Store.Healthcheck(r.Context()); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if s.deps.QueueCheck != nil {
		if err := s.deps.QueueCheck(r.Context()); err != nil {
			checks["queue"] = err.Error()
			healthy = false
		} else {
			checks["queue"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Response{
		Success:   healthy,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"checks": checks},
	})
}
