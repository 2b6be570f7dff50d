package server

import (
	"net/http"
	"time"
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "alive",
		"uptime_s": s.uptimeSeconds(),
	})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "not ready",
				"uptime_s": s.uptimeSeconds(),
			})
			return
		}
	}

	nonceCacheSize := 0
	if s.deps.Nonces != nil {
		nonceCacheSize = s.deps.Nonces.Size()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"uptime_s":         s.uptimeSeconds(),
		"nonce_cache_size": nonceCacheSize,
	})
}

func (s *server) uptimeSeconds() float64 {
	if s.deps.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.deps.StartedAt).Seconds()
}
