package api

import (
	"net/http"
	"runtime"
)

// handleHealth returns the server health status. Ungated.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleSystem reports runtime and ingestion statistics plus the
// sampled history ring. Viewer and above.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    s.version,
			"goroutines": runtime.NumGoroutine(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":   s.version,
		"now":       s.collector.Snapshot(r.Context()),
		"discarded": s.collector.Discarded(),
		"history":   s.collector.History(),
		"clients":   s.hub.ClientCount(),
	})
}
