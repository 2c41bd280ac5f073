package server

import "net/http"

// handleHealth implements HEAD /api/v1/health, the local-reachability
// probe's first stage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleHealthAladin implements GET /api/v1/health/aladin, the external
// dependency-probe stage. Returns 503 whenever a fault has been armed
// against it, letting tests simulate a degraded external dependency
// without taking down the rest of the server.
func (s *Server) handleHealthAladin(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
