package http

import (
	"net/http"
)

// handleIntakeRun triggers a full intake pass synchronously and returns
// its report. Intended for manual runs; the worker drives the same
// pipeline on a schedule.
func (s *Server) handleIntakeRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.intake.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.tasksCache.Purge()
	writeJSON(w, http.StatusOK, report)
}
