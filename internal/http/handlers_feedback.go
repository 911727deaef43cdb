package http

import (
	"encoding/json"
	"net/http"
	"time"

	"faccende/internal/core"
)

type feedbackResponse struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Dimension string    `json:"dimension"`
	Signal    int       `json:"signal"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID    string `json:"taskId"`
		Dimension string `json:"dimension"`
		Signal    int    `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	fb, err := s.feedback.Apply(r.Context(), req.TaskID, core.Dimension(req.Dimension), req.Signal)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, feedbackResponse{
		ID:        fb.ID,
		TaskID:    fb.TaskID,
		Dimension: string(fb.Dimension),
		Signal:    fb.Signal,
		CreatedAt: fb.CreatedAt,
	})
}
