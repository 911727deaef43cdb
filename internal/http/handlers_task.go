package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"faccende/internal/core"
	"faccende/internal/storage"
)

type taskResponse struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Summary      string       `json:"summary"`
	Source       string       `json:"source"`
	ReceivedAt   time.Time    `json:"receivedAt"`
	DueAt        *time.Time   `json:"dueAt,omitempty"`
	SavingsUSD   *string      `json:"savingsUsd,omitempty"`
	Importance   int          `json:"importance"`
	Urgency      int          `json:"urgency"`
	SavingsScore int          `json:"savingsScore"`
	Status       string       `json:"status"`
	Instructions []string     `json:"instructions,omitempty"`
	Actions      []core.Link  `json:"actions,omitempty"`
	Citations    []core.Link  `json:"citations,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func toTaskResponse(t core.Task) taskResponse {
	resp := taskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Summary:      t.Summary,
		Source:       string(t.Source),
		ReceivedAt:   t.ReceivedAt,
		DueAt:        t.DueAt,
		Importance:   t.Importance,
		Urgency:      t.Urgency,
		SavingsScore: t.SavingsScore,
		Status:       string(t.Status),
		Instructions: t.Instructions,
		Actions:      t.Actions,
		Citations:    t.Citations,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.SavingsUSD != nil {
		s := t.SavingsUSD.StringFixed(2)
		resp.SavingsUSD = &s
	}
	return resp
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter storage.TaskFilter
	cacheKey := fmt.Sprintf("tasks:%s:%s:%s", q.Get("status"), q.Get("source"), q.Get("sort"))

	if raw := q.Get("status"); raw != "" {
		status := core.TaskStatus(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("unknown status %q", raw)})
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("source"); raw != "" {
		source := core.SourceType(raw)
		if !source.Valid() {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("unknown source %q", raw)})
			return
		}
		filter.Source = &source
	}
	filter.Sort = q.Get("sort")

	if cached, ok := s.tasksCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	tasks, err := s.repo.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}

	s.tasksCache.Set(cacheKey, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.repo.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	task, err := s.repo.SetTaskStatus(r.Context(), r.PathValue("id"), core.TaskStatus(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.tasksCache.Purge()
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleGenerateInstructions(w http.ResponseWriter, r *http.Request) {
	task, err := s.repo.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	steps, citations, err := s.instructor.GenerateInstructions(r.Context(), task)
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.repo.SetTaskInstructions(r.Context(), task.ID, steps, citations)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.tasksCache.Purge()
	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}
