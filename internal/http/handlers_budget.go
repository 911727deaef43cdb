package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"faccende/internal/core"
)

type budgetSummaryResponse struct {
	Balance    string `json:"balance"`
	TotalAdded string `json:"totalAdded"`
	TotalSpent string `json:"totalSpent"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toTransactionResponse(tx core.BudgetTransaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		Kind:      string(tx.Kind),
		Amount:    tx.Amount.StringFixed(6),
		Note:      tx.Note,
		CreatedAt: tx.CreatedAt,
	}
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.repo.BudgetSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetSummaryResponse{
		Balance:    summary.Balance.StringFixed(6),
		TotalAdded: summary.TotalAdded.StringFixed(6),
		TotalSpent: summary.TotalSpent.StringFixed(6),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	transactions, err := s.repo.ListTransactions(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		resp = append(resp, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBudgetAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.repo.RecordTransaction(r.Context(), core.KindAdd, amount, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}
