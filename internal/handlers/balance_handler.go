package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dishsnap/backend/internal/services"
)

type BalanceHandler struct {
	ledger *services.LedgerService
}

func NewBalanceHandler(ledger *services.LedgerService) *BalanceHandler {
	return &BalanceHandler{ledger: ledger}
}

// GetBalance returns the caller's current balance
// @Summary Get balance
// @Description Current balance in cents; a zero-balance account is created on first query
// @Tags balance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64,balanceYuan=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /balance [get]
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"userId":      userID,
			"balance":     balance,
			"balanceYuan": fmt.Sprintf("%.2f", float64(balance)/100),
		},
	})
}

// GetHistory returns the caller's ledger entries
// @Summary Get balance history
// @Description Ledger entries, most recent first. Pagination is stable only while no new entries arrive.
// @Tags balance
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /balance/history [get]
func (h *BalanceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, offset := 20, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.ledger.GetHistory(r.Context(), userID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
