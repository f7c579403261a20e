package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dishsnap/backend/internal/services"
)

type RechargeHandler struct {
	service   *services.RechargeService
	validator *services.ValidationHelper
}

func NewRechargeHandler(service *services.RechargeService) *RechargeHandler {
	return &RechargeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Notify handles the payment settlement callback
// @Summary Settle a recharge
// @Description Payment webhook; tolerates at-least-once delivery, a replayed transaction id credits nothing further
// @Tags recharge
// @Accept json
// @Produce json
// @Param request body object{transactionId=string,userId=int64,amount=int64} true "Settlement notification"
// @Success 200 {object} object{alreadyApplied=bool,balance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Transaction already failed"
// @Router /recharge/notify [post]
func (h *RechargeHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transactionId" validate:"required"`
		UserID        int64  `json:"userId" validate:"required,gt=0"`
		Amount        int64  `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Settle(r.Context(), req.TransactionID, req.UserID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyTerminal):
			services.SendErrorResponse(w, "Transaction already marked failed", http.StatusConflict, nil)
		case errors.Is(err, services.ErrInvalidAmount):
			services.SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		default:
			services.SendErrorResponse(w, "Failed to settle recharge", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"alreadyApplied": result.AlreadyApplied,
		"balance":        result.Entry.BalanceAfter,
		"entryId":        result.Entry.EntryID,
	})
}

// MarkFailed records a terminal payment failure
// @Summary Mark recharge failed
// @Description Terminal transition; later settlement callbacks for the id are rejected
// @Tags recharge
// @Accept json
// @Produce json
// @Param request body object{transactionId=string} true "Failure notification"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse "Transaction already settled"
// @Router /recharge/failed [post]
func (h *RechargeHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transactionId" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.MarkFailed(r.Context(), req.TransactionID); err != nil {
		if errors.Is(err, services.ErrAlreadyTerminal) {
			services.SendErrorResponse(w, "Transaction already settled", http.StatusConflict, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to mark recharge failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// GenerateQR generates a recharge payment QR code
// @Summary Generate recharge QR
// @Description QR code the payment app scans to start a recharge for the given amount
// @Tags recharge
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Recharge amount in cents"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /recharge/qr [post]
func (h *RechargeHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	qrCode, qrImage, err := h.service.GenerateRechargeQR(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}
