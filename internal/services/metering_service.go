package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/dishsnap/backend/internal/config"
	"github.com/dishsnap/backend/internal/models"
)

// Action types known to the meter.
const ActionImageEdit = "image_edit"

// Charge is the outcome of ChargeForAction. Amount is 0 for free-tier
// usage, in which case Entry is nil.
type Charge struct {
	Amount int64               `json:"amount"`
	Free   bool                `json:"free"`
	Entry  *models.LedgerEntry `json:"entry,omitempty"`
}

// MeteringService translates billable actions into ledger debits. It never
// refunds on its own; callers decide whether a downstream failure warrants
// a compensating credit and invoke Refund explicitly.
type MeteringService struct {
	db     *sql.DB
	ledger *LedgerService
	cfg    *config.MeteringConfig
}

func NewMeteringService(db *sql.DB, ledger *LedgerService) *MeteringService {
	return &MeteringService{
		db:     db,
		ledger: ledger,
		cfg:    config.LoadMeteringConfig(),
	}
}

// Quote returns the cost in cents for an action type. Pure function of
// configuration; a zero cost means metered but free.
func (s *MeteringService) Quote(actionType string) int64 {
	switch actionType {
	case ActionImageEdit:
		return s.cfg.EditCost
	default:
		return 0
	}
}

// ChargeForAction charges the user for one action. attemptID is the edit
// record already created for this attempt; the allowance check counts only
// same-day attempts before it, so an attempt never consumes its own free
// slot. Edits within the daily free allowance cost nothing; beyond the
// allowance the quoted amount is debited atomically and the returned entry
// carries referenceID for audit correlation.
func (s *MeteringService) ChargeForAction(ctx context.Context, userID int64, actionType, referenceID string, attemptID int64) (*Charge, error) {
	count, err := s.priorUsageCount(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}

	if actionType == ActionImageEdit && count < s.cfg.FreeDailyLimit {
		log.Printf("[METERING] User %d within free tier (%d/%d today)", userID, count, s.cfg.FreeDailyLimit)
		return &Charge{Amount: 0, Free: true}, nil
	}

	cost := s.Quote(actionType)
	if cost == 0 {
		return &Charge{Amount: 0}, nil
	}

	entry, err := s.ledger.Debit(ctx, userID, cost, referenceID, "image edit charge")
	if err != nil {
		return nil, err
	}

	log.Printf("[METERING] Charged user %d %d cents for %s (ref %s)", userID, cost, actionType, referenceID)
	return &Charge{Amount: cost, Entry: entry}, nil
}

// Refund emits a compensating credit for a failed downstream action. The
// reference id should point back to the original debit's reference so the
// pair is visible in history.
func (s *MeteringService) Refund(ctx context.Context, userID, amount int64, referenceID string) (*models.LedgerEntry, error) {
	entry, err := s.ledger.Credit(ctx, userID, amount, referenceID, "refund for failed edit")
	if err != nil {
		return nil, err
	}
	log.Printf("[METERING] Refunded user %d %d cents (ref %s)", userID, amount, referenceID)
	return entry, nil
}

// priorUsageCount counts the user's edit attempts since UTC midnight that
// precede the given record id. Record ids are assigned in insert order, so
// this is the attempt count at the moment the current record was created.
func (s *MeteringService) priorUsageCount(ctx context.Context, userID, beforeID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edit_records
		WHERE user_id = $1 AND created_at >= $2 AND id < $3`, userID, midnight, beforeID).Scan(&count)
	if err != nil {
		return 0, storageErr("count prior usage", err)
	}
	return count, nil
}

// DailyUsageCount counts the user's edit attempts since UTC midnight.
// The free tier is consumed by attempts, successful or not, matching how
// edit records are written.
func (s *MeteringService) DailyUsageCount(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edit_records
		WHERE user_id = $1 AND created_at >= $2`, userID, midnight).Scan(&count)
	if err != nil {
		return 0, storageErr("count daily usage", err)
	}
	return count, nil
}

// TodayUsage returns the caller's usage against the free daily allowance
// @Summary Get today's usage
// @Description Number of edits performed today and the free-tier limit
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{todayUsage=int,maxFreeUsage=int,editCost=int64}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /user/today-usage [get]
func (s *MeteringService) TodayUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	count, err := s.DailyUsageCount(r.Context(), userID)
	if err != nil {
		log.Printf("[METERING] Failed to fetch today usage for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch usage count", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"todayUsage":   count,
			"maxFreeUsage": s.cfg.FreeDailyLimit,
			"editCost":     s.cfg.EditCost,
		},
	})
}
