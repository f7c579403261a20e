package services

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"time"

	"github.com/dishsnap/backend/internal/config"
	"github.com/dishsnap/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// Settlement is the outcome of Settle. AlreadyApplied marks an idempotent
// replay: the entry is the one created by the first delivery and nothing
// was mutated.
type Settlement struct {
	Entry          *models.LedgerEntry `json:"entry"`
	AlreadyApplied bool                `json:"already_applied"`
}

// RechargeService guarantees at-most-once crediting per payment transaction
// id under at-least-once delivery of settlement callbacks. The check and the
// SETTLED mark happen under a row lock in the same transaction as the
// credit, so two simultaneous callbacks for one id serialize on the row.
type RechargeService struct {
	db             *sql.DB
	redis          *redis.Client
	ledger         *LedgerService
	storageTimeout time.Duration
}

func NewRechargeService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *RechargeService {
	return &RechargeService{
		db:             db,
		redis:          redisClient,
		ledger:         ledger,
		storageTimeout: config.StorageTimeout(),
	}
}

// Settle credits the user for a settled payment, exactly once per
// transaction id. Replays return the original entry with AlreadyApplied
// set; ids already marked FAILED are rejected with ErrAlreadyTerminal.
func (s *RechargeService) Settle(ctx context.Context, transactionID string, userID, amount int64) (*Settlement, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	request, err := s.lockRequest(ctx, tx, transactionID, userID, amount)
	if err != nil {
		return nil, err
	}

	switch request.Status {
	case models.RechargeStatusSettled:
		entry, err := s.fetchEntryTx(ctx, tx, request.LedgerEntryID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, storageErr("commit", err)
		}
		log.Printf("[RECHARGE] Replay of settled transaction %s, no credit applied", transactionID)
		return &Settlement{Entry: entry, AlreadyApplied: true}, nil

	case models.RechargeStatusFailed:
		return nil, ErrAlreadyTerminal
	}

	entry, err := s.ledger.CreditTx(ctx, tx, userID, amount, transactionID, "recharge")
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE recharge_requests
		SET status = $1, ledger_entry_id = $2, updated_at = NOW()
		WHERE transaction_id = $3`,
		models.RechargeStatusSettled, entry.ID, transactionID); err != nil {
		return nil, storageErr("mark settled", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	log.Printf("[RECHARGE] Settled transaction %s: credited user %d %d cents, balance now %d",
		transactionID, userID, amount, entry.BalanceAfter)
	return &Settlement{Entry: entry}, nil
}

// MarkFailed moves a recharge request to its FAILED terminal state. A later
// Settle for the same id is rejected; marking an already settled request
// fails with ErrAlreadyTerminal. Repeating MarkFailed is a no-op.
func (s *RechargeService) MarkFailed(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("transaction id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	request, err := s.lockRequest(ctx, tx, transactionID, 0, 0)
	if err != nil {
		return err
	}

	switch request.Status {
	case models.RechargeStatusSettled:
		return ErrAlreadyTerminal
	case models.RechargeStatusFailed:
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE recharge_requests
		SET status = $1, updated_at = NOW()
		WHERE transaction_id = $2`,
		models.RechargeStatusFailed, transactionID); err != nil {
		return storageErr("mark failed", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}

	log.Printf("[RECHARGE] Marked transaction %s as failed", transactionID)
	return nil
}

// GenerateRechargeQR produces a payment QR code for the recharge page. The
// payload is cached in Redis for five minutes so the payment confirmation
// can be matched back to the user.
func (s *RechargeService) GenerateRechargeQR(ctx context.Context, userID, amount int64) (string, string, error) {
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}
	if s.redis == nil {
		return "", "", fmt.Errorf("recharge QR requires redis")
	}

	payload := map[string]any{
		"userId":    userID,
		"amount":    amount,
		"timestamp": time.Now().Unix(),
		"nonce":     generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("recharge:qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// lockRequest creates the PENDING row if absent and locks it. Concurrent
// deliveries of the same transaction id queue on this lock.
func (s *RechargeService) lockRequest(ctx context.Context, tx *sql.Tx, transactionID string, userID, amount int64) (*models.RechargeRequest, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recharge_requests (transaction_id, user_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID, userID, amount, models.RechargeStatusPending); err != nil {
		return nil, storageErr("init recharge request", err)
	}

	request := &models.RechargeRequest{TransactionID: transactionID}
	var entryID sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, amount, status, ledger_entry_id
		FROM recharge_requests
		WHERE transaction_id = $1
		FOR UPDATE`, transactionID).
		Scan(&request.UserID, &request.Amount, &request.Status, &entryID)
	if err != nil {
		return nil, storageErr("lock recharge request", err)
	}
	request.LedgerEntryID = entryID.Int64
	return request, nil
}

func (s *RechargeService) fetchEntryTx(ctx context.Context, tx *sql.Tx, entryID int64) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := tx.QueryRowContext(ctx, `
		SELECT id, entry_id, user_id, kind, amount, balance_after, reference_id, remark, created_at
		FROM ledger_entries
		WHERE id = $1`, entryID).
		Scan(&e.ID, &e.EntryID, &e.UserID, &e.Kind, &e.Amount,
			&e.BalanceAfter, &e.ReferenceID, &e.Remark, &e.CreatedAt)
	if err != nil {
		return nil, storageErr("fetch entry", err)
	}
	return &e, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	cryptorand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
