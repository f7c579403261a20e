package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dishsnap/backend/internal/config"
	"github.com/dishsnap/backend/internal/models"
	"github.com/google/uuid"
)

// LedgerService is the sole owner of account balance mutations. Every
// mutation locks the account row for the full read-check-write-append
// sequence, so mutations for one user are totally ordered while different
// users proceed in parallel.
type LedgerService struct {
	db             *sql.DB
	storageTimeout time.Duration
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:             db,
		storageTimeout: config.StorageTimeout(),
	}
}

// GetBalance returns the user's current balance in cents, creating a
// zero-balance account on first use. The value may be stale relative to
// concurrent writes; Debit re-checks under its own lock.
func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, version, updated_at)
		VALUES ($1, 0, 1, NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, storageErr("init account", err)
	}

	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, storageErr("read balance", err)
	}
	return balance, nil
}

// Credit adds amount to the user's balance and appends a CREDIT entry, as
// one atomic unit. Not retry-safe against duplicate submission; settlement
// callbacks must go through RechargeService instead.
func (s *LedgerService) Credit(ctx context.Context, userID, amount int64, referenceID, remark string) (*models.LedgerEntry, error) {
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

	entry, err := s.CreditTx(ctx, tx, userID, amount, referenceID, remark)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	return entry, nil
}

// CreditTx applies a credit inside an existing transaction. The caller owns
// commit and rollback.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, userID, amount int64, referenceID, remark string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applyTx(ctx, tx, userID, models.EntryKindCredit, amount, referenceID, remark)
}

// Debit subtracts amount from the user's balance and appends a DEBIT entry.
// The balance check runs under the account row lock, so of two concurrent
// debits that together would overdraw, the second observes the post-first
// balance and fails with ErrInsufficientBalance.
func (s *LedgerService) Debit(ctx context.Context, userID, amount int64, referenceID, remark string) (*models.LedgerEntry, error) {
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

	entry, err := s.DebitTx(ctx, tx, userID, amount, referenceID, remark)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	return entry, nil
}

// DebitTx applies a debit inside an existing transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sql.Tx, userID, amount int64, referenceID, remark string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applyTx(ctx, tx, userID, models.EntryKindDebit, amount, referenceID, remark)
}

// GetHistory returns the user's ledger entries, most recent first. Paging
// through with a fixed stride yields every entry exactly once as long as no
// entries are inserted between pages; under concurrent writes pages may
// shift, which callers tolerate.
func (s *LedgerService) GetHistory(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, user_id, kind, amount, balance_after, reference_id, remark, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, storageErr("read history", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.EntryID, &e.UserID, &e.Kind, &e.Amount,
			&e.BalanceAfter, &e.ReferenceID, &e.Remark, &e.CreatedAt); err != nil {
			return nil, storageErr("scan history", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read history", err)
	}
	return entries, nil
}

func (s *LedgerService) applyTx(ctx context.Context, tx *sql.Tx, userID int64, kind string, amount int64, referenceID, remark string) (*models.LedgerEntry, error) {
	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	var newBalance int64
	switch kind {
	case models.EntryKindCredit:
		newBalance = account.Balance + amount
	case models.EntryKindDebit:
		if account.Balance < amount {
			return nil, ErrInsufficientBalance
		}
		newBalance = account.Balance - amount
	}

	entry, err := s.appendEntry(ctx, tx, userID, kind, amount, newBalance, referenceID, remark)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, userID, newBalance, account.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID int64) (*models.Account, error) {
	// Create the account lazily so a first credit or debit sees a zero
	// balance instead of a missing row.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, version, updated_at)
		VALUES ($1, 0, 1, NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, storageErr("init account", err)
	}

	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, balance, version, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&account.UserID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, storageErr("lock account", err)
	}
	return &account, nil
}

func (s *LedgerService) appendEntry(ctx context.Context, tx *sql.Tx, userID int64, kind string, amount, balanceAfter int64, referenceID, remark string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		EntryID:      uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		ReferenceID:  referenceID,
		Remark:       remark,
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (entry_id, user_id, kind, amount, balance_after, reference_id, remark, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`,
		entry.EntryID, userID, kind, amount, balanceAfter, referenceID, remark).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, storageErr("append entry", err)
	}
	return entry, nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, userID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE user_id = $2 AND version = $3`,
		newBalance, userID, version)
	if err != nil {
		return storageErr("update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update balance", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: optimistic lock failed for user %d", ErrStorage, userID)
	}
	return nil
}
