package models

import (
	"time"
)

// Entry kinds. Direction is implied by the kind; Amount is always positive.
const (
	EntryKindCredit = "CREDIT"
	EntryKindDebit  = "DEBIT"
)

// Recharge request lifecycle. SETTLED and FAILED are terminal.
const (
	RechargeStatusPending = "PENDING"
	RechargeStatusSettled = "SETTLED"
	RechargeStatusFailed  = "FAILED"
)

type LedgerEntry struct {
	ID           int64     `json:"id" db:"id"`
	EntryID      string    `json:"entry_id" db:"entry_id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	Kind         string    `json:"kind" db:"kind"`     // CREDIT or DEBIT
	Amount       int64     `json:"amount" db:"amount"` // in cents
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	ReferenceID  string    `json:"reference_id" db:"reference_id"`
	Remark       string    `json:"remark" db:"remark"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Account struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"` // in cents, never negative
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RechargeRequest maps one external payment transaction id to at most one
// CREDIT entry, no matter how many times the settlement callback fires.
type RechargeRequest struct {
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Status        string    `json:"status" db:"status"`
	LedgerEntryID int64     `json:"ledger_entry_id" db:"ledger_entry_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
