package database

import (
	"database/sql"
	"fmt"
	"log"
)

// EnsureSchema creates the tables on startup if they do not exist yet.
// Statements are idempotent so restarts are safe.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              BIGSERIAL PRIMARY KEY,
			openid          TEXT NOT NULL UNIQUE,
			nickname        TEXT NOT NULL DEFAULT '',
			avatar_url      TEXT NOT NULL DEFAULT '',
			register_time   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login_time TIMESTAMPTZ,
			status          INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id    BIGINT PRIMARY KEY,
			balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			version    INT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id            BIGSERIAL PRIMARY KEY,
			entry_id      TEXT NOT NULL UNIQUE,
			user_id       BIGINT NOT NULL,
			kind          TEXT NOT NULL CHECK (kind IN ('CREDIT', 'DEBIT')),
			amount        BIGINT NOT NULL CHECK (amount > 0),
			balance_after BIGINT NOT NULL,
			reference_id  TEXT NOT NULL DEFAULT '',
			remark        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries (user_id, created_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS recharge_requests (
			transaction_id  TEXT PRIMARY KEY,
			user_id         BIGINT NOT NULL,
			amount          BIGINT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'PENDING',
			ledger_entry_id BIGINT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS edit_records (
			id           BIGSERIAL PRIMARY KEY,
			user_id      BIGINT NOT NULL,
			prompt       TEXT NOT NULL DEFAULT '',
			input_images TEXT NOT NULL DEFAULT '[]',
			output_image TEXT,
			status       INT NOT NULL DEFAULT 0,
			cost         BIGINT NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edit_records_user ON edit_records (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	log.Println("Database schema verified")
	return nil
}
