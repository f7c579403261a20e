package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dishsnap/backend/internal/models"
	"github.com/dishsnap/backend/internal/services"
	"github.com/stretchr/testify/assert"
)

func authedRequest(method, target string, userID int64) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(context.WithValue(req.Context(), "userID", userID))
}

func TestBalanceHandler_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewBalanceHandler(services.NewLedgerService(db))

	t.Run("returns balance in cents and yuan", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance FROM accounts WHERE user_id = \\$1").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1250))

		rec := httptest.NewRecorder()
		handler.GetBalance(rec, authedRequest(http.MethodGet, "/api/v1/balance", 7))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				Balance     int64  `json:"balance"`
				BalanceYuan string `json:"balanceYuan"`
			} `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, int64(1250), resp.Data.Balance)
		assert.Equal(t, "12.50", resp.Data.BalanceYuan)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user context rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBalanceHandler_GetHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewBalanceHandler(services.NewLedgerService(db))

	t.Run("returns entries with paging", func(t *testing.T) {
		now := time.Now()
		cols := []string{"id", "entry_id", "user_id", "kind", "amount", "balance_after", "reference_id", "remark", "created_at"}
		mock.ExpectQuery("SELECT id, entry_id, user_id, kind, amount, balance_after, reference_id, remark, created_at FROM ledger_entries").
			WithArgs(int64(7), 5, 10).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(3, "e3", 7, models.EntryKindDebit, 150, 350, "edit-1", "usage", now))

		rec := httptest.NewRecorder()
		handler.GetHistory(rec, authedRequest(http.MethodGet, "/api/v1/balance/history?limit=5&offset=10", 7))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Entries []models.LedgerEntry `json:"entries"`
			Count   int                  `json:"count"`
		}
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "e3", resp.Entries[0].EntryID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("out of range paging falls back to defaults", func(t *testing.T) {
		cols := []string{"id", "entry_id", "user_id", "kind", "amount", "balance_after", "reference_id", "remark", "created_at"}
		mock.ExpectQuery("SELECT id, entry_id, user_id, kind, amount, balance_after, reference_id, remark, created_at FROM ledger_entries").
			WithArgs(int64(7), 20, 0).
			WillReturnRows(sqlmock.NewRows(cols))

		rec := httptest.NewRecorder()
		handler.GetHistory(rec, authedRequest(http.MethodGet, "/api/v1/balance/history?limit=500&offset=-1", 7))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
