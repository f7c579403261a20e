package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dishsnap/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func newModelStub(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func authedEditRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/edit-image", strings.NewReader(body))
	return req.WithContext(context.WithValue(req.Context(), "userID", int64(7)))
}

func expectRecordCreate(mock sqlmock.Sqlmock, userID, recordID int64) {
	mock.ExpectQuery("INSERT INTO edit_records").
		WithArgs(userID, sqlmock.AnyArg(), sqlmock.AnyArg(), models.EditStatusProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(recordID))
}

func expectRecordFinish(mock sqlmock.Sqlmock, recordID int64, status int, cost int64) {
	mock.ExpectExec("UPDATE edit_records SET status = \\$1, output_image = \\$2, cost = \\$3, completed_at = NOW\\(\\) WHERE id = \\$4").
		WithArgs(status, sqlmock.AnyArg(), cost, recordID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

const editBody = `{"instruction":"make the noodles look fresher","imageUrls":["https://cdn.example.com/dish.png"]}`

func TestEditService_EditImage(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("METERING_EDIT_COST", "50")

	t.Run("third edit of the day is free and stores the result", func(t *testing.T) {
		imagesDir := t.TempDir()
		t.Setenv("IMAGES_DIR", imagesDir)
		t.Setenv("METERING_FREE_DAILY_LIMIT", "3")

		payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
		stub := newModelStub(t, http.StatusOK, fmt.Sprintf("Here is your edit: (data:image/png;base64,%s)", payload))
		t.Setenv("API_ENDPOINT", stub.URL)

		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

		// the attempt's own record is already written when the allowance
		// is checked; only the two earlier attempts count against it
		expectRecordCreate(mock, 7, 3)
		expectPriorCount(mock, 7, 3, 2)
		expectRecordFinish(mock, 3, models.EditStatusCompleted, 0)

		rec := httptest.NewRecorder()
		service.EditImage(rec, authedEditRequest(editBody))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				RecordID    int64  `json:"recordId"`
				OutputImage string `json:"outputImage"`
				Charged     int64  `json:"charged"`
				Free        bool   `json:"free"`
			} `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.True(t, resp.Data.Free)
		assert.Equal(t, int64(0), resp.Data.Charged)
		assert.Equal(t, int64(3), resp.Data.RecordID)
		assert.NotEmpty(t, resp.Data.OutputImage)

		saved, err := os.ReadFile(filepath.Join(imagesDir, resp.Data.OutputImage))
		assert.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), saved)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("model failure refunds the charge", func(t *testing.T) {
		t.Setenv("IMAGES_DIR", t.TempDir())
		t.Setenv("METERING_FREE_DAILY_LIMIT", "0")

		stub := newModelStub(t, http.StatusInternalServerError, "")
		t.Setenv("API_ENDPOINT", stub.URL)

		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

		expectRecordCreate(mock, 7, 2)
		expectPriorCount(mock, 7, 2, 0)

		// charge
		mock.ExpectBegin()
		expectAccountLock(mock, 7, 100, 1)
		expectEntryInsert(mock, 7, models.EntryKindDebit, 50, 50, "edit-2", "image edit charge", 20)
		expectBalanceUpdate(mock, 7, 50, 1)
		mock.ExpectCommit()

		expectRecordFinish(mock, 2, models.EditStatusFailed, 50)

		// compensating credit
		mock.ExpectBegin()
		expectAccountLock(mock, 7, 50, 2)
		expectEntryInsert(mock, 7, models.EntryKindCredit, 50, 100, "edit-2", "refund for failed edit", 21)
		expectBalanceUpdate(mock, 7, 100, 2)
		mock.ExpectCommit()

		rec := httptest.NewRecorder()
		service.EditImage(rec, authedEditRequest(editBody))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance returns payment required", func(t *testing.T) {
		t.Setenv("IMAGES_DIR", t.TempDir())
		t.Setenv("METERING_FREE_DAILY_LIMIT", "0")

		stub := newModelStub(t, http.StatusOK, "")
		t.Setenv("API_ENDPOINT", stub.URL)

		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

		expectRecordCreate(mock, 7, 3)
		expectPriorCount(mock, 7, 3, 0)

		mock.ExpectBegin()
		expectAccountLock(mock, 7, 10, 1)
		mock.ExpectRollback()

		expectRecordFinish(mock, 3, models.EditStatusFailed, 0)

		rec := httptest.NewRecorder()
		service.EditImage(rec, authedEditRequest(editBody))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unauthenticated request rejected", func(t *testing.T) {
		t.Setenv("IMAGES_DIR", t.TempDir())

		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/edit-image", strings.NewReader(editBody))
		rec := httptest.NewRecorder()
		service.EditImage(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid payloads rejected before any record is written", func(t *testing.T) {
		t.Setenv("IMAGES_DIR", t.TempDir())

		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

		for _, body := range []string{
			`not json`,
			`{"instruction":"fix it"}`,
			`{"instruction":"fix it","imageUrls":[]}`,
			`{"instruction":"fix it","imageUrls":["not a url"]}`,
			`{"instruction":"fix it","imageUrls":["https://a/b.png"],"extra":1}`,
		} {
			rec := httptest.NewRecorder()
			service.EditImage(rec, authedEditRequest(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEditService_ListEditRecords(t *testing.T) {
	t.Setenv("IMAGES_DIR", t.TempDir())

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEditService(db, NewMeteringService(db, NewLedgerService(db)))

	now := time.Now()
	cols := []string{"id", "user_id", "prompt", "input_images", "output_image", "status", "cost", "created_at", "completed_at"}
	mock.ExpectQuery("SELECT id, user_id, prompt, input_images, COALESCE\\(output_image, ''\\), status, cost, created_at, completed_at FROM edit_records WHERE user_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs(int64(7), 20, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, 7, "brighter plating", `["https://a/2.png"]`, "image_2.png", models.EditStatusCompleted, 50, now, now).
			AddRow(1, 7, "fresher noodles", `["https://a/1.png"]`, "", models.EditStatusFailed, 0, now.Add(-time.Hour), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/edit-records", nil)
	req = req.WithContext(context.WithValue(req.Context(), "userID", int64(7)))
	rec := httptest.NewRecorder()
	service.ListEditRecords(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Records []models.EditRecord `json:"records"`
		Count   int                 `json:"count"`
	}
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(2), resp.Records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractBase64(t *testing.T) {
	payload, ok := extractBase64("here you go (aGVsbG8=) enjoy")
	assert.True(t, ok)
	assert.Equal(t, "aGVsbG8=", payload)

	_, ok = extractBase64("no image in this reply")
	assert.False(t, ok)

	_, ok = extractBase64("empty ()")
	assert.False(t, ok)
}
