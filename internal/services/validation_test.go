package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper(t *testing.T) {
	vh := NewValidationHelper()

	type payload struct {
		Name   string `validate:"required"`
		Amount int64  `validate:"gt=0"`
	}

	assert.NoError(t, vh.ValidateStruct(&payload{Name: "dish", Amount: 50}))
	assert.Error(t, vh.ValidateStruct(&payload{Amount: 50}))
	assert.Error(t, vh.ValidateStruct(&payload{Name: "dish", Amount: 0}))
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Something broke", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Something broke", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation details included", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&struct {
			Code string `validate:"required"`
		}{})
		assert.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp.Details, "Code")
	})
}
