package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dishsnap/backend/internal/config"
	"github.com/dishsnap/backend/internal/models"
)

// EditService forwards editing requests to the generative model API and
// owns the billing order: charge first, call the external API second, and
// refund the charge if the external call fails. The refund is this caller's
// policy; the meter itself never compensates.
type EditService struct {
	db          *sql.DB
	metering    *MeteringService
	validator   *ValidationHelper
	httpClient  *http.Client
	apiEndpoint string
	apiKey      string
	model       string
	imagesDir   string
}

// EditRequest is the image editing payload
// @Description Image edit request structure
type EditRequest struct {
	Instruction string   `json:"instruction" validate:"required" example:"make the noodles look fresher"` // Edit instruction
	ImageUrls   []string `json:"imageUrls" validate:"required,min=1,dive,url"`                            // Source image URLs
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewEditService(db *sql.DB, metering *MeteringService) *EditService {
	apiEndpoint := os.Getenv("API_ENDPOINT")
	if apiEndpoint == "" {
		apiEndpoint = "https://api.apiyi.com/v1/chat/completions"
	}
	model := os.Getenv("EDIT_MODEL")
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	cfg := config.LoadMeteringConfig()
	if err := os.MkdirAll(cfg.ImagesDir, 0o755); err != nil {
		log.Printf("[EDIT] Failed to create images dir %s: %v", cfg.ImagesDir, err)
	}
	return &EditService{
		db:          db,
		metering:    metering,
		validator:   NewValidationHelper(),
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		apiEndpoint: apiEndpoint,
		apiKey:      os.Getenv("API_KEY"),
		model:       model,
		imagesDir:   cfg.ImagesDir,
	}
}

// EditImage forwards an edit request to the model API
// @Summary Edit an image
// @Description Charge the user, forward the instruction and source images to the generative API, and store the result
// @Tags edit
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EditRequest true "Edit request"
// @Success 200 {object} object{recordId=int64,outputImage=string,charged=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse "Insufficient balance"
// @Failure 502 {object} ErrorResponse
// @Router /edit-image [post]
func (s *EditService) EditImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req EditRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	for _, raw := range req.ImageUrls {
		if _, err := url.ParseRequestURI(raw); err != nil {
			SendErrorResponse(w, fmt.Sprintf("Invalid image URL: %s", raw), http.StatusBadRequest, nil)
			return
		}
	}

	recordID, err := s.createEditRecord(userID, req.Instruction, req.ImageUrls)
	if err != nil {
		log.Printf("[EDIT] Failed to create edit record for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to record edit", http.StatusInternalServerError, nil)
		return
	}
	referenceID := fmt.Sprintf("edit-%d", recordID)

	charge, err := s.metering.ChargeForAction(r.Context(), userID, ActionImageEdit, referenceID, recordID)
	if err != nil {
		s.finishEditRecord(recordID, models.EditStatusFailed, "", 0)
		if errors.Is(err, ErrInsufficientBalance) {
			SendErrorResponse(w, "Insufficient balance, please recharge", http.StatusPaymentRequired, nil)
			return
		}
		log.Printf("[EDIT] Charge failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to charge for edit", http.StatusInternalServerError, nil)
		return
	}

	outputImage, err := s.forwardEdit(req.Instruction, req.ImageUrls)
	if err != nil {
		log.Printf("[EDIT] Model API call failed for record %d: %v", recordID, err)
		s.finishEditRecord(recordID, models.EditStatusFailed, "", charge.Amount)
		if charge.Amount > 0 {
			if _, refundErr := s.metering.Refund(r.Context(), userID, charge.Amount, referenceID); refundErr != nil {
				// Charge stays visible in history until an operator resolves it.
				log.Printf("[EDIT] Refund failed for record %d: %v", recordID, refundErr)
			}
		}
		SendErrorResponse(w, "Image editing service unavailable", http.StatusBadGateway, nil)
		return
	}

	s.finishEditRecord(recordID, models.EditStatusCompleted, outputImage, charge.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"recordId":    recordID,
			"outputImage": outputImage,
			"charged":     charge.Amount,
			"free":        charge.Free,
		},
	})
}

// ListEditRecords returns the caller's edit history
// @Summary List edit records
// @Description Edit records of the authenticated user, most recent first
// @Tags edit
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} object{records=[]models.EditRecord,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /edit-records [get]
func (s *EditService) ListEditRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
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

	rows, err := s.db.Query(`
		SELECT id, user_id, prompt, input_images, COALESCE(output_image, ''), status, cost, created_at, completed_at
		FROM edit_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch edit records", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	records := []models.EditRecord{}
	for rows.Next() {
		var rec models.EditRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Prompt, &rec.InputImages,
			&rec.OutputImage, &rec.Status, &rec.Cost, &rec.CreatedAt, &rec.CompletedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch edit records", http.StatusInternalServerError, nil)
			return
		}
		records = append(records, rec)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (s *EditService) createEditRecord(userID int64, prompt string, imageUrls []string) (int64, error) {
	inputImages, _ := json.Marshal(imageUrls)

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO edit_records (user_id, prompt, input_images, status, cost, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		RETURNING id`,
		userID, prompt, string(inputImages), models.EditStatusProcessing).Scan(&id)
	return id, err
}

func (s *EditService) finishEditRecord(recordID int64, status int, outputImage string, cost int64) {
	_, err := s.db.Exec(`
		UPDATE edit_records
		SET status = $1, output_image = $2, cost = $3, completed_at = NOW()
		WHERE id = $4`,
		status, outputImage, cost, recordID)
	if err != nil {
		log.Printf("[EDIT] Failed to finish edit record %d: %v", recordID, err)
	}
}

// forwardEdit calls the chat-completions endpoint and saves the image the
// model returns. The reply embeds the base64 payload in parentheses inside
// the message content.
func (s *EditService) forwardEdit(instruction string, imageUrls []string) (string, error) {
	content := []map[string]any{
		{"type": "text", "text": instruction},
	}
	for _, u := range imageUrls {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": u},
		})
	}

	body, err := json.Marshal(map[string]any{
		"model":    s.model,
		"stream":   false,
		"messages": []chatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequest(http.MethodPost, s.apiEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	timestamp := time.Now().UnixMilli()
	for i, choice := range result.Choices {
		payload, ok := extractBase64(choice.Message.Content)
		if !ok {
			continue
		}
		name := fmt.Sprintf("image_%d_%d.png", timestamp, i)
		if err := s.saveBase64Image(payload, filepath.Join(s.imagesDir, name)); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", fmt.Errorf("no image in model response")
}

// extractBase64 pulls the base64 payload out of the model's reply text.
func extractBase64(content string) (string, bool) {
	first := strings.Index(content, "(")
	last := strings.Index(content, ")")
	if first == -1 || last == -1 || last <= first+1 {
		return "", false
	}
	return content[first+1 : last], true
}

func (s *EditService) saveBase64Image(base64Str, outputPath string) error {
	// Strip a data-URL header like data:image/png;base64, if present.
	if idx := strings.Index(base64Str, ";base64,"); idx != -1 {
		base64Str = base64Str[idx+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(base64Str)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}
