package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dishsnap/backend/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type AuthService struct {
	db            *sql.DB
	redis         *redis.Client
	ledger        *LedgerService
	validator     *validator.Validate
	httpClient    *http.Client
	wechatAPIBase string
}

// LoginRequest is the mini-program login payload
// @Description WeChat login request structure
type LoginRequest struct {
	Code     string `json:"code" validate:"required" example:"0f3Kq0100abcde"` // wx.login code
	UserInfo struct {
		Nickname  string `json:"nickname" example:"foodie"`
		AvatarURL string `json:"avatarUrl" example:"https://thirdwx.qlogo.cn/a.png"`
	} `json:"userInfo"`
}

// AuthResponse is the login response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

type codeSessionResult struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *AuthService {
	wechatAPIBase := viper.GetString("wechat.api_base")
	if wechatAPIBase == "" {
		wechatAPIBase = "https://api.weixin.qq.com"
	}
	return &AuthService{
		db:            db,
		redis:         redisClient,
		ledger:        ledger,
		validator:     validator.New(),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		wechatAPIBase: wechatAPIBase,
	}
}

// Login exchanges a wx.login code for a session token
// @Summary WeChat mini-program login
// @Description Exchange a wx.login code for a JWT, creating the user and a zero-balance account on first login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := s.exchangeCode(req.Code)
	if err != nil {
		log.Printf("[AUTH] WeChat code exchange failed: %v", err)
		SendErrorResponse(w, "WeChat verification unavailable", http.StatusBadGateway, nil)
		return
	}
	if session.OpenID == "" {
		SendErrorResponse(w, "Failed to obtain openid", http.StatusBadGateway, nil)
		return
	}

	user, err := s.upsertUser(session.OpenID, req.UserInfo.Nickname, req.UserInfo.AvatarURL)
	if err != nil {
		log.Printf("[AUTH] User upsert failed for openid %s: %v", session.OpenID, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	if user.Status == models.UserStatusBanned {
		SendErrorResponse(w, "Account disabled", http.StatusForbidden, nil)
		return
	}

	// First login creates the zero-balance account as a side effect.
	if _, err := s.ledger.GetBalance(r.Context(), user.ID); err != nil {
		log.Printf("[AUTH] Balance init failed for user %d: %v", user.ID, err)
	}

	token, err := generateJWT(user.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if expiry == 0 {
			expiry = 24 * time.Hour
		}
		if err := s.redis.Set(r.Context(), sessionKey(user.ID), token, expiry).Err(); err != nil {
			log.Printf("[AUTH] Session store failed for user %d: %v", user.ID, err)
		}
	}

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: *user})
}

// Logout invalidates the caller's session
// @Summary Logout
// @Description Drop the server-side session for the presented token
// @Tags auth
// @Produce json
// @Success 200 {object} object{success=bool}
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && parts[0] == "Bearer" && s.redis != nil {
		if userID, err := parseJWT(parts[1]); err == nil {
			s.redis.Del(r.Context(), sessionKey(userID))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// GetUserInfo returns the caller's profile
// @Summary Get user info
// @Description Profile of the authenticated user
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /user/info [get]
func (s *AuthService) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok || userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, openid, nickname, avatar_url, register_time, last_login_time, status
		FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.OpenID, &user.Nickname, &user.AvatarURL,
			&user.RegisterTime, &user.LastLoginTime, &user.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"userId":        user.ID,
			"nickname":      user.Nickname,
			"avatarUrl":     user.AvatarURL,
			"registerTime":  user.RegisterTime,
			"lastLoginTime": user.LastLoginTime,
			"status":        user.Status,
		},
	})
}

func (s *AuthService) exchangeCode(code string) (*codeSessionResult, error) {
	endpoint := fmt.Sprintf("%s/sns/jscode2session?appid=%s&secret=%s&js_code=%s&grant_type=authorization_code",
		s.wechatAPIBase,
		url.QueryEscape(viper.GetString("wechat.appid")),
		url.QueryEscape(viper.GetString("wechat.secret")),
		url.QueryEscape(code))

	resp, err := s.httpClient.Get(endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result codeSessionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.ErrCode != 0 {
		return nil, fmt.Errorf("wechat error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return &result, nil
}

func (s *AuthService) upsertUser(openid, nickname, avatarURL string) (*models.User, error) {
	// Single statement so two concurrent first logins for one openid
	// cannot race on row existence; the loser of the insert takes the
	// conflict branch and still gets the row back.
	var user models.User
	err := s.db.QueryRow(`
		INSERT INTO users (openid, nickname, avatar_url, register_time, last_login_time, status)
		VALUES ($1, $2, $3, NOW(), NOW(), $4)
		ON CONFLICT (openid) DO UPDATE SET last_login_time = NOW()
		RETURNING id, openid, nickname, avatar_url, register_time, last_login_time, status`,
		openid, nickname, avatarURL, models.UserStatusActive).
		Scan(&user.ID, &user.OpenID, &user.Nickname, &user.AvatarURL,
			&user.RegisterTime, &user.LastLoginTime, &user.Status)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

func generateJWT(userID int64) (string, error) {
	expiryHours := viper.GetInt("jwt.expiry_hours")
	if expiryHours == 0 {
		expiryHours = 24
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Duration(expiryHours) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func parseJWT(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("missing user_id claim")
	}
	return int64(userID), nil
}
