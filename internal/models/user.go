package models

import (
	"time"
)

// User status values
const (
	UserStatusActive = 0
	UserStatusBanned = 1
)

// Edit record status values
const (
	EditStatusProcessing = 0
	EditStatusCompleted  = 1
	EditStatusFailed     = 2
)

// User represents a mini-program user identified by WeChat openid
type User struct {
	ID            int64      `json:"id" db:"id"`
	OpenID        string     `json:"openid" db:"openid"`
	Nickname      string     `json:"nickname" db:"nickname"`
	AvatarURL     string     `json:"avatar_url" db:"avatar_url"`
	RegisterTime  time.Time  `json:"register_time" db:"register_time"`
	LastLoginTime *time.Time `json:"last_login_time" db:"last_login_time"`
	Status        int        `json:"status" db:"status"`
}

// EditRecord represents one image editing request
type EditRecord struct {
	ID            int64      `json:"id" db:"id"`
	UserID        int64      `json:"user_id" db:"user_id"`
	Prompt        string     `json:"prompt" db:"prompt"`
	InputImages   string     `json:"input_images" db:"input_images"`
	OutputImage   string     `json:"output_image" db:"output_image"`
	Status        int        `json:"status" db:"status"`
	Cost          int64      `json:"cost" db:"cost"` // in cents, 0 for free-tier edits
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time `json:"completed_at" db:"completed_at"`
}
