package model

import (
	"time"
)

// ShortCode is one dynamic QR code: a short token pointing at a mutable destination.
type ShortCode struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	ShortCode     string     `json:"short_code" gorm:"column:short_code;uniqueIndex;size:12;not null"`
	Destination   string     `json:"destination" gorm:"type:text;not null"`
	PasswordHash  *string    `json:"-" gorm:"size:255"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	MaxScans      *int64     `json:"max_scans,omitempty"`
	ScanCount     int64      `json:"scan_count" gorm:"not null;default:0"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	OwnerID       string     `json:"owner_id,omitempty" gorm:"size:64;index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (ShortCode) TableName() string {
	return "short_codes"
}

// IsExpired reports whether the code's expiry is set and lies before now.
func (s *ShortCode) IsExpired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// LimitReached reports whether the hard scan cap has been hit.
func (s *ShortCode) LimitReached() bool {
	return s.MaxScans != nil && s.ScanCount >= *s.MaxScans
}

func (s *ShortCode) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// CreateShortCodeRequest is the body of POST /api/v1/codes
type CreateShortCodeRequest struct {
	URL       string `json:"url" binding:"required"`
	Password  string `json:"password,omitempty"`
	ExpiresIn string `json:"expires_in,omitempty"` // e.g., "24h", "7d"
	MaxScans  *int64 `json:"max_scans,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
}

// UpdateShortCodeRequest is the body of PATCH /api/v1/codes/:code.
// Nil fields are left untouched; the Clear* flags remove a gate.
type UpdateShortCodeRequest struct {
	Destination   *string    `json:"destination,omitempty"`
	Password      *string    `json:"password,omitempty"`
	ClearPassword bool       `json:"clear_password,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ClearExpiry   bool       `json:"clear_expiry,omitempty"`
	MaxScans      *int64     `json:"max_scans,omitempty"`
	ClearMaxScans bool       `json:"clear_max_scans,omitempty"`
}

type ShortCodeResponse struct {
	ID          string `json:"id"`
	ShortCode   string `json:"short_code"`
	ShortURL    string `json:"short_url"`
	QRCodeURL   string `json:"qr_code_url"`
	Destination string `json:"destination"`
	Protected   bool   `json:"protected"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	MaxScans    *int64 `json:"max_scans,omitempty"`
}

// StatsResponse is the owner-visible counter view of a code.
type StatsResponse struct {
	ShortCode     string     `json:"short_code"`
	Destination   string     `json:"destination"`
	ScanCount     int64      `json:"scan_count"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	MaxScans      *int64     `json:"max_scans,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Expired       bool       `json:"expired"`
	Protected     bool       `json:"protected"`
	ActiveRules   int        `json:"active_rules"`
	CreatedAt     time.Time  `json:"created_at"`
}

type VerifyPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

type VerifyPasswordResponse struct {
	Destination string `json:"destination"`
}
