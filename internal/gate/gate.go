// Package gate enforces the hard preconditions of a short code before routing runs.
package gate

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jack/qr-redirect-service/internal/model"
)

var (
	ErrNotFound         = errors.New("short code not found")
	ErrExpired          = errors.New("short code has expired")
	ErrLimitReached     = errors.New("short code scan limit reached")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
)

// Check returns nil when the record may be resolved, or the first denial in
// the order not found, expired, limit reached, password required, invalid password.
// An empty password means none was supplied.
func Check(record *model.ShortCode, password string, now time.Time) error {
	if record == nil {
		return ErrNotFound
	}
	if record.IsExpired(now) {
		return ErrExpired
	}
	if record.LimitReached() {
		return ErrLimitReached
	}
	if record.HasPassword() {
		if password == "" {
			return ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*record.PasswordHash), []byte(password)); err != nil {
			return ErrInvalidPassword
		}
	}
	return nil
}

// IsDenial reports whether err is one of the business denials above.
func IsDenial(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrLimitReached) ||
		errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrInvalidPassword)
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
