package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jack/qr-redirect-service/internal/model"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateShortCode = errors.New("short code already exists")
)

// Store is the persistence contract shared by the Postgres and gorm backends.
type Store interface {
	FindByShortCode(ctx context.Context, code string) (*model.ShortCode, error)
	ShortCodeExists(ctx context.Context, code string) (bool, error)
	CreateShortCode(ctx context.Context, sc *model.ShortCode) error
	// UpdateShortCode writes the owner-editable fields only; scan_count is never touched.
	UpdateShortCode(ctx context.Context, sc *model.ShortCode) error
	ListShortCodes(ctx context.Context) ([]string, error)

	IncrementScanCount(ctx context.Context, shortCodeID string, at time.Time) error
	CreateScanEvent(ctx context.Context, event *model.ScanEvent) error
	RecordScan(ctx context.Context, event *model.ScanEvent) error
	ListScanEvents(ctx context.Context, shortCodeID string, limit int) ([]model.ScanEvent, error)

	ListActiveRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error)
	ListRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error)
	CreateRule(ctx context.Context, rule *model.RoutingRule) error
	DeleteRule(ctx context.Context, shortCodeID string, ruleID int64) error

	Health(ctx context.Context) error
	Close() error
}
