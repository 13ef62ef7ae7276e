package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/model"
)

// GormRepository is the Store for the embedded sqlite and the MySQL backends.
type GormRepository struct {
	db *gorm.DB
}

// OpenGorm opens the backend named by cfg.Driver ("sqlite" or "mysql").
func OpenGorm(cfg *config.StorageConfig) (*GormRepository, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewGormRepository(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), true)
	case "mysql":
		return NewGormRepository(mysql.Open(cfg.MySQLDSN), false)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", cfg.Driver)
	}
}

// NewGormRepository opens dialector, limits sqlite to a single connection and
// migrates the schema.
func NewGormRepository(dialector gorm.Dialector, singleConn bool) (*GormRepository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if singleConn {
		// sqlite allows one writer; an in-memory database also lives in a single connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := db.AutoMigrate(&model.ShortCode{}, &model.RoutingRule{}, &model.ScanEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *GormRepository) FindByShortCode(ctx context.Context, code string) (*model.ShortCode, error) {
	var sc model.ShortCode
	err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&sc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get short code: %w", err)
	}
	return &sc, nil
}

func (r *GormRepository) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ShortCode{}).Where("short_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return count > 0, nil
}

func (r *GormRepository) CreateShortCode(ctx context.Context, sc *model.ShortCode) error {
	if err := r.db.WithContext(ctx).Create(sc).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateShortCode
		}
		return fmt.Errorf("failed to create short code: %w", err)
	}
	return nil
}

func (r *GormRepository) UpdateShortCode(ctx context.Context, sc *model.ShortCode) error {
	sc.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Model(&model.ShortCode{}).Where("id = ?", sc.ID).Updates(map[string]any{
		"destination":   sc.Destination,
		"password_hash": sc.PasswordHash,
		"expires_at":    sc.ExpiresAt,
		"max_scans":     sc.MaxScans,
		"updated_at":    sc.UpdatedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update short code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) ListShortCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.ShortCode{}).Pluck("short_code", &codes).Error; err != nil {
		return nil, fmt.Errorf("failed to list short codes: %w", err)
	}
	return codes, nil
}

func (r *GormRepository) IncrementScanCount(ctx context.Context, shortCodeID string, at time.Time) error {
	return incrementScanCountGorm(r.db.WithContext(ctx), shortCodeID, at)
}

func incrementScanCountGorm(db *gorm.DB, shortCodeID string, at time.Time) error {
	result := db.Model(&model.ShortCode{}).Where("id = ?", shortCodeID).UpdateColumns(map[string]any{
		"scan_count":      gorm.Expr("scan_count + ?", 1),
		"last_scanned_at": at,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to increment scan count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) CreateScanEvent(ctx context.Context, event *model.ScanEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create scan event: %w", err)
	}
	return nil
}

func (r *GormRepository) RecordScan(ctx context.Context, event *model.ScanEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to create scan event: %w", err)
		}
		return incrementScanCountGorm(tx, event.ShortCodeID, event.ScannedAt)
	})
}

func (r *GormRepository) ListScanEvents(ctx context.Context, shortCodeID string, limit int) ([]model.ScanEvent, error) {
	var events []model.ScanEvent
	err := r.db.WithContext(ctx).
		Where("short_code_id = ?", shortCodeID).
		Order("scanned_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scan events: %w", err)
	}
	return events, nil
}

func (r *GormRepository) ListActiveRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error) {
	return listRulesGorm(r.db.WithContext(ctx).Where("short_code_id = ? AND active = ?", shortCodeID, true))
}

func (r *GormRepository) ListRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error) {
	return listRulesGorm(r.db.WithContext(ctx).Where("short_code_id = ?", shortCodeID))
}

func listRulesGorm(q *gorm.DB) ([]model.RoutingRule, error) {
	var rules []model.RoutingRule
	if err := q.Order("priority DESC, created_at ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (r *GormRepository) CreateRule(ctx context.Context, rule *model.RoutingRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteRule(ctx context.Context, shortCodeID string, ruleID int64) error {
	result := r.db.WithContext(ctx).Where("id = ? AND short_code_id = ?", ruleID, shortCodeID).Delete(&model.RoutingRule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) Health(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicateKey covers drivers that do not translate unique violations.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}
