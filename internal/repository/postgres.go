package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/model"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, cfg *config.PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

const shortCodeColumns = `id, short_code, destination, password_hash, expires_at, max_scans,
	scan_count, last_scanned_at, owner_id, created_at, updated_at`

func scanShortCode(row pgx.Row) (*model.ShortCode, error) {
	var sc model.ShortCode
	err := row.Scan(
		&sc.ID,
		&sc.ShortCode,
		&sc.Destination,
		&sc.PasswordHash,
		&sc.ExpiresAt,
		&sc.MaxScans,
		&sc.ScanCount,
		&sc.LastScannedAt,
		&sc.OwnerID,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (r *PostgresRepository) FindByShortCode(ctx context.Context, code string) (*model.ShortCode, error) {
	query := `SELECT ` + shortCodeColumns + ` FROM short_codes WHERE short_code = $1`

	sc, err := scanShortCode(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get short code: %w", err)
	}

	return sc, nil
}

func (r *PostgresRepository) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM short_codes WHERE short_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CreateShortCode(ctx context.Context, sc *model.ShortCode) error {
	query := `
		INSERT INTO short_codes (id, short_code, destination, password_hash, expires_at, max_scans, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING scan_count, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		sc.ID, sc.ShortCode, sc.Destination, sc.PasswordHash, sc.ExpiresAt, sc.MaxScans, sc.OwnerID,
	).Scan(&sc.ScanCount, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateShortCode
		}
		return fmt.Errorf("failed to create short code: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateShortCode(ctx context.Context, sc *model.ShortCode) error {
	query := `
		UPDATE short_codes
		SET destination = $1, password_hash = $2, expires_at = $3, max_scans = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query, sc.Destination, sc.PasswordHash, sc.ExpiresAt, sc.MaxScans, sc.ID).Scan(&sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update short code: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListShortCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT short_code FROM short_codes`)
	if err != nil {
		return nil, fmt.Errorf("failed to list short codes: %w", err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list short codes: %w", err)
	}
	return codes, nil
}

// IncrementScanCount bumps scan_count in the database, never read-modify-write.
func (r *PostgresRepository) IncrementScanCount(ctx context.Context, shortCodeID string, at time.Time) error {
	return incrementScanCount(ctx, r.pool, shortCodeID, at)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func incrementScanCount(ctx context.Context, db execer, shortCodeID string, at time.Time) error {
	query := `UPDATE short_codes SET scan_count = scan_count + 1, last_scanned_at = $1 WHERE id = $2`

	result, err := db.Exec(ctx, query, at, shortCodeID)
	if err != nil {
		return fmt.Errorf("failed to increment scan count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateScanEvent(ctx context.Context, event *model.ScanEvent) error {
	return insertScanEvent(ctx, r.pool, event)
}

func insertScanEvent(ctx context.Context, db execer, e *model.ScanEvent) error {
	query := `
		INSERT INTO scan_events (id, short_code_id, scanned_at, ip_address, user_agent, device, browser, os, country, city, referrer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := db.Exec(ctx, query,
		e.ID, e.ShortCodeID, e.ScannedAt, e.IPAddress, e.UserAgent,
		e.Device, e.Browser, e.OS, e.Country, e.City, e.Referrer,
	)
	if err != nil {
		return fmt.Errorf("failed to create scan event: %w", err)
	}
	return nil
}

// RecordScan inserts the event and bumps the counter in one transaction.
func (r *PostgresRepository) RecordScan(ctx context.Context, event *model.ScanEvent) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertScanEvent(ctx, tx, event); err != nil {
			return err
		}
		return incrementScanCount(ctx, tx, event.ShortCodeID, event.ScannedAt)
	})
}

func (r *PostgresRepository) ListScanEvents(ctx context.Context, shortCodeID string, limit int) ([]model.ScanEvent, error) {
	query := `
		SELECT id, short_code_id, scanned_at, ip_address, user_agent, device, browser, os, country, city, referrer
		FROM scan_events
		WHERE short_code_id = $1
		ORDER BY scanned_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, shortCodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan events: %w", err)
	}
	defer rows.Close()

	var events []model.ScanEvent
	for rows.Next() {
		var e model.ScanEvent
		if err := rows.Scan(
			&e.ID, &e.ShortCodeID, &e.ScannedAt, &e.IPAddress, &e.UserAgent,
			&e.Device, &e.Browser, &e.OS, &e.Country, &e.City, &e.Referrer,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scan events: %w", err)
	}

	return events, nil
}

func (r *PostgresRepository) ListActiveRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error) {
	return r.listRules(ctx, shortCodeID, true)
}

func (r *PostgresRepository) ListRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, error) {
	return r.listRules(ctx, shortCodeID, false)
}

func (r *PostgresRepository) listRules(ctx context.Context, shortCodeID string, activeOnly bool) ([]model.RoutingRule, error) {
	query := `
		SELECT id, short_code_id, type, condition_data::text, destination, priority, active, created_at
		FROM routing_rules
		WHERE short_code_id = $1 AND (active OR NOT $2)
		ORDER BY priority DESC, created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, shortCodeID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.RoutingRule
	for rows.Next() {
		var rule model.RoutingRule
		if err := rows.Scan(
			&rule.ID, &rule.ShortCodeID, &rule.Type, &rule.RawCondition,
			&rule.Destination, &rule.Priority, &rule.Active, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *model.RoutingRule) error {
	query := `
		INSERT INTO routing_rules (id, short_code_id, type, condition_data, destination, priority, active)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		rule.ID, rule.ShortCodeID, string(rule.Type), rule.RawCondition, rule.Destination, rule.Priority, rule.Active,
	).Scan(&rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, shortCodeID string, ruleID int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1 AND short_code_id = $2`, ruleID, shortCodeID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Health checks the database connection
func (r *PostgresRepository) Health(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
