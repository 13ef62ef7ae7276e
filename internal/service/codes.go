package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jack/qr-redirect-service/internal/gate"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/repository"
)

const (
	maxCodeAttempts = 10

	defaultScanLimit = 50
	maxScanLimit     = 500
)

func (s *RedirectService) CreateShortCode(ctx context.Context, req *model.CreateShortCodeRequest) (*model.ShortCode, error) {
	if err := ValidateDestination(req.URL); err != nil {
		return nil, err
	}

	now := s.now()
	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := parseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid expires_in %q", ErrInvalidRequest, req.ExpiresIn)
		}
		t := now.Add(d).UTC()
		expiresAt = &t
	}

	if req.MaxScans != nil && *req.MaxScans <= 0 {
		return nil, fmt.Errorf("%w: max_scans must be positive", ErrInvalidRequest)
	}

	sc := &model.ShortCode{
		ID:          uuid.NewString(),
		Destination: req.URL,
		ExpiresAt:   expiresAt,
		MaxScans:    req.MaxScans,
		OwnerID:     req.OwnerID,
	}

	if req.Password != "" {
		hash, err := gate.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		sc.PasswordHash = &hash
	}

	if err := s.allocateCode(ctx, sc); err != nil {
		return nil, err
	}

	s.logger.Info().Str("short_code", sc.ShortCode).Str("owner_id", sc.OwnerID).Msg("short code created")
	return sc, nil
}

// allocateCode picks a random code and inserts sc under it, retrying each
// collision with a longer code. The bloom filter skips the existence query for
// codes never issued.
func (s *RedirectService) allocateCode(ctx context.Context, sc *model.ShortCode) error {
	length := s.cfg.ShortCode.Length

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.randomCode(length)
		if err != nil {
			return fmt.Errorf("failed to generate short code: %w", err)
		}

		if s.filter != nil && s.filter.MayContain(code) {
			exists, err := s.store.ShortCodeExists(ctx, code)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			if exists {
				length = s.nextLength(length)
				continue
			}
		}

		sc.ShortCode = code
		err = s.store.CreateShortCode(ctx, sc)
		if err == nil {
			if s.filter != nil {
				s.filter.Add(code)
			}
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateShortCode) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		length = s.nextLength(length)
	}

	return ErrCodeSpaceExhausted
}

// nextLength grows the code by one character per collision, capped at MaxLength.
func (s *RedirectService) nextLength(length int) int {
	if length < s.cfg.ShortCode.MaxLength {
		return length + 1
	}
	return length
}

// GetShortCode returns the stored record without applying any gate.
func (s *RedirectService) GetShortCode(ctx context.Context, code string) (*model.ShortCode, error) {
	if !ValidCode(code) {
		return nil, gate.ErrNotFound
	}
	return s.lookup(ctx, code)
}

func (s *RedirectService) UpdateShortCode(ctx context.Context, code string, req *model.UpdateShortCodeRequest) (*model.ShortCode, error) {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if req.Destination != nil {
		if err := ValidateDestination(*req.Destination); err != nil {
			return nil, err
		}
		sc.Destination = *req.Destination
	}

	switch {
	case req.ClearPassword:
		sc.PasswordHash = nil
	case req.Password != nil:
		if *req.Password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidRequest)
		}
		hash, err := gate.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		sc.PasswordHash = &hash
	}

	switch {
	case req.ClearExpiry:
		sc.ExpiresAt = nil
	case req.ExpiresAt != nil:
		t := req.ExpiresAt.UTC()
		sc.ExpiresAt = &t
	}

	switch {
	case req.ClearMaxScans:
		sc.MaxScans = nil
	case req.MaxScans != nil:
		if *req.MaxScans <= 0 {
			return nil, fmt.Errorf("%w: max_scans must be positive", ErrInvalidRequest)
		}
		sc.MaxScans = req.MaxScans
	}

	if err := s.store.UpdateShortCode(ctx, sc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, gate.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return sc, nil
}

func (s *RedirectService) GetStats(ctx context.Context, code string) (*model.StatsResponse, error) {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	rules, err := s.store.ListActiveRules(ctx, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	active := 0
	for _, rule := range s.decodeRules(rules) {
		if rule.Condition != nil {
			active++
		}
	}

	return &model.StatsResponse{
		ShortCode:     sc.ShortCode,
		Destination:   sc.Destination,
		ScanCount:     sc.ScanCount,
		LastScannedAt: sc.LastScannedAt,
		MaxScans:      sc.MaxScans,
		ExpiresAt:     sc.ExpiresAt,
		Expired:       sc.IsExpired(s.now()),
		Protected:     sc.HasPassword(),
		ActiveRules:   active,
		CreatedAt:     sc.CreatedAt,
	}, nil
}

// ListScanEvents returns the newest events of a code. limit is clamped to 1..500, default 50.
func (s *RedirectService) ListScanEvents(ctx context.Context, code string, limit int) ([]model.ScanEvent, error) {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = defaultScanLimit
	case limit > maxScanLimit:
		limit = maxScanLimit
	}

	events, err := s.store.ListScanEvents(ctx, sc.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return events, nil
}

func (s *RedirectService) ListRules(ctx context.Context, code string) ([]model.RoutingRule, error) {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	rules, err := s.store.ListRules(ctx, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return s.decodeRules(rules), nil
}

// CreateRule validates the condition against its type and attaches the rule to code.
func (s *RedirectService) CreateRule(ctx context.Context, code string, req *model.CreateRuleRequest) (*model.RoutingRule, error) {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	cond, err := model.DecodeCondition(req.Type, req.Condition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := validateRuleURLs(req.Type, req.Destination, cond); err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, req.Condition); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &model.RoutingRule{
		ID:           s.ids.Next(),
		ShortCodeID:  sc.ID,
		Type:         req.Type,
		RawCondition: raw.String(),
		Condition:    cond,
		Destination:  req.Destination,
		Priority:     req.Priority,
		Active:       active,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.invalidateRules(ctx, sc.ID)
	return rule, nil
}

func (s *RedirectService) DeleteRule(ctx context.Context, code string, ruleID int64) error {
	sc, err := s.GetShortCode(ctx, code)
	if err != nil {
		return err
	}

	if err := s.store.DeleteRule(ctx, sc.ID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.invalidateRules(ctx, sc.ID)
	return nil
}

// WarmFilter loads every issued code into the bloom filter.
func (s *RedirectService) WarmFilter(ctx context.Context) error {
	if s.filter == nil {
		return nil
	}
	codes, err := s.store.ListShortCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm code filter: %w", err)
	}
	s.filter.AddBatch(codes)
	s.logger.Info().Int("codes", len(codes)).Msg("code filter warmed")
	return nil
}

func (s *RedirectService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func (s *RedirectService) ShortURL(code string) string {
	return strings.TrimRight(s.cfg.App.BaseURL, "/") + "/r/" + code
}

func (s *RedirectService) QRCodeURL(code string) string {
	return strings.TrimRight(s.cfg.App.BaseURL, "/") + "/api/v1/codes/" + code + "/qr"
}

func (s *RedirectService) ToResponse(sc *model.ShortCode) *model.ShortCodeResponse {
	resp := &model.ShortCodeResponse{
		ID:          sc.ID,
		ShortCode:   sc.ShortCode,
		ShortURL:    s.ShortURL(sc.ShortCode),
		QRCodeURL:   s.QRCodeURL(sc.ShortCode),
		Destination: sc.Destination,
		Protected:   sc.HasPassword(),
		MaxScans:    sc.MaxScans,
	}
	if sc.ExpiresAt != nil {
		resp.ExpiresAt = sc.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// ValidateDestination accepts absolute http and https URLs only.
func ValidateDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: destination must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

func validateRuleURLs(t model.RuleType, destination string, cond model.Condition) error {
	if destination == "" {
		if t != model.RuleScanLimit {
			return fmt.Errorf("%w: destination is required", ErrInvalidRequest)
		}
	} else if err := ValidateDestination(destination); err != nil {
		return err
	}

	switch c := cond.(type) {
	case *model.ScanLimitCondition:
		return ValidateDestination(c.ExceededURL)
	case *model.LanguageCondition:
		if c.FallbackURL != "" {
			return ValidateDestination(c.FallbackURL)
		}
	}
	return nil
}
