package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/gate"
	"github.com/jack/qr-redirect-service/internal/geo"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/repository"
	"github.com/jack/qr-redirect-service/internal/routing"
	"github.com/jack/qr-redirect-service/internal/scan"
	"github.com/jack/qr-redirect-service/internal/scheduler"
	"github.com/jack/qr-redirect-service/internal/useragent"
)

var (
	// ErrUnavailable wraps storage failures on the lookup path.
	ErrUnavailable        = errors.New("storage unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRuleNotFound       = errors.New("rule not found")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique short code")
)

var codePattern = regexp.MustCompile(`^[0-9A-Za-z]{6,12}$`)

// ValidCode reports whether code has the shape of an issued short code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// RuleCache caches the active rules of a code. A miss returns ok=false.
type RuleCache interface {
	GetRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, bool, error)
	SetRules(ctx context.Context, shortCodeID string, rules []model.RoutingRule, ttl time.Duration) error
	InvalidateRules(ctx context.Context, shortCodeID string) error
}

type Locator interface {
	Resolve(ctx context.Context, ip string) geo.Location
}

type ScanRecorder interface {
	Record(ctx context.Context, shortCodeID string, d scan.Details)
}

type Dispatcher interface {
	Submit(job scheduler.Job)
}

type IDGenerator interface {
	Next() int64
}

type CodeFilter interface {
	Add(code string)
	AddBatch(codes []string)
	MayContain(code string) bool
}

// Deps are the collaborators of RedirectService. RuleCache, Geo and Filter may be nil.
type Deps struct {
	Store      repository.Store
	RuleCache  RuleCache
	Geo        Locator
	Recorder   ScanRecorder
	Dispatcher Dispatcher
	IDs        IDGenerator
	Filter     CodeFilter
	Logger     zerolog.Logger
}

type RedirectService struct {
	store      repository.Store
	rules      RuleCache
	geo        Locator
	recorder   ScanRecorder
	dispatcher Dispatcher
	ids        IDGenerator
	filter     CodeFilter
	cfg        *config.Config
	logger     zerolog.Logger
	timeout    time.Duration
	decoded    *decodedRules

	now        func() time.Time
	randomCode func(length int) (string, error)
}

func NewRedirectService(deps Deps, cfg *config.Config) *RedirectService {
	logger := deps.Logger.With().Str("component", "redirect").Logger()

	locator := deps.Geo
	if locator == nil {
		locator = geo.NewResolver(nil, nil, 0, 0, logger)
	}

	timeout := cfg.Redirect.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &RedirectService{
		store:      deps.Store,
		rules:      deps.RuleCache,
		geo:        locator,
		recorder:   deps.Recorder,
		dispatcher: deps.Dispatcher,
		ids:        deps.IDs,
		filter:     deps.Filter,
		cfg:        cfg,
		logger:     logger,
		timeout:    timeout,
		decoded:    newDecodedRules(cfg.Redirect.LocalRuleCacheSize, cfg.Redirect.LocalRuleCacheTTL),
		now:        time.Now,
		randomCode: randomCode,
	}
}

// ResolveRequest carries what the HTTP layer knows about one scan.
type ResolveRequest struct {
	Code           string
	Password       string
	IP             string
	UserAgent      string
	AcceptLanguage string
	Referrer       string
}

type Resolution struct {
	Destination string
	RuleID      int64
	ShortCode   *model.ShortCode
}

// Resolve runs lookup, gate and routing for one scan and schedules the scan
// record. Denials come back as gate errors; storage failures wrap ErrUnavailable.
func (s *RedirectService) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	if !ValidCode(req.Code) {
		return nil, gate.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.lookup(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := gate.Check(record, req.Password, now); err != nil {
		return nil, err
	}

	client := useragent.Classify(req.UserAgent)
	loc := &lazyLocation{resolve: func() geo.Location {
		return s.geo.Resolve(ctx, req.IP)
	}}

	resolution := &Resolution{Destination: record.Destination, ShortCode: record}

	if rules := s.loadRules(ctx, record.ID); len(rules) > 0 {
		result := routing.Evaluate(rules, routing.Request{
			UserAgent:      client,
			RawUserAgent:   req.UserAgent,
			AcceptLanguage: req.AcceptLanguage,
			Now:            now,
			ScanCount:      record.ScanCount,
			Location:       loc.get,
		})
		if result.Matched {
			resolution.Destination = result.Destination
			resolution.RuleID = result.RuleID
		}
	}

	s.submitScan(record.ID, req, client, loc, now)

	return resolution, nil
}

func (s *RedirectService) lookup(ctx context.Context, code string) (*model.ShortCode, error) {
	record, err := s.store.FindByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, gate.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return record, nil
}

// loadRules returns the decoded active rules of a code. Any failure yields
// no rules, so the code's own destination is used.
func (s *RedirectService) loadRules(ctx context.Context, shortCodeID string) []model.RoutingRule {
	if rules, ok := s.decoded.get(shortCodeID); ok {
		return rules
	}

	if s.rules != nil {
		cached, ok, err := s.rules.GetRules(ctx, shortCodeID)
		if err != nil {
			s.logger.Warn().Err(err).Str("short_code_id", shortCodeID).Msg("rule cache get failed")
		}
		if ok {
			rules := s.decodeRules(cached)
			s.decoded.put(shortCodeID, rules)
			return rules
		}
	}

	rules, err := s.store.ListActiveRules(ctx, shortCodeID)
	if err != nil {
		s.logger.Error().Err(err).Str("short_code_id", shortCodeID).Msg("load rules failed, using default destination")
		return nil
	}

	if s.rules != nil {
		if err := s.rules.SetRules(ctx, shortCodeID, rules, s.cfg.Redirect.RuleCacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("short_code_id", shortCodeID).Msg("rule cache set failed")
		}
	}

	decoded := s.decodeRules(rules)
	s.decoded.put(shortCodeID, decoded)
	return decoded
}

func (s *RedirectService) decodeRules(rules []model.RoutingRule) []model.RoutingRule {
	for i := range rules {
		if err := rules[i].Decode(); err != nil {
			s.logger.Warn().Err(err).Int64("rule_id", rules[i].ID).Msg("skipping malformed rule")
		}
	}
	return rules
}

func (s *RedirectService) invalidateRules(ctx context.Context, shortCodeID string) {
	s.decoded.remove(shortCodeID)
	if s.rules == nil {
		return
	}
	if err := s.rules.InvalidateRules(ctx, shortCodeID); err != nil {
		s.logger.Warn().Err(err).Str("short_code_id", shortCodeID).Msg("rule cache invalidate failed")
	}
}

// submitScan hands the scan record to the dispatcher. A location already
// resolved for routing is reused; otherwise the job resolves it.
func (s *RedirectService) submitScan(shortCodeID string, req ResolveRequest, client useragent.Info, loc *lazyLocation, at time.Time) {
	known, resolved := loc.peek()

	s.dispatcher.Submit(func(ctx context.Context) {
		location := known
		if !resolved {
			location = s.geo.Resolve(ctx, req.IP)
		}

		s.recorder.Record(ctx, shortCodeID, scan.Details{
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Client:    client,
			Referrer:  req.Referrer,
			Location:  location,
			ScannedAt: at,
		})
	})
}

// lazyLocation resolves the client location at most once per request.
type lazyLocation struct {
	once     sync.Once
	resolve  func() geo.Location
	loc      geo.Location
	resolved bool
}

func (l *lazyLocation) get() geo.Location {
	l.once.Do(func() {
		l.loc = l.resolve()
		l.resolved = true
	})
	return l.loc
}

// peek is called from the request goroutine after routing finished.
func (l *lazyLocation) peek() (geo.Location, bool) {
	return l.loc, l.resolved
}
