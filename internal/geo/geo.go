// Package geo maps client IPs to a coarse location. Lookups are best effort:
// every failure path yields Unknown instead of an error.
package geo

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const Unknown = "Unknown"

type Location struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code,omitempty"`
	City        string `json:"city"`
}

func UnknownLocation() Location {
	return Location{Country: Unknown, City: Unknown}
}

func (l Location) IsUnknown() bool {
	return l.Country == Unknown && l.City == Unknown
}

// Provider performs the actual lookup against an external service or a local database.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Cache stores successful lookups. A nil location with a nil error is a miss.
type Cache interface {
	GetLocation(ctx context.Context, ip string) (*Location, error)
	SetLocation(ctx context.Context, ip string, loc Location, ttl time.Duration) error
}

type Resolver struct {
	provider Provider
	cache    Cache
	timeout  time.Duration
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewResolver builds a Resolver. provider and cache may be nil.
func NewResolver(provider Provider, cache Cache, timeout, cacheTTL time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Resolver{
		provider: provider,
		cache:    cache,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "geo").Logger(),
	}
}

// Resolve returns the location of ip, or Unknown. It never blocks longer
// than the configured timeout on the provider.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	addr, ok := publicAddr(ip)
	if !ok || r.provider == nil {
		return UnknownLocation()
	}
	key := addr.String()

	if r.cache != nil {
		cached, err := r.cache.GetLocation(ctx, key)
		if err != nil {
			r.logger.Debug().Err(err).Str("ip", key).Msg("geo cache get failed")
		}
		if cached != nil {
			return *cached
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	loc, err := r.provider.Lookup(lookupCtx, key)
	if err != nil {
		r.logger.Debug().Err(err).Str("ip", key).Msg("geo lookup failed")
		return UnknownLocation()
	}
	loc = normalize(loc)

	if r.cache != nil && !loc.IsUnknown() && r.cacheTTL > 0 {
		if err := r.cache.SetLocation(ctx, key, loc, r.cacheTTL); err != nil {
			r.logger.Debug().Err(err).Str("ip", key).Msg("geo cache set failed")
		}
	}

	return loc
}

// publicAddr parses ip and rejects addresses that cannot be geolocated.
func publicAddr(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()

	if addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return netip.Addr{}, false
	}
	return addr, true
}

func normalize(loc Location) Location {
	loc.Country = strings.TrimSpace(loc.Country)
	loc.City = strings.TrimSpace(loc.City)
	if loc.Country == "" {
		loc.Country = Unknown
	}
	if loc.City == "" {
		loc.City = Unknown
	}
	return loc
}
