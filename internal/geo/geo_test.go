package geo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/qr-redirect-service/internal/geo"
)

type fakeProvider struct {
	calls atomic.Int32
	loc   geo.Location
	err   error
	block bool
}

func (f *fakeProvider) Lookup(ctx context.Context, _ string) (geo.Location, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return geo.Location{}, ctx.Err()
	}
	return f.loc, f.err
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]geo.Location
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]geo.Location)}
}

func (m *memoryCache) GetLocation(_ context.Context, ip string) (*geo.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.items[ip]; ok {
		return &loc, nil
	}
	return nil, nil
}

func (m *memoryCache) SetLocation(_ context.Context, ip string, loc geo.Location, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ip] = loc
	return nil
}

func TestResolveSkipsNonPublicAddresses(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{loc: geo.Location{Country: "France", City: "Paris"}}
	r := geo.NewResolver(provider, nil, time.Second, 0, zerolog.Nop())

	for _, ip := range []string{"127.0.0.1", "::1", "10.1.2.3", "192.168.0.10", "172.16.5.4", "169.254.1.1", "fe80::1", "0.0.0.0", "not-an-ip", "", "::ffff:10.0.0.1"} {
		assert.Equal(t, geo.UnknownLocation(), r.Resolve(context.Background(), ip), ip)
	}
	assert.Zero(t, provider.calls.Load())
}

func TestResolvePublicAddress(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{loc: geo.Location{Country: "France", CountryCode: "FR", City: "Paris"}}
	r := geo.NewResolver(provider, nil, time.Second, 0, zerolog.Nop())

	loc := r.Resolve(context.Background(), "8.8.8.8")
	assert.Equal(t, geo.Location{Country: "France", CountryCode: "FR", City: "Paris"}, loc)
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestResolveFillsMissingFields(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{loc: geo.Location{Country: "Iceland", CountryCode: "IS"}}
	r := geo.NewResolver(provider, nil, time.Second, 0, zerolog.Nop())

	loc := r.Resolve(context.Background(), "8.8.4.4")
	assert.Equal(t, "Iceland", loc.Country)
	assert.Equal(t, geo.Unknown, loc.City)
}

func TestResolveProviderError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	r := geo.NewResolver(provider, nil, time.Second, 0, zerolog.Nop())

	assert.Equal(t, geo.UnknownLocation(), r.Resolve(context.Background(), "1.1.1.1"))
}

func TestResolveTimesOut(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{block: true}
	r := geo.NewResolver(provider, nil, 50*time.Millisecond, 0, zerolog.Nop())

	start := time.Now()
	loc := r.Resolve(context.Background(), "1.1.1.1")

	assert.Equal(t, geo.UnknownLocation(), loc)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveUsesCache(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{loc: geo.Location{Country: "Japan", CountryCode: "JP", City: "Tokyo"}}
	cache := newMemoryCache()
	r := geo.NewResolver(provider, cache, time.Second, time.Hour, zerolog.Nop())

	first := r.Resolve(context.Background(), "1.0.0.1")
	second := r.Resolve(context.Background(), "1.0.0.1")

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestResolveWithoutProvider(t *testing.T) {
	t.Parallel()

	r := geo.NewResolver(nil, nil, 0, 0, zerolog.Nop())
	assert.Equal(t, geo.UnknownLocation(), r.Resolve(context.Background(), "8.8.8.8"))
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/8.8.8.8":
			assert.Contains(t, r.URL.RawQuery, "fields=")
			_, _ = w.Write([]byte(`{"status":"success","country":"United States","countryCode":"US","city":"Mountain View"}`))
		case "/json/1.1.1.1":
			_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	p := geo.NewHTTPProvider(srv.URL+"/json/", time.Second)

	loc, err := p.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, geo.Location{Country: "United States", CountryCode: "US", City: "Mountain View"}, loc)

	_, err = p.Lookup(context.Background(), "1.1.1.1")
	require.Error(t, err)

	_, err = p.Lookup(context.Background(), "9.9.9.9")
	require.Error(t, err)
}
