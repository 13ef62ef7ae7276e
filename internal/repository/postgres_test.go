package repository_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/repository"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newPostgres connects with POSTGRES_TEST_* settings, runs migrations and
// skips when no database is reachable.
func newPostgres(t *testing.T) *repository.PostgresRepository {
	t.Helper()

	cfg := &config.PostgresConfig{
		Host:     envOr("POSTGRES_TEST_HOST", "localhost"),
		Port:     envOr("POSTGRES_TEST_PORT", "5432"),
		User:     envOr("POSTGRES_TEST_USER", "postgres"),
		Password: envOr("POSTGRES_TEST_PASSWORD", "postgres"),
		DBName:   envOr("POSTGRES_TEST_DB", "qr_redirect_test"),
		SSLMode:  "disable",
		MaxConns: 10,
		MinConns: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	repo, err := repository.NewPostgresRepository(ctx, cfg)
	if err != nil {
		t.Skipf("postgres not available at %s:%s: %v", cfg.Host, cfg.Port, err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.Migrate(context.Background(), zerolog.Nop()))
	return repo
}

func uniqueCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func TestPostgresShortCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)

	code := uniqueCode()
	sc := &model.ShortCode{ID: uuid.NewString(), ShortCode: code, Destination: "https://example.com"}
	require.NoError(t, repo.CreateShortCode(ctx, sc))

	got, err := repo.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, got.ID)
	assert.Zero(t, got.ScanCount)

	exists, err := repo.ShortCodeExists(ctx, code)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.FindByShortCode(ctx, uniqueCode())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	dup := &model.ShortCode{ID: uuid.NewString(), ShortCode: code, Destination: "https://other.example"}
	assert.ErrorIs(t, repo.CreateShortCode(ctx, dup), repository.ErrDuplicateShortCode)

	limit := int64(3)
	got.Destination = "https://new.example"
	got.MaxScans = &limit
	require.NoError(t, repo.UpdateShortCode(ctx, got))

	got, err = repo.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", got.Destination)
	require.NotNil(t, got.MaxScans)
	assert.EqualValues(t, 3, *got.MaxScans)
}

func TestPostgresRecordScanIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)

	code := uniqueCode()
	sc := &model.ShortCode{ID: uuid.NewString(), ShortCode: code, Destination: "https://example.com"}
	require.NoError(t, repo.CreateShortCode(ctx, sc))

	base := time.Now().UnixNano()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.RecordScan(ctx, &model.ScanEvent{
				ID:          base + int64(i),
				ShortCodeID: sc.ID,
				ScannedAt:   time.Now().UTC(),
				Device:      "Mobile",
				Country:     "Unknown",
				City:        "Unknown",
			}))
		}(i)
	}
	wg.Wait()

	got, err := repo.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.ScanCount)
	assert.NotNil(t, got.LastScannedAt)

	events, err := repo.ListScanEvents(ctx, sc.ID, 50)
	require.NoError(t, err)
	assert.Len(t, events, 20)

	// A failed event insert leaves the counter untouched.
	err = repo.RecordScan(ctx, &model.ScanEvent{ID: base, ShortCodeID: sc.ID, ScannedAt: time.Now().UTC()})
	require.Error(t, err)

	got, err = repo.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.ScanCount)
}

func TestPostgresRules(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)

	sc := &model.ShortCode{ID: uuid.NewString(), ShortCode: uniqueCode(), Destination: "https://example.com"}
	require.NoError(t, repo.CreateShortCode(ctx, sc))

	base := time.Now().UnixNano()
	rules := []*model.RoutingRule{
		{ID: base, ShortCodeID: sc.ID, Type: model.RuleDevice, RawCondition: `{"devices":["mobile"]}`, Destination: "https://m.example", Priority: 1, Active: true},
		{ID: base + 1, ShortCodeID: sc.ID, Type: model.RuleGeo, RawCondition: `{"countries":["FR"]}`, Destination: "https://fr.example", Priority: 5, Active: true},
		{ID: base + 2, ShortCodeID: sc.ID, Type: model.RuleLanguage, RawCondition: `{"languages":["de"]}`, Destination: "https://de.example", Priority: 9, Active: false},
	}
	for _, r := range rules {
		require.NoError(t, repo.CreateRule(ctx, r))
		assert.False(t, r.CreatedAt.IsZero())
	}

	active, err := repo.ListActiveRules(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, base+1, active[0].ID)
	assert.JSONEq(t, `{"countries":["FR"]}`, active[0].RawCondition)

	all, err := repo.ListRules(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, repo.DeleteRule(ctx, sc.ID, base))
	assert.ErrorIs(t, repo.DeleteRule(ctx, sc.ID, base), repository.ErrNotFound)
}
