package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/filter"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/repository"
)

func TestRandomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := randomCode(8)
		require.NoError(t, err)
		assert.Len(t, code, 8)
		assert.True(t, ValidCode(code), code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{" 90m ", 90 * time.Minute, false},
		{"", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocateCodeGrowsOnEachCollision(t *testing.T) {
	store, err := repository.NewGormRepository(sqlite.Open(":memory:"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateShortCode(ctx, &model.ShortCode{ID: uuid.NewString(), ShortCode: "TAKEN0", Destination: "https://a.example"}))

	codes := filter.NewCodeFilter(1000, 0.01)
	codes.Add("TAKEN0")

	s := NewRedirectService(Deps{Store: store, Filter: codes, Logger: zerolog.Nop()}, &config.Config{
		ShortCode: config.ShortCodeConfig{Length: 6, MaxLength: 12},
	})

	var lengths []int
	s.randomCode = func(length int) (string, error) {
		lengths = append(lengths, length)
		if length == 6 {
			return "TAKEN0", nil
		}
		return "FRESH01", nil
	}

	sc := &model.ShortCode{ID: uuid.NewString(), Destination: "https://b.example"}
	require.NoError(t, s.allocateCode(ctx, sc))
	assert.Equal(t, "FRESH01", sc.ShortCode)
	assert.Equal(t, []int{6, 7}, lengths)
	assert.True(t, codes.MayContain("FRESH01"))
}

func TestAllocateCodeWithoutFilterRetriesDuplicates(t *testing.T) {
	store, err := repository.NewGormRepository(sqlite.Open(":memory:"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateShortCode(ctx, &model.ShortCode{ID: uuid.NewString(), ShortCode: "TAKEN0", Destination: "https://a.example"}))

	s := NewRedirectService(Deps{Store: store, Logger: zerolog.Nop()}, &config.Config{
		ShortCode: config.ShortCodeConfig{Length: 6, MaxLength: 6},
	})
	s.randomCode = func(int) (string, error) { return "TAKEN0", nil }

	err = s.allocateCode(ctx, &model.ShortCode{ID: uuid.NewString(), Destination: "https://b.example"})
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestAllocateCodeGrowsAfterDuplicateInsert(t *testing.T) {
	store, err := repository.NewGormRepository(sqlite.Open(":memory:"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateShortCode(ctx, &model.ShortCode{ID: uuid.NewString(), ShortCode: "TAKEN0", Destination: "https://a.example"}))

	s := NewRedirectService(Deps{Store: store, Logger: zerolog.Nop()}, &config.Config{
		ShortCode: config.ShortCodeConfig{Length: 6, MaxLength: 8},
	})

	var lengths []int
	s.randomCode = func(length int) (string, error) {
		lengths = append(lengths, length)
		if length == 6 {
			return "TAKEN0", nil
		}
		return "FRESH01", nil
	}

	sc := &model.ShortCode{ID: uuid.NewString(), Destination: "https://b.example"}
	require.NoError(t, s.allocateCode(ctx, sc))
	assert.Equal(t, "FRESH01", sc.ShortCode)
	assert.Equal(t, []int{6, 7}, lengths)
}
