package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/handler"
	"github.com/jack/qr-redirect-service/internal/idgen"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/repository"
	"github.com/jack/qr-redirect-service/internal/scan"
	"github.com/jack/qr-redirect-service/internal/scheduler"
	"github.com/jack/qr-redirect-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router     *gin.Engine
	store      *repository.GormRepository
	dispatcher *scheduler.ScanDispatcher
}

type failingPinger struct{}

func (failingPinger) Health(context.Context) error { return errors.New("connection refused") }

func newServer(t *testing.T, cache handler.Pinger) *testServer {
	t.Helper()

	store, err := repository.NewGormRepository(sqlite.Open(":memory:"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ids, err := idgen.New(2)
	require.NoError(t, err)

	logger := zerolog.Nop()
	dispatcher := scheduler.NewScanDispatcher(16, 2, 5*time.Second, logger)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	cfg := &config.Config{
		App:       config.AppConfig{BaseURL: "http://qr.test"},
		ShortCode: config.ShortCodeConfig{Length: 6, MaxLength: 12},
		Redirect:  config.RedirectConfig{Timeout: 3 * time.Second, RuleCacheTTL: time.Minute},
	}

	svc := service.NewRedirectService(service.Deps{
		Store:      store,
		Recorder:   scan.NewRecorder(store, ids, logger),
		Dispatcher: dispatcher,
		IDs:        ids,
		Logger:     logger,
	}, cfg)

	router := gin.New()
	handler.NewHandler(svc, cache, logger).Register(router, handler.Limits{})

	return &testServer{router: router, store: store, dispatcher: dispatcher}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) insert(t *testing.T, sc *model.ShortCode) {
	t.Helper()
	sc.ID = uuid.NewString()
	require.NoError(t, s.store.CreateShortCode(context.Background(), sc))
}

func (s *testServer) scanCount(t *testing.T, code string) int64 {
	t.Helper()
	s.dispatcher.Stop()
	sc, err := s.store.FindByShortCode(context.Background(), code)
	require.NoError(t, err)
	return sc.ScanCount
}

func TestRedirectFound(t *testing.T) {
	srv := newServer(t, nil)
	srv.insert(t, &model.ShortCode{ShortCode: "ABC123", Destination: "https://example.com"})

	w := srv.do(http.MethodGet, "/r/ABC123", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Location"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.EqualValues(t, 1, srv.scanCount(t, "ABC123"))
}

func TestRedirectExpired(t *testing.T) {
	srv := newServer(t, nil)
	yesterday := time.Now().Add(-24 * time.Hour)
	srv.insert(t, &model.ShortCode{ShortCode: "XYZ789", Destination: "https://example.com", ExpiresAt: &yesterday})

	w := srv.do(http.MethodGet, "/r/XYZ789", nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
	assert.Zero(t, srv.scanCount(t, "XYZ789"))
}

func TestRedirectNotFound(t *testing.T) {
	srv := newServer(t, nil)

	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/r/NOPE00", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/r/x", nil).Code)
}

func TestRedirectLimitReachedBeforeScanLimitRule(t *testing.T) {
	srv := newServer(t, nil)
	limit := int64(1)
	srv.insert(t, &model.ShortCode{ShortCode: "LIMIT1", Destination: "https://example.com", MaxScans: &limit, ScanCount: 1})

	w := srv.do(http.MethodPost, "/api/v1/codes/LIMIT1/rules", map[string]any{
		"type":      "scanLimit",
		"condition": map[string]any{"maxScans": 1, "exceededUrl": "https://upgrade.example"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = srv.do(http.MethodGet, "/r/LIMIT1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "limit_reached")
}

func TestPasswordFlow(t *testing.T) {
	srv := newServer(t, nil)

	w := srv.do(http.MethodPost, "/api/v1/codes", map[string]any{"url": "https://secret.example", "password": "open-sesame"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created model.ShortCodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Protected)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = srv.do(http.MethodGet, "/r/"+created.ShortCode, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var denial map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &denial))
	assert.Equal(t, "password_required", denial["error"])
	assert.Equal(t, "http://qr.test/r/"+created.ShortCode+"/verify", denial["verify_url"])

	path := "/r/" + created.ShortCode + "/verify"
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPost, path, map[string]any{}).Code)
	assert.Equal(t, http.StatusUnauthorized, srv.do(http.MethodPost, path, map[string]any{"password": "wrong"}).Code)

	w = srv.do(http.MethodPost, path, map[string]any{"password": "open-sesame"})
	require.Equal(t, http.StatusOK, w.Code)
	var verified model.VerifyPasswordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verified))
	assert.Equal(t, "https://secret.example", verified.Destination)

	assert.EqualValues(t, 1, srv.scanCount(t, created.ShortCode))
}

func TestRuleRoutingOverHTTP(t *testing.T) {
	srv := newServer(t, nil)
	srv.insert(t, &model.ShortCode{ShortCode: "LANG01", Destination: "https://en.example"})

	w := srv.do(http.MethodPost, "/api/v1/codes/LANG01/rules", map[string]any{
		"type":        "language",
		"condition":   map[string]any{"languages": []string{"fr"}},
		"destination": "https://fr.example",
		"priority":    5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rule struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	require.NotEmpty(t, rule.ID)

	req := httptest.NewRequest(http.MethodGet, "/r/LANG01", nil)
	req.Header.Set("Accept-Language", "fr-CA,fr;q=0.9,en;q=0.5")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://fr.example", rec.Header().Get("Location"))

	w = srv.do(http.MethodGet, "/api/v1/codes/LANG01/rules", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"languages":["fr"]`)

	assert.Equal(t, http.StatusNoContent, srv.do(http.MethodDelete, "/api/v1/codes/LANG01/rules/"+rule.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodDelete, "/api/v1/codes/LANG01/rules/"+rule.ID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodDelete, "/api/v1/codes/LANG01/rules/abc", nil).Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, "https://en.example", rec.Header().Get("Location"))
}

func TestAddRuleRejectsInvalidCondition(t *testing.T) {
	srv := newServer(t, nil)
	srv.insert(t, &model.ShortCode{ShortCode: "BADRUL", Destination: "https://example.com"})

	w := srv.do(http.MethodPost, "/api/v1/codes/BADRUL/rules", map[string]any{
		"type":        "time",
		"condition":   map[string]any{"timezone": "Mars/Olympus", "windows": []any{}},
		"destination": "https://a.example",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(http.MethodPost, "/api/v1/codes/NOPE00/rules", map[string]any{
		"type":        "device",
		"condition":   map[string]any{"devices": []string{"mobile"}},
		"destination": "https://a.example",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndUpdateShortCode(t *testing.T) {
	srv := newServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPost, "/api/v1/codes", map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPost, "/api/v1/codes", map[string]any{"url": "mailto:a@b.c"}).Code)

	w := srv.do(http.MethodPost, "/api/v1/codes", map[string]any{"url": "https://example.com", "max_scans": 3})
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.ShortCodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.ShortURL, "http://qr.test/r/"))

	w = srv.do(http.MethodPatch, "/api/v1/codes/"+created.ShortCode, map[string]any{"destination": "https://moved.example", "clear_max_scans": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec := srv.do(http.MethodGet, "/r/"+created.ShortCode, nil)
	assert.Equal(t, "https://moved.example", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodPatch, "/api/v1/codes/NOPE00", map[string]any{}).Code)
}

func TestStatsAndScans(t *testing.T) {
	srv := newServer(t, nil)
	srv.insert(t, &model.ShortCode{ShortCode: "STAT01", Destination: "https://example.com"})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusFound, srv.do(http.MethodGet, "/r/STAT01", nil).Code)
	}
	srv.dispatcher.Stop()

	w := srv.do(http.MethodGet, "/api/v1/codes/STAT01/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 2, stats.ScanCount)

	w = srv.do(http.MethodGet, "/api/v1/codes/STAT01/scans?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var scans struct {
		Scans []model.ScanEvent `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scans))
	assert.Len(t, scans.Scans, 1)

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/v1/codes/STAT01/scans?limit=many", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/api/v1/codes/NOPE00/stats", nil).Code)
}

func TestQRCode(t *testing.T) {
	srv := newServer(t, nil)
	srv.insert(t, &model.ShortCode{ShortCode: "QRCODE", Destination: "https://example.com"})

	w := srv.do(http.MethodGet, "/r/QRCODE/qr?size=5000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/r/QRCODE/qr?size=big", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/api/v1/codes/NOPE00/qr", nil).Code)
}

func TestHealth(t *testing.T) {
	srv := newServer(t, nil)
	w := srv.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = srv.do(http.MethodGet, "/health/detailed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"disabled"`)

	degraded := newServer(t, failingPinger{})
	w = degraded.do(http.MethodGet, "/health/detailed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	require.NoError(t, srv.store.Close())
	w = srv.do(http.MethodGet, "/health/detailed", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRedirectStorageFailure(t *testing.T) {
	srv := newServer(t, nil)
	require.NoError(t, srv.store.Close())

	w := srv.do(http.MethodGet, "/r/ABC123", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
