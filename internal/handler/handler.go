package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/jack/qr-redirect-service/internal/gate"
	"github.com/jack/qr-redirect-service/internal/middleware"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/service"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// Pinger is a dependency checked by /health/detailed.
type Pinger interface {
	Health(ctx context.Context) error
}

type Handler struct {
	service *service.RedirectService
	cache   Pinger
	logger  zerolog.Logger
}

// NewHandler wires the HTTP layer. cache is nil when Redis is disabled.
func NewHandler(svc *service.RedirectService, cache Pinger, logger zerolog.Logger) *Handler {
	return &Handler{
		service: svc,
		cache:   cache,
		logger:  logger.With().Str("component", "handler").Logger(),
	}
}

func respondInternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": message,
	})
}

// respondError maps service and gate errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, code string, err error, message string) {
	switch {
	case errors.Is(err, gate.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Short code not found",
		})
	case errors.Is(err, gate.ErrExpired):
		c.JSON(http.StatusGone, gin.H{
			"error":   "expired",
			"message": "This QR code has expired",
		})
	case errors.Is(err, gate.ErrLimitReached):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "limit_reached",
			"message": "This QR code has reached its scan limit",
		})
	case errors.Is(err, gate.ErrPasswordRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":      "password_required",
			"message":    "This QR code is password protected",
			"verify_url": h.service.ShortURL(code) + "/verify",
		})
	case errors.Is(err, gate.ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_password",
			"message": "Invalid password",
		})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, service.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Rule not found",
		})
	case errors.Is(err, service.ErrUnavailable):
		h.logger.Error().Err(err).Str("code", code).Str("request_id", middleware.GetRequestID(c)).Msg(message)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Service temporarily unavailable",
		})
	default:
		h.logger.Error().Err(err).Str("code", code).Str("request_id", middleware.GetRequestID(c)).Msg(message)
		respondInternalError(c, message)
	}
}

func (h *Handler) resolveRequest(c *gin.Context, password string) service.ResolveRequest {
	return service.ResolveRequest{
		Code:           c.Param("code"),
		Password:       password,
		IP:             c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		AcceptLanguage: c.GetHeader("Accept-Language"),
		Referrer:       c.Request.Referer(),
	}
}

// Redirect resolves a scan and answers 302 to the chosen destination.
func (h *Handler) Redirect(c *gin.Context) {
	res, err := h.service.Resolve(c.Request.Context(), h.resolveRequest(c, ""))
	if err != nil {
		h.respondError(c, c.Param("code"), err, "Failed to resolve code")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, res.Destination)
}

// Verify resolves a password protected code; success counts as a scan.
func (h *Handler) Verify(c *gin.Context) {
	var req model.VerifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Password is required",
		})
		return
	}

	res, err := h.service.Resolve(c.Request.Context(), h.resolveRequest(c, req.Password))
	if err != nil {
		h.respondError(c, c.Param("code"), err, "Failed to verify password")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, model.VerifyPasswordResponse{Destination: res.Destination})
}

// QRCode renders the PNG of a code's short URL.
func (h *Handler) QRCode(c *gin.Context) {
	code := c.Param("code")

	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "size must be an integer",
			})
			return
		}
		size = min(max(n, minQRSize), maxQRSize)
	}

	if _, err := h.service.GetShortCode(c.Request.Context(), code); err != nil {
		h.respondError(c, code, err, "Failed to load code")
		return
	}

	png, err := qrcode.Encode(h.service.ShortURL(code), qrcode.Medium, size)
	if err != nil {
		h.logger.Error().Err(err).Str("code", code).Msg("qr encode failed")
		respondInternalError(c, "Failed to render QR code")
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) CreateShortCode(c *gin.Context) {
	var req model.CreateShortCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	sc, err := h.service.CreateShortCode(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, "", err, "Failed to create short code")
		return
	}

	c.JSON(http.StatusCreated, h.service.ToResponse(sc))
}

func (h *Handler) UpdateShortCode(c *gin.Context) {
	code := c.Param("code")

	var req model.UpdateShortCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	sc, err := h.service.UpdateShortCode(c.Request.Context(), code, &req)
	if err != nil {
		h.respondError(c, code, err, "Failed to update short code")
		return
	}

	c.JSON(http.StatusOK, h.service.ToResponse(sc))
}

func (h *Handler) GetStats(c *gin.Context) {
	code := c.Param("code")

	stats, err := h.service.GetStats(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, code, err, "Failed to retrieve stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListScans(c *gin.Context) {
	code := c.Param("code")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be an integer",
			})
			return
		}
		limit = n
	}

	events, err := h.service.ListScanEvents(c.Request.Context(), code, limit)
	if err != nil {
		h.respondError(c, code, err, "Failed to list scans")
		return
	}

	c.JSON(http.StatusOK, gin.H{"scans": events})
}

func (h *Handler) ListRules(c *gin.Context) {
	code := c.Param("code")

	rules, err := h.service.ListRules(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, code, err, "Failed to list rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) AddRule(c *gin.Context) {
	code := c.Param("code")

	var req model.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), code, &req)
	if err != nil {
		h.respondError(c, code, err, "Failed to create rule")
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	code := c.Param("code")

	ruleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid rule id",
		})
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), code, ruleID); err != nil {
		h.respondError(c, code, err, "Failed to delete rule")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func (h *Handler) HealthDetailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "healthy", "store": "connected", "redis": "disabled"}

	if err := h.service.Health(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store health check failed")
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["store"] = "unreachable"
	}

	if h.cache != nil {
		body["redis"] = "connected"
		if err := h.cache.Health(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("redis health check failed")
			body["redis"] = "unreachable"
			if status == http.StatusOK {
				body["status"] = "degraded"
			}
		}
	}

	c.JSON(status, body)
}
