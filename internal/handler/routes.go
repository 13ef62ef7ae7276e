package handler

import (
	"github.com/gin-gonic/gin"
)

// Limits are the optional rate limit middlewares; nil entries are skipped.
type Limits struct {
	Requests  gin.HandlerFunc
	Passwords gin.HandlerFunc
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Register mounts every route of the service on router.
func (h *Handler) Register(router *gin.Engine, limits Limits) {
	router.GET("/health", h.Health)
	router.GET("/health/detailed", h.HealthDetailed)

	scans := router.Group("/r", chain(limits.Requests)...)
	{
		scans.GET("/:code", h.Redirect)
		scans.POST("/:code/verify", chain(limits.Passwords, h.Verify)...)
		scans.GET("/:code/qr", h.QRCode)
	}

	api := router.Group("/api/v1", chain(limits.Requests)...)
	{
		api.POST("/codes", h.CreateShortCode)
		api.PATCH("/codes/:code", h.UpdateShortCode)
		api.GET("/codes/:code/qr", h.QRCode)
		api.GET("/codes/:code/stats", h.GetStats)
		api.GET("/codes/:code/scans", h.ListScans)
		api.GET("/codes/:code/rules", h.ListRules)
		api.POST("/codes/:code/rules", h.AddRule)
		api.DELETE("/codes/:code/rules/:id", h.DeleteRule)
	}
}
