package main

import (
	"log/slog"
	"net/http"

	"call-signaling/internal/auth"
	"call-signaling/internal/config"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/metrics"
	"call-signaling/internal/rbac"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/internal/transport"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routerDeps struct {
	cfg      config.Config
	log      *slog.Logger
	coord    *signaling.Coordinator
	ws       *transport.Server
	auth     *auth.Manager
	reports  *reporting.Service
	presence httpapi.PresenceReader
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.log))
	r.Use(metrics.Middleware())

	h := httpapi.Handlers{
		Calls:    d.coord,
		Auth:     d.auth,
		Reports:  d.reports,
		Presence: d.presence,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/health", h.Health)
	r.GET("/api/stats", h.Stats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", d.ws.Handle)

	if d.auth == nil {
		return r
	}

	v1 := r.Group("/v1")
	if d.cfg.IsDevelopment() {
		// No credential check; never mounted outside local/dev.
		v1.POST("/auth/token", h.IssueToken)
	}

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAccessToken(d.auth))
	{
		admin.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})
		admin.GET("/calls/summary", rbac.RequireAnyRole(rbac.RoleOperator), h.CallsSummary)
		admin.GET("/presence", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), h.ListPresence)
	}

	return r
}
