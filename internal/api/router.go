// Package api wires together all HTTP routes of the registry backend.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/ routes require a bearer token. Every authenticated request runs inside
//     the audit middleware, so any entity it commits is recorded with its actor.
//   - Publishing routes require a staff role; /api/admin/ requires the principal or
//     staff role.
package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/api/admin"
	"github.com/school-registry/registro/internal/api/communications"
	"github.com/school-registry/registro/internal/audit"
	"github.com/school-registry/registro/internal/auth"
	"github.com/school-registry/registro/internal/config"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/repositories"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/middleware"
	"github.com/school-registry/registro/internal/queue"
)

// Version is the build version reported by /version. It is set by cmd/server.
var Version = "dev"

// BackgroundServices holds resources that must be released during graceful shutdown.
// The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	shipper *audit.MultiShipper
}

// Shutdown flushes and closes the audit shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, nil, err
	}

	reg := models.NewSchema()
	manager := uow.NewManager(db, reg)
	bg := &BackgroundServices{}

	var persister middleware.AuditFlusher
	if cfg.Audit.Enabled {
		shipper, err := audit.NewMultiShipper(audit.ConfigsFrom(&cfg.Audit))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		var s audit.Shipper
		if shipper.Len() > 0 {
			s = shipper
			bg.shipper = shipper
		}
		persister = audit.NewPersister(manager, s)
	}

	// Repositories
	circularRepo := repositories.NewCircularRepository(db)
	noticeRepo := repositories.NewNoticeRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Queue producer
	store := queue.NewStore(db)
	codec := queue.NewCodec()
	messages.Register(codec)
	bus := queue.NewBus(store, codec, messages.Routes())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(cfg.Server.HSTS))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db))
	router.GET("/version", versionHandler())

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.AuthMiddleware(verifier))
	apiGroup.Use(middleware.AuditMiddleware(reg, persister))
	{
		publishing := communications.NewHandlers(manager, circularRepo, noticeRepo, bus, store,
			messages.Routes(), cfg.Notifications.NoticeDelaySecs)
		circulars := apiGroup.Group("/circulars",
			middleware.RequireRole(models.RoleStaff, models.RolePrincipal))
		notices := apiGroup.Group("/notices",
			middleware.RequireRole(models.RoleStaff, models.RolePrincipal, models.RoleTeacher))
		publishing.RegisterRoutes(circulars, notices)

		adminGroup := apiGroup.Group("/admin",
			middleware.RequireRole(models.RoleStaff, models.RolePrincipal))
		auditHandlers := admin.NewAuditHandlers(auditRepo)
		adminGroup.GET("/audit-logs", auditHandlers.ListAuditLogsHandler())
		adminGroup.GET("/audit-logs/:id", auditHandlers.GetAuditLogHandler())
		adminGroup.GET("/stats/dashboard", admin.NewStatsHandler(db).GetDashboardStats)
		actionHandlers := admin.NewActionHandlers(messages.DefaultActionPolicy(), bus)
		adminGroup.POST("/users/:id/actions", actionHandlers.RecordActionHandler())
	}

	return router, bg, nil
}

// healthCheckHandler returns the liveness status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler additionally checks that the queue table is reachable, so a
// readiness gate fails when messages could not be enqueued.
func readinessHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		ctx := c.Request.Context()

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		var one int
		if err := db.GetContext(ctx, &one, `SELECT 1 FROM messenger_messages LIMIT 1`); err != nil && !errors.Is(err, sql.ErrNoRows) {
			checks["queue"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "queue not ready",
			})
			return
		}
		checks["queue"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The handler format
// (JSON or text) is chosen globally by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
