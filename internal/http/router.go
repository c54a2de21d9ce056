// Package httpapi wires the HTTP transport (Gin) to the group chat
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, caller identity,
// logging/redaction, panic recovery, metrics, compression, CORS, security
// headers, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-groupchat-backend/docs"
	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/http/handlers"
	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
	"github.com/tbourn/go-groupchat-backend/internal/services"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	DB        *gorm.DB
	Groups    *services.GroupService
	Reactions *services.ReactionService
	Bus       *events.Bus
	Catalog   *config.Catalog
}

var corsHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID", "If-None-Match",
	middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: validate X-User-ID before anything logs it
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS, security headers and gzip (event streams excluded)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Provider-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	db := deps.DB
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, groupID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, groupID, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil && rec != nil, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:    corsHeaders,
			ExposeHeaders:   []string{"X-Request-ID", "ETag", "Location", "Retry-After", "Idempotency-Replayed"},
			MaxAge:          12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  corsHeaders,
			ExposeHeaders: []string{"X-Request-ID", "ETag", "Location", "Retry-After", "Idempotency-Replayed"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Event streams must reach the client frame by frame.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`/events$`}),
	))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", readiness(deps))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(handlers.ForGroupService(deps.Groups, deps.Reactions, deps.Bus, deps.Catalog))

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/providers", h.ListProviders)

		// Groups and members
		api.POST("/groups", h.CreateGroup)
		api.GET("/groups", h.ListGroups)
		api.GET("/groups/:id", h.GetGroup)
		api.PATCH("/groups/:id", h.UpdateGroup)
		api.DELETE("/groups/:id", h.DeleteGroup)
		api.POST("/groups/:id/members", h.AddMember)
		api.DELETE("/groups/:id/members/:memberId", h.RemoveMember)
		api.GET("/groups/:id/status", h.Status)
		api.GET("/groups/:id/stats", h.Stats)

		// Transcript and turns
		api.GET("/groups/:id/messages", h.ListMessages)
		api.POST("/groups/:id/messages", h.PostMessage)
		api.POST("/groups/:id/messages/:messageId/regenerate", h.Regenerate)
		api.GET("/groups/:id/search", h.Search)
		api.GET("/groups/:id/sessions", h.ListSessions)
		api.DELETE("/groups/:id/sessions/:sessionId", h.CancelSession)
		api.GET("/groups/:id/events", h.Events)

		// Reactions
		api.POST("/messages/:id/reactions", h.AddReaction)
		api.GET("/messages/:id/reactions", h.ListReactions)
		api.DELETE("/messages/:id/reactions/:emoji", h.RemoveReaction)
	}
}

// readiness reports 200 once the database answers and the provider
// catalog is loaded.
func readiness(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err == nil {
			_, _, err = repo.GroupsStats(ctx, deps.DB)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "providers": len(deps.Catalog.IDs())})
	}
}

// limitBody caps the request body size to maxBytes using
// http.MaxBytesReader; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
