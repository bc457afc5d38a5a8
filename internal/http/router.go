// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Middleware order is fixed here so every route of the medication API gets
// the same posture: RequestID before logging, logging before recovery, and
// the idempotency check before the rate limiter so replays are not throttled.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/config"
	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/http/handlers"
	"github.com/tbourn/medtrack-backend/internal/http/middleware"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
)

// ProfileRepo adapts the repository free functions to services.ProfileRepo,
// keeping the profile service decoupled from the concrete repo package.
type ProfileRepo struct{}

// CreateProfile proxies repo.CreateProfile.
func (ProfileRepo) CreateProfile(ctx context.Context, db *gorm.DB, displayName, avatarColor string) (*domain.Profile, error) {
	return repo.CreateProfile(ctx, db, displayName, avatarColor)
}

// GetProfile proxies repo.GetProfile.
func (ProfileRepo) GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	return repo.GetProfile(ctx, db, id)
}

// CountProfiles proxies repo.CountProfiles.
func (ProfileRepo) CountProfiles(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountProfiles(ctx, db)
}

// ListProfilesPage proxies repo.ListProfilesPage.
func (ProfileRepo) ListProfilesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Profile, error) {
	return repo.ListProfilesPage(ctx, db, offset, limit)
}

// UpdateProfile proxies repo.UpdateProfile.
func (ProfileRepo) UpdateProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarColor string) error {
	return repo.UpdateProfile(ctx, db, id, displayName, avatarColor)
}

// SaveProfile proxies repo.SaveProfile.
func (ProfileRepo) SaveProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return repo.SaveProfile(ctx, db, p)
}

// DeleteProfile proxies repo.DeleteProfile.
func (ProfileRepo) DeleteProfile(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteProfile(ctx, db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip for JSON responses (dose history and medication lists get large)
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, st *services.Stack, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:     []string{"X-API-Key"},
		MaskQueryParams: []string{"notes"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       false,
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", middleware.ReplayHeader},
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(handlers.Deps{
		Profiles:       st.Profiles,
		Medications:    st.Medications,
		Schedules:      st.Schedules,
		Doses:          st.Doses,
		Health:         st.Health,
		Helpers:        st.Helpers,
		Sweeper:        st.Sweeper,
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Loc:            cfg.Schedule.Location(),
		Clock:          st.Clock,
	})

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Profiles
		api.POST("/profiles", h.CreateProfile)
		api.GET("/profiles", h.ListProfiles)
		api.GET("/profiles/:id", h.GetProfile)
		api.PUT("/profiles/:id", h.UpdateProfile)
		api.DELETE("/profiles/:id", h.DeleteProfile)

		// Medications
		api.POST("/profiles/:id/medications", h.CreateMedication)
		api.GET("/profiles/:id/medications", h.ListMedications)
		api.GET("/profiles/:id/medications/search", h.SearchMedications)
		api.GET("/medications/:id", h.GetMedication)
		api.PUT("/medications/:id", h.UpdateMedication)
		api.DELETE("/medications/:id", h.DeleteMedication)
		api.POST("/medications/:id/archive", h.ArchiveMedication)
		api.POST("/medications/:id/unarchive", h.UnarchiveMedication)
		api.POST("/medications/:id/pause", h.PauseMedication)
		api.POST("/medications/:id/resume", h.ResumeMedication)
		api.POST("/medications/:id/refill", h.RefillMedication)
		api.GET("/medications/:id/supply", h.MedicationSupply)

		// Schedules
		api.POST("/medications/:id/schedules", h.AddSchedule)
		api.GET("/medications/:id/schedules", h.ListSchedules)
		api.POST("/schedules/:id/deactivate", h.DeactivateSchedule)

		// Doses
		api.GET("/profiles/:id/doses/today", h.TodayDoses)
		api.GET("/profiles/:id/doses", h.DoseHistory)
		api.POST("/doses/take", h.TakeDose)
		api.POST("/doses/skip", h.SkipDose)
		api.POST("/doses/snooze", h.SnoozeDose)

		// Health
		api.GET("/profiles/:id/health", h.GetHealth)
		api.POST("/profiles/:id/health/recompute", h.RecomputeHealth)

		// Helpers
		api.POST("/profiles/:id/helpers", h.RegisterHelper)
		api.GET("/profiles/:id/helpers", h.ListHelpers)
		api.DELETE("/profiles/:id/helpers/:helperID", h.DeactivateHelper)

		// Offline sync
		api.POST("/sync/profiles", h.SyncProfile)
		api.POST("/sync/medications", h.SyncMedication)

		// Admin
		api.POST("/admin/sweep", h.RunSweep)
	}
}

// useCORS installs the CORS posture: allow all origins when none are
// configured, otherwise echo allow-listed origins.
func useCORS(r *gin.Engine, cc config.CORSConfig) {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "If-None-Match", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Content-Length", "ETag", middleware.ReplayHeader}

	if len(cc.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
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
		AllowOrigins:     cc.AllowedOrigins,
		AllowMethods:     methods,
		AllowHeaders:     headers,
		ExposeHeaders:    expose,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody caps the request body size to maxBytes using
// http.MaxBytesReader. Oversized bodies fail at bind time.
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
