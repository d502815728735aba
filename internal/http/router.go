package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/http/handlers"
	"github.com/vmcc-dao/backend/internal/middleware"
	"go.uber.org/zap"
)

// SetupRouter mounts every route. rdb may be nil (rate limiting off).
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	revocations auth.RevocationList,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	oauthHandler *handlers.OAuthHandler,
	hub *handlers.SessionHub,
) {
	origins := cfg.CORSOrigins
	if origins == "" {
		origins = cfg.FrontendURL
	}

	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-API-Fingerprint, X-API-UserAgent",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Auth (public)
	api.Post("/auth/initiate", authHandler.Initiate)
	api.Post("/auth/verify", authHandler.Verify)

	// X OAuth. The callback links the account when a bearer token is present.
	api.Get("/oauth/social", oauthHandler.Initiate)
	api.Post("/oauth/social", middleware.OptionalAuthMiddleware(cfg.JWTSecret, revocations, log), oauthHandler.Callback)
	api.Post("/oauth/refresh", oauthHandler.Refresh)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg.JWTSecret, revocations, log))

	protected.Post("/auth/logout", authHandler.Logout)

	// User / onboarding steps
	protected.Get("/me", userHandler.GetMe)
	protected.Post("/me/ping", userHandler.Ping)
	protected.Get("/me/activity", userHandler.GetActivity)
	protected.Post("/me/telegram", userHandler.LinkTelegram)
	protected.Post("/me/twitter/follow", userHandler.RecordFollow)
	protected.Post("/me/instagram", userHandler.LinkInstagram)
	protected.Post("/me/referral", userHandler.SetReferral)
	protected.Post("/me/claim", userHandler.ConfirmClaim)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws/session", websocket.New(hub.HandleWS))
}
