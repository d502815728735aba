package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/db"
	"github.com/vmcc-dao/backend/internal/events"
	apphttp "github.com/vmcc-dao/backend/internal/http"
	"github.com/vmcc-dao/backend/internal/http/handlers"
	"github.com/vmcc-dao/backend/internal/monitor"
	"github.com/vmcc-dao/backend/internal/oauth"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/services"
	"github.com/vmcc-dao/backend/internal/socialcheck"
	"github.com/vmcc-dao/backend/migrations"
	"go.uber.org/zap"
)

// userStore is what the API needs from the users table.
type userStore interface {
	services.UserStore
	handlers.LastActiveTouch
}

type auditStore interface {
	services.AuditLogger
	handlers.ActivityReader
}

// stores groups the backends picked by STORAGE_BACKEND.
type stores struct {
	rdb          *redis.Client
	users        userStore
	challenges   services.ChallengeStore
	audit        auditStore
	revocations  auth.RevocationList
	fingerprints services.FingerprintTracker
	publisher    events.Publisher
	subscriber   events.Subscriber
	closers      []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.InMemory() {
		log.Warn("using in-memory storage")
		bus := events.NewMemoryBus()
		return &stores{
			users:        repositories.NewMemoryUserRepo(),
			challenges:   repositories.NewMemoryChallengeRepo(),
			audit:        repositories.NewMemoryAuditRepo(),
			revocations:  auth.NewMemoryRevocationList(),
			fingerprints: services.NewMemoryFingerprintTracker(),
			publisher:    bus,
			subscriber:   bus,
		}, nil
	}

	s := &stores{}

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.DBMaxConns), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.closers = append(s.closers, func() { _ = rdb.Close() })

	s.rdb = rdb
	s.users = repositories.NewUserRepo(pool)
	s.challenges = repositories.NewChallengeRepo(pool)
	s.audit = repositories.NewAuditRepo(pool)
	s.revocations = auth.NewRedisRevocationList(rdb)
	s.fingerprints = services.NewRedisFingerprintTracker(rdb)
	s.publisher = events.NewRedisPublisher(rdb, log)
	s.subscriber = events.NewRedisSubscriber(rdb, log)
	return s, nil
}

func codeStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) oauth.CodeStore {
	if cfg.OAuthCodeStore == "redis" && rdb != nil {
		return oauth.NewRedisCodeStore(rdb)
	}
	log.Info("oauth used-code set kept in memory, single instance only")
	mem := oauth.NewMemoryCodeStore()
	mem.StartSweeper(ctx, time.Minute)
	return mem
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer st.Close()

	// Chain
	var chainReader chain.Reader
	if cfg.ChainConfigured() {
		reader, client, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.GenesisContractAddress, log)
		if err != nil {
			log.Fatal("failed to dial chain rpc", zap.Error(err))
		}
		defer client.Close()
		chainReader = reader
	}

	// X OAuth; a nil provider answers ConfigurationError
	var provider oauth.Provider
	if cfg.XConfigured() {
		provider = oauth.NewXProvider(oauth.XProviderConfig{
			ClientID:     cfg.XClientID,
			ClientSecret: cfg.XClientSecret,
			RedirectURI:  cfg.XRedirectURI,
			AuthURL:      cfg.XAuthURL,
			TokenURL:     cfg.XTokenURL,
			ProfileURL:   cfg.XProfileURL,
			Scopes:       cfg.XScopes,
			Timeout:      cfg.OAuthHTTPTimeout,
		})
	}
	flow := oauth.NewFlow(provider, codeStore(ctx, cfg, st.rdb, log), oauth.FlowConfig{
		StateTTLMinutes: cfg.OAuthStateTTLMinutes,
		Timeout:         cfg.OAuthHTTPTimeout,
	}, log)

	// Services
	var bot services.ChatMemberGetter
	if botClient := services.NewBotClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, log); botClient.Configured() {
		bot = botClient
	}
	checker := socialcheck.NewChecker(10*time.Second, 2, log)

	authService := services.NewAuthService(st.users, st.challenges, st.audit, st.fingerprints, st.revocations, chainReader, st.publisher, cfg, log)
	socialService := services.NewSocialService(st.users, st.audit, bot, checker, chainReader, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	userHandler := handlers.NewUserHandler(socialService, st.audit, st.users, log)
	oauthHandler := handlers.NewOAuthHandler(flow, socialService, cfg.IsProduction(), log)
	hub := handlers.NewSessionHub(authService, cfg.JWTSecret, monitor.DefaultRoutes(), st.subscriber, log)

	// Start session hub
	if err := hub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to session events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, st.rdb, st.revocations, authHandler, userHandler, oauthHandler, hub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("storage", cfg.StorageBackend))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
