package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/db"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.InMemory() {
		log.Fatal("worker needs STORAGE_BACKEND=postgres")
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.DBMaxConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	challengeRepo := repositories.NewChallengeRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	var chainReader chain.Reader
	if cfg.ChainConfigured() {
		reader, client, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.GenesisContractAddress, log)
		if err != nil {
			log.Fatal("failed to dial chain rpc", zap.Error(err))
		}
		defer client.Close()
		chainReader = reader
	} else {
		log.Warn("chain not configured, resync disabled")
	}

	// Services
	authService := services.NewAuthService(userRepo, challengeRepo, auditRepo, nil, nil, chainReader, nil, cfg, log)
	socialService := services.NewSocialService(userRepo, auditRepo, nil, nil, chainReader, cfg, log)

	if cfg.ChallengeCleanupInterval <= 0 {
		cfg.ChallengeCleanupInterval = time.Minute
	}
	if cfg.ChainStaleness <= 0 {
		cfg.ChainStaleness = 5 * time.Minute
	}

	log.Info("worker started",
		zap.Duration("cleanup_interval", cfg.ChallengeCleanupInterval),
		zap.Duration("resync_interval", cfg.ChainStaleness),
	)

	// Run jobs on tickers
	cleanupTicker := time.NewTicker(cfg.ChallengeCleanupInterval)
	resyncTicker := time.NewTicker(cfg.ChainStaleness)
	defer cleanupTicker.Stop()
	defer resyncTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-cleanupTicker.C:
			runChallengeCleanup(ctx, authService, log)
		case <-resyncTicker.C:
			runChainResync(ctx, socialService, cfg.ResyncBatchSize, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runChallengeCleanup(ctx context.Context, authService *services.AuthService, log *zap.Logger) {
	n, err := authService.CleanupChallenges(ctx)
	if err != nil {
		log.Error("failed to clean up challenges", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("challenges cleaned up", zap.Int64("deleted", n))
	}
}

// runChainResync re-reads claim/upline for users whose stored view may be stale.
func runChainResync(ctx context.Context, socialService *services.SocialService, batch int, log *zap.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	changed, err := socialService.ResyncChain(jobCtx, batch)
	if err != nil {
		log.Error("chain resync failed", zap.Int("changed", changed), zap.Error(err))
		return
	}
	if changed > 0 {
		log.Info("chain resync", zap.Int("changed", changed))
	}
}
