package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/models"
)

// UserStore is implemented by repositories.UserRepo.
type UserStore interface {
	UpsertByWallet(ctx context.Context, wallet, kind string, meta models.ClientMeta) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByReferralID(ctx context.Context, referralID int64) (*models.User, error)
	SetTelegram(ctx context.Context, id uuid.UUID, telegramID int64, username string, joined bool) error
	SetTwitterAccount(ctx context.Context, id uuid.UUID, twitterID, username string) error
	SetTwitterFollowed(ctx context.Context, id uuid.UUID, postLink string) error
	SetInstagram(ctx context.Context, id uuid.UUID, username string) error
	SetUpline(ctx context.Context, id uuid.UUID, uplineID int64) (bool, error)
	ApplyChainFacts(ctx context.Context, id uuid.UUID, facts models.ChainFacts) error
	SetFlagged(ctx context.Context, id uuid.UUID) error
	ListUnclaimed(ctx context.Context, limit int) ([]models.User, error)
}

// ChallengeStore is implemented by repositories.ChallengeRepo.
type ChallengeStore interface {
	Create(ctx context.Context, c *models.AuthChallenge, ttl time.Duration) error
	ConsumeLatest(ctx context.Context, wallet string) (*models.AuthChallenge, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// AuditLogger is implemented by repositories.AuditRepo.
type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}
