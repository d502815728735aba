package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmcc-dao/backend/internal/models"
)

type ChallengeRepo struct {
	pool *pgxpool.Pool
}

func NewChallengeRepo(pool *pgxpool.Pool) *ChallengeRepo {
	return &ChallengeRepo{pool: pool}
}

func (r *ChallengeRepo) Create(ctx context.Context, c *models.AuthChallenge, ttl time.Duration) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO auth_challenges (wallet_address, nonce, message, expires_at)
		VALUES ($1, $2, $3, now() + $4::interval)
		RETURNING id, created_at, expires_at
	`, c.WalletAddress, c.Nonce, c.Message, ttl.String()).Scan(&c.ID, &c.CreatedAt, &c.ExpiresAt)
}

// ConsumeLatest marks the newest live challenge of the wallet used and
// returns it. Concurrent verifications race on the UPDATE; only one wins.
func (r *ChallengeRepo) ConsumeLatest(ctx context.Context, wallet string) (*models.AuthChallenge, error) {
	var c models.AuthChallenge
	err := r.pool.QueryRow(ctx, `
		UPDATE auth_challenges SET used = true
		WHERE id = (
			SELECT id FROM auth_challenges
			WHERE wallet_address = $1 AND used = false AND expires_at > now()
			ORDER BY created_at DESC LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, wallet_address, nonce, message, created_at, expires_at, used
	`, wallet).Scan(&c.ID, &c.WalletAddress, &c.Nonce, &c.Message, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// DeleteExpired removes used and expired challenges.
func (r *ChallengeRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_challenges WHERE used = true OR expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
