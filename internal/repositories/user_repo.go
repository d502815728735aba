package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmcc-dao/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, wallet_address, wallet_kind, referral_id, upline_id,
	telegram_id, telegram_username, telegram_joined,
	twitter_id, twitter_username, twitter_followed, twitter_post_link,
	instagram_username, instagram_followed, genesis_claimed, flagged,
	fingerprint, last_ip, user_agent, created_at, last_active_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.WalletAddress, &u.WalletKind, &u.ReferralID, &u.UplineID,
		&u.TelegramID, &u.TelegramUsername, &u.TelegramJoined,
		&u.TwitterID, &u.TwitterUsername, &u.TwitterFollowed, &u.TwitterPostLink,
		&u.InstagramUsername, &u.InstagramFollowed, &u.GenesisClaimed, &u.Flagged,
		&u.Fingerprint, &u.LastIP, &u.UserAgent, &u.CreatedAt, &u.LastActiveAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpsertByWallet creates the user on first sign-in and refreshes the client
// metadata on every later one.
func (r *UserRepo) UpsertByWallet(ctx context.Context, wallet, kind string, meta models.ClientMeta) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address, wallet_kind, fingerprint, last_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_address) DO UPDATE SET
			fingerprint = COALESCE(NULLIF(EXCLUDED.fingerprint, ''), users.fingerprint),
			last_ip = COALESCE(NULLIF(EXCLUDED.last_ip, ''), users.last_ip),
			user_agent = COALESCE(NULLIF(EXCLUDED.user_agent, ''), users.user_agent),
			last_active_at = now()
		RETURNING `+userColumns,
		wallet, kind, meta.Fingerprint, meta.IP, meta.UserAgent))
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByWallet(ctx context.Context, wallet string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet))
}

func (r *UserRepo) GetByReferralID(ctx context.Context, referralID int64) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_id = $1`, referralID))
}

func (r *UserRepo) SetTelegram(ctx context.Context, id uuid.UUID, telegramID int64, username string, joined bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET telegram_id = $2, telegram_username = NULLIF($3, ''), telegram_joined = $4
		WHERE id = $1
	`, id, telegramID, username, joined)
	return err
}

func (r *UserRepo) SetTwitterAccount(ctx context.Context, id uuid.UUID, twitterID, username string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET twitter_id = $2, twitter_username = $3 WHERE id = $1
	`, id, twitterID, username)
	return err
}

func (r *UserRepo) SetTwitterFollowed(ctx context.Context, id uuid.UUID, postLink string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET twitter_followed = true, twitter_post_link = $2 WHERE id = $1
	`, id, postLink)
	return err
}

func (r *UserRepo) SetInstagram(ctx context.Context, id uuid.UUID, username string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET instagram_username = $2, instagram_followed = true WHERE id = $1
	`, id, username)
	return err
}

// SetUpline records the referrer once. Returns false if an upline was already set.
func (r *UserRepo) SetUpline(ctx context.Context, id uuid.UUID, uplineID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET upline_id = $2 WHERE id = $1 AND upline_id IS NULL
	`, id, uplineID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyChainFacts overwrites claim/upline with the on-chain view. A nil
// upline leaves the stored one untouched.
func (r *UserRepo) ApplyChainFacts(ctx context.Context, id uuid.UUID, facts models.ChainFacts) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET genesis_claimed = $2, upline_id = COALESCE($3, upline_id) WHERE id = $1
	`, id, facts.GenesisClaimed, facts.UplineID)
	return err
}

func (r *UserRepo) SetFlagged(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET flagged = true WHERE id = $1`, id)
	return err
}

func (r *UserRepo) UpdateLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_active_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

// ListUnclaimed returns EVM users without a recorded claim, least recently
// active first.
func (r *UserRepo) ListUnclaimed(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE genesis_claimed = false AND wallet_kind = 'evm'
		ORDER BY last_active_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
