package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/models"
)

func TestMemoryUserRepo_Upsert(t *testing.T) {
	r := NewMemoryUserRepo()
	ctx := context.Background()

	a, err := r.UpsertByWallet(ctx, "0xa", models.WalletKindEVM, models.ClientMeta{Fingerprint: "fp"})
	require.NoError(t, err)
	b, err := r.UpsertByWallet(ctx, "0xa", models.WalletKindEVM, models.ClientMeta{IP: "1.1.1.1"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ReferralID, b.ReferralID)
	assert.Equal(t, "fp", b.Fingerprint, "empty metadata does not overwrite")
	assert.Equal(t, "1.1.1.1", b.LastIP)

	c, err := r.UpsertByWallet(ctx, "0xc", models.WalletKindEVM, models.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ReferralID, c.ReferralID)

	_, err = r.GetByWallet(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUserRepo_SetUplineOnce(t *testing.T) {
	r := NewMemoryUserRepo()
	ctx := context.Background()
	u, _ := r.UpsertByWallet(ctx, "0xa", models.WalletKindEVM, models.ClientMeta{})

	ok, err := r.SetUpline(ctx, u.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetUpline(ctx, u.ID, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := r.GetByID(ctx, u.ID)
	assert.Equal(t, int64(5), *got.UplineID)
}

func TestMemoryChallengeRepo(t *testing.T) {
	r := NewMemoryChallengeRepo()
	ctx := context.Background()
	now := time.Now()
	r.now = func() time.Time { return now }

	first := &models.AuthChallenge{WalletAddress: "0xa", Nonce: "1"}
	second := &models.AuthChallenge{WalletAddress: "0xa", Nonce: "2"}
	require.NoError(t, r.Create(ctx, first, time.Minute))
	require.NoError(t, r.Create(ctx, second, time.Minute))

	got, err := r.ConsumeLatest(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Nonce, "latest challenge wins")

	now = now.Add(2 * time.Minute)
	_, err = r.ConsumeLatest(ctx, "0xa")
	assert.ErrorIs(t, err, ErrNotFound, "remaining challenge expired")

	n, err := r.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryAuditRepo_GetByUser(t *testing.T) {
	r := NewMemoryAuditRepo()
	ctx := context.Background()
	u, _ := NewMemoryUserRepo().UpsertByWallet(ctx, "0xa", models.WalletKindEVM, models.ClientMeta{})
	id := u.ID

	for _, a := range []string{models.ActionSignedIn, models.ActionReferralSet, models.ActionSignedOut} {
		require.NoError(t, r.Log(ctx, models.AuditLog{Action: a, EntityType: "user", EntityID: &id}))
	}
	require.NoError(t, r.Log(ctx, models.AuditLog{Action: "other", EntityType: "challenge"}))

	logs, err := r.GetByUser(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ActionSignedOut, logs[0].Action, "newest first")
	assert.Len(t, r.Actions(), 4)
}
