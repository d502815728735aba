package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/events"
	"github.com/vmcc-dao/backend/internal/models"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/ton"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		AppName:                "VMCC Genesis",
		JWTSecret:              "test-secret",
		JWTExpiration:          time.Hour,
		AuthChallengeTTL:       5 * time.Minute,
		ChainID:                56,
		FingerprintWalletLimit: 1,
		TelegramBotToken:       "bot-token",
		TelegramChannel:        "@vmccdao",
		TelegramLoginMaxAge:    time.Hour,
	}
}

type authEnv struct {
	svc        *AuthService
	users      *repositories.MemoryUserRepo
	challenges *repositories.MemoryChallengeRepo
	audit      *repositories.MemoryAuditRepo
	revoked    *auth.MemoryRevocationList
	bus        *events.MemoryBus
	chain      *fakeChain
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	e := &authEnv{
		users:      repositories.NewMemoryUserRepo(),
		challenges: repositories.NewMemoryChallengeRepo(),
		audit:      repositories.NewMemoryAuditRepo(),
		revoked:    auth.NewMemoryRevocationList(),
		bus:        events.NewMemoryBus(),
		chain:      &fakeChain{claimed: map[string]bool{}, upline: map[string]int64{}},
	}
	e.svc = NewAuthService(e.users, e.challenges, e.audit, NewMemoryFingerprintTracker(),
		e.revoked, e.chain, e.bus, testConfig(), zap.NewNop())
	return e
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, msg string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func (e *authEnv) signIn(t *testing.T, key *ecdsa.PrivateKey, wallet string, meta models.ClientMeta) (*VerifyResult, error) {
	t.Helper()
	c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: wallet})
	require.NoError(t, err)
	return e.svc.Verify(context.Background(), VerifyRequest{
		WalletAddress: wallet,
		Signature:     personalSign(t, key, c.Message),
		ChainID:       56,
	}, meta)
}

func TestInitiate_InvalidWallet(t *testing.T) {
	e := newAuthEnv(t)
	for _, w := range []string{"", "0x123", "abcdef0000000000000000000000000000000001"} {
		_, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: w})
		assert.ErrorIs(t, err, ErrInvalidWallet, w)
	}
}

func TestInitiate_Message(t *testing.T) {
	e := newAuthEnv(t)
	_, wallet := newWallet(t)

	c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: wallet, AppName: "Airdrop"})
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(wallet), c.WalletAddress)
	assert.Contains(t, c.Message, "Airdrop wants you to sign in")
	assert.Contains(t, c.Message, strings.ToLower(wallet))
	assert.Contains(t, c.Message, "Nonce: "+c.Nonce)
	assert.Len(t, c.Nonce, 32)
}

func TestVerify_EVM(t *testing.T) {
	e := newAuthEnv(t)
	key, wallet := newWallet(t)
	lower := strings.ToLower(wallet)
	e.chain.claimed[lower] = true
	e.chain.upline[lower] = 7

	res, err := e.signIn(t, key, wallet, models.ClientMeta{Fingerprint: "fp-1", IP: "1.2.3.4"})
	require.NoError(t, err)

	assert.Equal(t, lower, res.User.WalletAddress)
	assert.True(t, res.User.GenesisClaimed, "chain claim overrides stored value")
	require.NotNil(t, res.User.UplineID)
	assert.Equal(t, int64(7), *res.User.UplineID)
	assert.False(t, res.User.Flagged)

	claims, err := auth.ParseJWT("test-secret", res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, lower, claims.WalletAddress)

	assert.Contains(t, e.audit.Actions(), models.ActionSignedIn)
}

func TestVerify_ChallengeIsSingleUse(t *testing.T) {
	e := newAuthEnv(t)
	key, wallet := newWallet(t)

	c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: wallet})
	require.NoError(t, err)
	req := VerifyRequest{WalletAddress: wallet, Signature: personalSign(t, key, c.Message)}

	_, err = e.svc.Verify(context.Background(), req, models.ClientMeta{})
	require.NoError(t, err)

	_, err = e.svc.Verify(context.Background(), req, models.ClientMeta{})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestVerify_Rejections(t *testing.T) {
	e := newAuthEnv(t)
	key, wallet := newWallet(t)
	otherKey, _ := newWallet(t)

	t.Run("wrong signer", func(t *testing.T) {
		c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: wallet})
		require.NoError(t, err)
		_, err = e.svc.Verify(context.Background(), VerifyRequest{
			WalletAddress: wallet,
			Signature:     personalSign(t, otherKey, c.Message),
		}, models.ClientMeta{})
		assert.ErrorIs(t, err, ErrInvalidSignature)

		// the failed attempt burned the challenge
		_, err = e.svc.Verify(context.Background(), VerifyRequest{
			WalletAddress: wallet,
			Signature:     personalSign(t, key, c.Message),
		}, models.ClientMeta{})
		assert.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("unsupported chain", func(t *testing.T) {
		_, err := e.svc.Verify(context.Background(), VerifyRequest{WalletAddress: wallet, Signature: "0x", ChainID: 1}, models.ClientMeta{})
		assert.ErrorIs(t, err, ErrUnsupportedChain)
	})

	t.Run("no challenge", func(t *testing.T) {
		_, other := newWallet(t)
		_, err := e.svc.Verify(context.Background(), VerifyRequest{WalletAddress: other, Signature: "0x"}, models.ClientMeta{})
		assert.ErrorIs(t, err, ErrChallengeNotFound)
	})
}

func TestVerify_ChainFailureKeepsStoredFacts(t *testing.T) {
	e := newAuthEnv(t)
	e.chain.err = errors.New("rpc down")
	key, wallet := newWallet(t)

	res, err := e.signIn(t, key, wallet, models.ClientMeta{})
	require.NoError(t, err)
	assert.False(t, res.User.GenesisClaimed)
	assert.Nil(t, res.User.UplineID)
}

func TestVerify_FlagsSharedFingerprint(t *testing.T) {
	e := newAuthEnv(t)
	meta := models.ClientMeta{Fingerprint: "same-device"}

	k1, w1 := newWallet(t)
	res, err := e.signIn(t, k1, w1, meta)
	require.NoError(t, err)
	assert.False(t, res.User.Flagged)

	k2, w2 := newWallet(t)
	res, err = e.signIn(t, k2, w2, meta)
	require.NoError(t, err)
	assert.True(t, res.User.Flagged, "second wallet behind one fingerprint exceeds the limit of 1")
	assert.Contains(t, e.audit.Actions(), models.ActionUserFlagged)

	// the first wallet signing in again does not add a distinct wallet
	_, err = e.signIn(t, k1, w1, meta)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mustTrack(t, e, "same-device", w2))
}

func mustTrack(t *testing.T, e *authEnv, fp, wallet string) int64 {
	t.Helper()
	n, err := e.svc.fingerprints.Track(context.Background(), fp, strings.ToLower(wallet))
	require.NoError(t, err)
	return n
}

func TestVerify_TON(t *testing.T) {
	e := newAuthEnv(t)
	raw := "0:" + strings.Repeat("ab", 32)
	addr, err := ton.ParseAddress(raw)
	require.NoError(t, err)

	c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: addr.String(), Chain: ChainTON})
	require.NoError(t, err)
	assert.Equal(t, raw, c.WalletAddress)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	proof := ton.Proof{
		Timestamp: time.Now().Unix(),
		Domain:    ton.ProofDomain{LengthBytes: len("vmcc.io"), Value: "vmcc.io"},
		Payload:   c.Nonce,
	}
	proof.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, ton.SignatureHash(addr, proof)))

	res, err := e.svc.Verify(context.Background(), VerifyRequest{
		TonProof: &ton.ProofData{Address: raw, PublicKey: hex.EncodeToString(pub), Proof: proof},
	}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.WalletKindTON, res.User.WalletKind)
	assert.Equal(t, raw, res.User.WalletAddress)
}

func TestVerify_TONWrongNetwork(t *testing.T) {
	e := newAuthEnv(t)
	e.svc.cfg.TONNetwork = "mainnet"
	raw := "0:" + strings.Repeat("cd", 32)
	addr, err := ton.ParseAddress(raw)
	require.NoError(t, err)

	c, err := e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: raw, Chain: ChainTON})
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	proof := ton.Proof{
		Timestamp: time.Now().Unix(),
		Domain:    ton.ProofDomain{LengthBytes: len("vmcc.io"), Value: "vmcc.io"},
		Payload:   c.Nonce,
	}
	proof.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, ton.SignatureHash(addr, proof)))

	_, err = e.svc.Verify(context.Background(), VerifyRequest{
		TonProof: &ton.ProofData{Address: raw, Network: ton.NetworkTestnet, PublicKey: hex.EncodeToString(pub), Proof: proof},
	}, models.ClientMeta{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRevoke(t *testing.T) {
	e := newAuthEnv(t)
	key, wallet := newWallet(t)
	res, err := e.signIn(t, key, wallet, models.ClientMeta{})
	require.NoError(t, err)

	var got []events.Event
	_ = e.bus.Subscribe(context.Background(), events.StreamSession, func(ev events.Event) { got = append(got, ev) })

	claims, err := auth.ParseJWT("test-secret", res.Token)
	require.NoError(t, err)

	revoked, err := e.svc.IsRevoked(context.Background(), claims)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, e.svc.Revoke(context.Background(), claims, "address_mismatch"))

	revoked, err = e.svc.IsRevoked(context.Background(), claims)
	require.NoError(t, err)
	assert.True(t, revoked)

	require.Len(t, got, 1)
	assert.Equal(t, events.EventSessionRevoked, got[0].Type)
	assert.Equal(t, strings.ToLower(wallet), got[0].PayloadString("wallet"))
	assert.Equal(t, "address_mismatch", got[0].PayloadString("reason"))
	assert.Contains(t, e.audit.Actions(), models.ActionForcedSignOut)
}

func TestCleanupChallenges(t *testing.T) {
	e := newAuthEnv(t)
	key, wallet := newWallet(t)
	_, err := e.signIn(t, key, wallet, models.ClientMeta{})
	require.NoError(t, err)
	_, err = e.svc.Initiate(context.Background(), InitiateRequest{WalletAddress: wallet})
	require.NoError(t, err)

	n, err := e.svc.CleanupChallenges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the used challenge is removed")
}
