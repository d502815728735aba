package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/apperr"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/events"
	"github.com/vmcc-dao/backend/internal/models"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/ton"
	"go.uber.org/zap"
)

var (
	ErrInvalidWallet     = apperr.New(apperr.KindValidation, "InvalidWalletAddress", "wallet address is not valid")
	ErrUnsupportedChain  = apperr.New(apperr.KindValidation, "UnsupportedChain", "chain id is not supported")
	ErrChallengeNotFound = apperr.New(apperr.KindUnauthorized, "ChallengeNotFound", "no pending sign-in challenge for this wallet")
	ErrInvalidSignature  = apperr.New(apperr.KindUnauthorized, "InvalidSignature", "signature does not match the wallet")
)

const ChainTON = "ton"

type InitiateRequest struct {
	WalletAddress string `json:"walletAddress"`
	AppName       string `json:"appName"`
	Chain         string `json:"chain,omitempty"` // "" (evm) / "ton"
}

type VerifyRequest struct {
	WalletAddress string         `json:"walletAddress"`
	Signature     string         `json:"signature"`
	ChainID       int64          `json:"chainId"`
	TonProof      *ton.ProofData `json:"tonProof,omitempty"`
}

type VerifyResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type AuthService struct {
	users        UserStore
	challenges   ChallengeStore
	audit        AuditLogger
	fingerprints FingerprintTracker
	revocations  auth.RevocationList
	chain        chain.Reader
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger
	now          func() time.Time
}

// NewAuthService wires sign-in. chainReader and publisher may be nil.
func NewAuthService(
	users UserStore,
	challenges ChallengeStore,
	audit AuditLogger,
	fingerprints FingerprintTracker,
	revocations auth.RevocationList,
	chainReader chain.Reader,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		users:        users,
		challenges:   challenges,
		audit:        audit,
		fingerprints: fingerprints,
		revocations:  revocations,
		chain:        chainReader,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// NormalizeWallet returns the storage key for a wallet address and its kind.
func NormalizeWallet(address, chainName string) (string, string, error) {
	if strings.EqualFold(chainName, ChainTON) {
		a, err := ton.ParseAddress(address)
		if err != nil {
			return "", "", ErrInvalidWallet
		}
		return ton.RawForm(a), models.WalletKindTON, nil
	}
	if !auth.IsEVMAddress(address) {
		return "", "", ErrInvalidWallet
	}
	return auth.NormalizeEVMAddress(address), models.WalletKindEVM, nil
}

// SignInMessage is the human-readable text the wallet signs.
func SignInMessage(appName, wallet, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your wallet:\n%s\n\nNonce: %s\nIssued At: %s",
		appName, wallet, nonce, issuedAt.UTC().Format(time.RFC3339))
}

// Initiate issues a single-use challenge for the wallet.
func (s *AuthService) Initiate(ctx context.Context, req InitiateRequest) (*models.AuthChallenge, error) {
	wallet, _, err := NormalizeWallet(req.WalletAddress, req.Chain)
	if err != nil {
		return nil, err
	}
	appName := strings.TrimSpace(req.AppName)
	if appName == "" {
		appName = s.cfg.AppName
	}

	nonce, err := generateNonce(16)
	if err != nil {
		return nil, err
	}
	c := &models.AuthChallenge{
		WalletAddress: wallet,
		Nonce:         nonce,
		Message:       SignInMessage(appName, wallet, nonce, s.now()),
	}
	if err := s.challenges.Create(ctx, c, s.cfg.AuthChallengeTTL); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	return c, nil
}

// Verify consumes the wallet's challenge, checks the signature and signs the user in.
func (s *AuthService) Verify(ctx context.Context, req VerifyRequest, meta models.ClientMeta) (*VerifyResult, error) {
	chainName := ""
	address := req.WalletAddress
	if req.TonProof != nil {
		chainName = ChainTON
		if address == "" {
			address = req.TonProof.Address
		}
	}
	wallet, kind, err := NormalizeWallet(address, chainName)
	if err != nil {
		return nil, err
	}
	if kind == models.WalletKindEVM && req.ChainID != 0 && s.cfg.ChainID != 0 && req.ChainID != s.cfg.ChainID {
		return nil, ErrUnsupportedChain
	}

	// 1. Consume challenge (защита от replay)
	challenge, err := s.challenges.ConsumeLatest(ctx, wallet)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	// 2. Signature
	if err := s.verifySignature(kind, wallet, challenge, req); err != nil {
		s.log.Debug("signature rejected", zap.String("wallet", wallet), zap.Error(err))
		return nil, ErrInvalidSignature
	}

	// 3. User
	user, err := s.users.UpsertByWallet(ctx, wallet, kind, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 4. On-chain facts override what we have stored
	if kind == models.WalletKindEVM {
		s.syncChainFacts(ctx, user)
	}

	// 5. Anti-abuse
	s.checkFingerprint(ctx, user, meta.Fingerprint)

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, user.ID, wallet, s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate jwt: %w", err)
	}

	s.logAudit(ctx, user.ID, models.ActionSignedIn, map[string]any{"wallet": wallet, "kind": kind, "ip": meta.IP})
	s.log.Info("wallet signed in", zap.String("user_id", user.ID.String()), zap.String("wallet", wallet))

	return &VerifyResult{Token: token, User: user}, nil
}

func (s *AuthService) verifySignature(kind, wallet string, c *models.AuthChallenge, req VerifyRequest) error {
	if kind == models.WalletKindTON {
		if want := ton.NetworkID(s.cfg.TONNetwork); want != "" && req.TonProof.Network != "" && req.TonProof.Network != want {
			return fmt.Errorf("proof is for network %s, want %s", req.TonProof.Network, want)
		}
		addr, err := ton.VerifyWalletProof(*req.TonProof, c.Nonce, s.cfg.TONProofAllowedDomains, s.now())
		if err != nil {
			return err
		}
		if ton.RawForm(addr) != wallet {
			return errors.New("proof address differs from wallet")
		}
		return nil
	}
	return auth.VerifyPersonalSign(wallet, c.Message, req.Signature)
}

// syncChainFacts applies the contract's view. Read failures keep stored values.
func (s *AuthService) syncChainFacts(ctx context.Context, user *models.User) {
	if s.chain == nil {
		return
	}
	facts, err := ReadChainFacts(ctx, s.chain, user.WalletAddress)
	if err != nil {
		s.log.Warn("chain read failed", zap.String("wallet", user.WalletAddress), zap.Error(err))
		return
	}
	if facts.GenesisClaimed == user.GenesisClaimed && (facts.UplineID == nil || sameUpline(facts.UplineID, user.UplineID)) {
		return
	}
	if err := s.users.ApplyChainFacts(ctx, user.ID, facts); err != nil {
		s.log.Warn("failed to store chain facts", zap.Error(err))
		return
	}
	user.GenesisClaimed = facts.GenesisClaimed
	if facts.UplineID != nil {
		user.UplineID = facts.UplineID
	}
}

func (s *AuthService) checkFingerprint(ctx context.Context, user *models.User, fingerprint string) {
	if fingerprint == "" || s.fingerprints == nil || user.Flagged {
		return
	}
	n, err := s.fingerprints.Track(ctx, fingerprint, user.WalletAddress)
	if err != nil {
		s.log.Warn("fingerprint tracking failed", zap.Error(err))
		return
	}
	if n <= int64(s.cfg.FingerprintWalletLimit) {
		return
	}
	if err := s.users.SetFlagged(ctx, user.ID); err != nil {
		s.log.Warn("failed to flag user", zap.Error(err))
		return
	}
	user.Flagged = true
	s.logAudit(ctx, user.ID, models.ActionUserFlagged, map[string]any{"wallets_per_fingerprint": n})
	s.log.Warn("user flagged", zap.String("user_id", user.ID.String()), zap.Int64("wallets_per_fingerprint", n))
}

// Revoke invalidates the token for the rest of its lifetime and tells every
// open session of the wallet to sign out.
func (s *AuthService) Revoke(ctx context.Context, claims *auth.Claims, reason string) error {
	if err := s.revocations.Revoke(ctx, claims.ID, claims.Remaining()); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	action := models.ActionSignedOut
	if reason != "user" {
		action = models.ActionForcedSignOut
	}
	s.logAudit(ctx, claims.UserID, action, map[string]any{"reason": reason})

	if s.publisher != nil {
		ev := events.SessionRevoked(claims.WalletAddress, claims.UserID.String(), reason)
		if err := s.publisher.Publish(ctx, events.StreamSession, ev); err != nil {
			s.log.Warn("failed to publish session_revoked", zap.Error(err))
		}
	}
	return nil
}

// IsRevoked is consulted by the auth middleware.
func (s *AuthService) IsRevoked(ctx context.Context, claims *auth.Claims) (bool, error) {
	return s.revocations.IsRevoked(ctx, claims.ID)
}

func (s *AuthService) logAudit(ctx context.Context, userID uuid.UUID, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   models.ActorUser,
		Action:      action,
		EntityType:  "user",
		EntityID:    &userID,
		Meta:        meta,
	})
}

// ReadChainFacts reads both contract views for wallet.
func ReadChainFacts(ctx context.Context, r chain.Reader, wallet string) (models.ChainFacts, error) {
	claimed, err := r.HasClaimed(ctx, wallet)
	if err != nil {
		return models.ChainFacts{}, err
	}
	upline, err := r.UplineID(ctx, wallet)
	if err != nil {
		return models.ChainFacts{}, err
	}
	return models.ChainFacts{GenesisClaimed: claimed, UplineID: upline}, nil
}

func sameUpline(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func generateNonce(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CleanupChallenges deletes used and expired challenges.
func (s *AuthService) CleanupChallenges(ctx context.Context) (int64, error) {
	return s.challenges.DeleteExpired(ctx)
}
