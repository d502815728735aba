package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/apperr"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/models"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/socialcheck"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound          = apperr.New(apperr.KindNotFound, "UserNotFound", "user not found")
	ErrTelegramNotConfigured = apperr.New(apperr.KindConfiguration, "ConfigurationError", "telegram bot is not configured")
	ErrInvalidTelegramLogin  = apperr.New(apperr.KindUnauthorized, "InvalidTelegramLogin", "telegram login data is not valid")
	ErrTelegramNotJoined     = apperr.New(apperr.KindValidation, "TelegramNotJoined", "join the telegram channel first")
	ErrInvalidPostLink       = apperr.New(apperr.KindValidation, "InvalidPostLink", "post link must be an X status URL")
	ErrTwitterNotLinked      = apperr.New(apperr.KindValidation, "TwitterNotLinked", "connect your X account first")
	ErrPostAuthorMismatch    = apperr.New(apperr.KindValidation, "PostAuthorMismatch", "post was not made by the linked X account")
	ErrInstagramNotFound     = apperr.New(apperr.KindValidation, "InstagramProfileNotFound", "instagram profile not found")
	ErrInvalidReferralCode   = apperr.New(apperr.KindValidation, "InvalidReferralCode", "referral code is not valid")
	ErrSelfReferral          = apperr.New(apperr.KindValidation, "SelfReferral", "you cannot refer yourself")
	ErrReferralAlreadySet    = apperr.New(apperr.KindConflict, "ReferralAlreadySet", "referral code was already entered")
	ErrChainNotConfigured    = apperr.New(apperr.KindConfiguration, "ConfigurationError", "chain reads are not configured")
	ErrNotClaimed            = apperr.New(apperr.KindValidation, "NotClaimed", "genesis key is not claimed on chain")
)

// ChatMemberGetter is implemented by BotClient.
type ChatMemberGetter interface {
	GetChatMember(ctx context.Context, chat string, userID int64) (*ChatMember, error)
}

// ProfileChecker is implemented by socialcheck.Checker.
type ProfileChecker interface {
	InstagramProfile(ctx context.Context, username string) (*socialcheck.Profile, error)
}

type SocialService struct {
	users   UserStore
	audit   AuditLogger
	bot     ChatMemberGetter
	checker ProfileChecker
	chain   chain.Reader
	cfg     *config.Config
	log     *zap.Logger
}

// NewSocialService wires the onboarding steps. bot and chainReader may be nil.
func NewSocialService(
	users UserStore,
	audit AuditLogger,
	bot ChatMemberGetter,
	checker ProfileChecker,
	chainReader chain.Reader,
	cfg *config.Config,
	log *zap.Logger,
) *SocialService {
	return &SocialService{
		users:   users,
		audit:   audit,
		bot:     bot,
		checker: checker,
		chain:   chainReader,
		cfg:     cfg,
		log:     log,
	}
}

func (s *SocialService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// LinkTelegram verifies the Login Widget payload and channel membership.
// The account link is stored even when the user has not joined yet.
func (s *SocialService) LinkTelegram(ctx context.Context, userID uuid.UUID, login auth.TelegramLogin) (*models.User, error) {
	if s.cfg.TelegramBotToken == "" || s.cfg.TelegramChannel == "" || s.bot == nil {
		return nil, ErrTelegramNotConfigured
	}
	if err := auth.ValidateTelegramLogin(login, s.cfg.TelegramBotToken, s.cfg.TelegramLoginMaxAge); err != nil {
		s.log.Debug("telegram login rejected", zap.Error(err))
		return nil, ErrInvalidTelegramLogin
	}

	member, err := s.bot.GetChatMember(ctx, s.cfg.TelegramChannel, login.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "TelegramUnavailable", "could not check channel membership", err)
	}
	joined := member.Joined()

	if err := s.users.SetTelegram(ctx, userID, login.ID, login.Username, joined); err != nil {
		return nil, fmt.Errorf("failed to store telegram account: %w", err)
	}
	s.logAudit(ctx, userID, models.ActionTelegramLinked, map[string]any{"telegram_id": login.ID, "joined": joined})

	if !joined {
		return nil, ErrTelegramNotJoined
	}
	return s.Me(ctx, userID)
}

// LinkTwitter stores the X account that completed the OAuth exchange.
func (s *SocialService) LinkTwitter(ctx context.Context, userID uuid.UUID, twitterID, username string) error {
	if err := s.users.SetTwitterAccount(ctx, userID, twitterID, username); err != nil {
		return fmt.Errorf("failed to store twitter account: %w", err)
	}
	s.logAudit(ctx, userID, models.ActionTwitterLinked, map[string]any{"twitter_id": twitterID, "username": username})
	return nil
}

var statusLinkRE = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/([A-Za-z0-9_]{1,15})/status/(\d+)(?:[/?#].*)?$`)

// ParseStatusLink returns the author and status id of an X post URL.
func ParseStatusLink(link string) (string, string, error) {
	m := statusLinkRE.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", "", ErrInvalidPostLink
	}
	return m[1], m[2], nil
}

// RecordFollow marks the follow step done with the user's announcement post.
func (s *SocialService) RecordFollow(ctx context.Context, userID uuid.UUID, postLink string) (*models.User, error) {
	author, _, err := ParseStatusLink(postLink)
	if err != nil {
		return nil, err
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TwitterUsername == nil || *u.TwitterUsername == "" {
		return nil, ErrTwitterNotLinked
	}
	if !strings.EqualFold(author, strings.TrimPrefix(*u.TwitterUsername, "@")) {
		return nil, ErrPostAuthorMismatch
	}

	if err := s.users.SetTwitterFollowed(ctx, userID, strings.TrimSpace(postLink)); err != nil {
		return nil, fmt.Errorf("failed to store follow: %w", err)
	}
	s.logAudit(ctx, userID, models.ActionTwitterFollowed, map[string]any{"post_link": postLink})
	return s.Me(ctx, userID)
}

func (s *SocialService) LinkInstagram(ctx context.Context, userID uuid.UUID, username string) (*models.User, error) {
	profile, err := s.checker.InstagramProfile(ctx, username)
	switch {
	case errors.Is(err, socialcheck.ErrInvalidUsername), errors.Is(err, socialcheck.ErrProfileNotFound):
		return nil, ErrInstagramNotFound
	case err != nil:
		return nil, apperr.Wrap(apperr.KindUpstream, "InstagramUnavailable", "could not check instagram profile", err)
	}

	if err := s.users.SetInstagram(ctx, userID, profile.Username); err != nil {
		return nil, fmt.Errorf("failed to store instagram account: %w", err)
	}
	s.logAudit(ctx, userID, models.ActionInstagramFollowed, map[string]any{"username": profile.Username})
	return s.Me(ctx, userID)
}

// SetReferral resolves a referrer's code into the user's upline. Only once.
func (s *SocialService) SetReferral(ctx context.Context, userID uuid.UUID, code string) (*models.User, error) {
	referralID, err := strconv.ParseInt(strings.TrimSpace(code), 10, 64)
	if err != nil || referralID <= 0 {
		return nil, ErrInvalidReferralCode
	}
	referrer, err := s.users.GetByReferralID(ctx, referralID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, err
	}
	if referrer.ID == userID {
		return nil, ErrSelfReferral
	}

	ok, err := s.users.SetUpline(ctx, userID, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to store upline: %w", err)
	}
	if !ok {
		return nil, ErrReferralAlreadySet
	}
	s.logAudit(ctx, userID, models.ActionReferralSet, map[string]any{"upline_id": referralID})
	return s.Me(ctx, userID)
}

// ConfirmClaim records the genesis claim after re-reading it from the contract.
func (s *SocialService) ConfirmClaim(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if s.chain == nil {
		return nil, ErrChainNotConfigured
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	facts, err := ReadChainFacts(ctx, s.chain, u.WalletAddress)
	if err != nil {
		return nil, err
	}
	if !facts.GenesisClaimed {
		return nil, ErrNotClaimed
	}
	if err := s.users.ApplyChainFacts(ctx, userID, facts); err != nil {
		return nil, fmt.Errorf("failed to store claim: %w", err)
	}
	s.logAudit(ctx, userID, models.ActionGenesisClaimed, nil)
	return s.Me(ctx, userID)
}

// ResyncChain refreshes claim/upline for up to limit unclaimed users and
// returns how many changed.
func (s *SocialService) ResyncChain(ctx context.Context, limit int) (int, error) {
	if s.chain == nil {
		return 0, nil
	}
	users, err := s.users.ListUnclaimed(ctx, limit)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, u := range users {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		facts, err := ReadChainFacts(ctx, s.chain, u.WalletAddress)
		if err != nil {
			s.log.Warn("chain resync read failed", zap.String("wallet", u.WalletAddress), zap.Error(err))
			continue
		}
		if facts.GenesisClaimed == u.GenesisClaimed && (facts.UplineID == nil || sameUpline(facts.UplineID, u.UplineID)) {
			continue
		}
		if err := s.users.ApplyChainFacts(ctx, u.ID, facts); err != nil {
			s.log.Warn("chain resync write failed", zap.String("wallet", u.WalletAddress), zap.Error(err))
			continue
		}
		if s.audit != nil {
			id := u.ID
			_ = s.audit.Log(ctx, models.AuditLog{
				ActorType:  models.ActorSystem,
				Action:     models.ActionChainResync,
				EntityType: "user",
				EntityID:   &id,
				Meta:       map[string]any{"genesis_claimed": facts.GenesisClaimed, "upline_id": facts.UplineID},
			})
		}
		changed++
	}
	return changed, nil
}

func (s *SocialService) logAudit(ctx context.Context, userID uuid.UUID, action string, meta map[string]any) {
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
