// Package walletauth is the client side of wallet-signature sign-in: fetch a
// challenge, have the wallet sign it, verify with the backend, fold in the
// on-chain claim and referral facts, and only then persist the session.
package walletauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/notify"
	"github.com/vmcc-dao/backend/internal/onboarding"
	"github.com/vmcc-dao/backend/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sign-in phases
const (
	PhaseIdle              = "idle"
	PhaseInitiating        = "initiating"
	PhaseAwaitingSignature = "awaiting_signature"
	PhaseCompleting        = "completing"
	PhaseAuthenticated     = "authenticated"
	PhaseFailed            = "failed"
)

var ValidPhaseTransitions = map[string][]string{
	PhaseIdle:              {PhaseInitiating},
	PhaseInitiating:        {PhaseAwaitingSignature, PhaseFailed},
	PhaseAwaitingSignature: {PhaseCompleting, PhaseIdle, PhaseFailed},
	PhaseCompleting:        {PhaseAuthenticated, PhaseFailed},
	PhaseAuthenticated:     {PhaseIdle},
	PhaseFailed:            {PhaseIdle},
}

func IsValidPhaseTransition(from, to string) bool {
	for _, p := range ValidPhaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

var (
	ErrSignInInProgress = apperr.New(apperr.KindConflict, "SignInInProgress", "a sign-in is already running")
	ErrNoSession        = apperr.New(apperr.KindUnauthorized, "NoSession", "no session")
)

// DefaultStaleness bounds how old on-chain facts in the session may get.
const DefaultStaleness = 5 * time.Minute

type Config struct {
	AppName   string
	ChainID   int64
	Staleness time.Duration
}

// Outcome is a finished sign-in.
type Outcome struct {
	Record *session.Record
	Step   string
}

type Authenticator struct {
	backend  Backend
	signer   Signer
	chain    chain.Reader // nil: no on-chain overrides
	store    *session.Store
	updater  *session.Updater
	secrets  *session.SecretHolder
	notifier *notify.Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	phase string
}

func NewAuthenticator(
	backend Backend,
	signer Signer,
	chainReader chain.Reader,
	store *session.Store,
	secrets *session.SecretHolder,
	notifier *notify.Notifier,
	cfg Config,
	log *zap.Logger,
) *Authenticator {
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if notifier == nil {
		notifier = notify.New(nil, log)
	}
	return &Authenticator{
		backend:  backend,
		signer:   signer,
		chain:    chainReader,
		store:    store,
		updater:  session.NewUpdater(store, log),
		secrets:  secrets,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		phase:    PhaseIdle,
	}
}

func (a *Authenticator) Phase() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Authenticator) advance(to string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !IsValidPhaseTransition(a.phase, to) {
		panic(fmt.Sprintf("walletauth: invalid phase transition %s -> %s", a.phase, to))
	}
	a.phase = to
}

// begin moves a settled machine back to idle and then to initiating.
func (a *Authenticator) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.phase {
	case PhaseIdle:
	case PhaseAuthenticated, PhaseFailed:
		a.phase = PhaseIdle
	default:
		return ErrSignInInProgress
	}
	a.phase = PhaseInitiating
	return nil
}

func (a *Authenticator) fail(err error) error {
	if errors.Is(err, ErrSignatureDenied) {
		a.advance(PhaseIdle)
	} else {
		a.advance(PhaseFailed)
	}
	a.notifier.Error(notify.KeySignIn, err)
	return err
}

// SignIn runs the whole protocol. Nothing is written to the session store
// unless every step, chain reads included, succeeded.
func (a *Authenticator) SignIn(ctx context.Context, headers ClientHeaders) (*Outcome, error) {
	// captured before any await; a sign-out mid-flight cannot swap it
	secret, ok := a.secrets.Capture()
	if !ok {
		return nil, session.ErrNoSecret
	}
	if err := a.begin(); err != nil {
		return nil, err
	}
	wallet := a.signer.Address()
	a.notifier.Loading(notify.KeySignIn, "Requesting sign-in message")

	message, err := a.backend.Initiate(ctx, wallet, a.cfg.AppName)
	if err != nil {
		return nil, a.fail(err)
	}
	a.advance(PhaseAwaitingSignature)
	a.notifier.Loading(notify.KeySignIn, "Waiting for wallet signature")

	signature, err := a.signer.SignMessage(ctx, message)
	if err != nil {
		return nil, a.fail(err)
	}
	a.advance(PhaseCompleting)
	a.notifier.Loading(notify.KeySignIn, "Verifying signature")

	var (
		verified *VerifyResponse
		facts    chainFacts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		verified, err = a.backend.Verify(gctx, VerifyRequest{
			WalletAddress: wallet,
			Signature:     signature,
			ChainID:       a.cfg.ChainID,
		}, headers)
		return err
	})
	a.readChain(g, gctx, wallet, &facts)
	if err := g.Wait(); err != nil {
		return nil, a.fail(err)
	}

	rec := recordFrom(wallet, verified, a.now())
	facts.apply(rec)

	if err := a.store.Create(rec, secret); err != nil {
		return nil, a.fail(err)
	}
	a.advance(PhaseAuthenticated)

	step := onboarding.NextStep(onboarding.FromRecord(rec))
	a.log.Info("wallet signed in",
		zap.String("wallet", strings.ToLower(wallet)),
		zap.Bool("genesis_claimed", rec.GenesisClaimed),
		zap.String("step", step),
	)
	a.notifier.Success(notify.KeySignIn, "Signed in")
	return &Outcome{Record: rec.Clone(), Step: step}, nil
}

type chainFacts struct {
	read    bool
	claimed bool
	upline  *int64
}

func (f chainFacts) apply(rec *session.Record) {
	if !f.read {
		return
	}
	rec.GenesisClaimed = f.claimed
	rec.UplineID = f.upline
}

func (a *Authenticator) readChain(g *errgroup.Group, ctx context.Context, wallet string, f *chainFacts) {
	if a.chain == nil {
		return
	}
	f.read = true
	g.Go(func() error {
		v, err := a.chain.HasClaimed(ctx, wallet)
		f.claimed = v
		return err
	})
	g.Go(func() error {
		v, err := a.chain.UplineID(ctx, wallet)
		f.upline = v
		return err
	})
}

func recordFrom(wallet string, v *VerifyResponse, t time.Time) *session.Record {
	u := v.User
	addr := u.WalletAddress
	if addr == "" {
		addr = wallet
	}
	rec := session.NewRecord(addr, v.Token, t)
	rec.TelegramID = u.TelegramID
	rec.TelegramUsername = u.TelegramUsername
	rec.TelegramJoined = u.TelegramJoined
	rec.TwitterID = u.TwitterID
	rec.TwitterUsername = u.TwitterUsername
	rec.TwitterFollowed = u.TwitterFollowed
	rec.TwitterPostLink = u.TwitterPostLink
	rec.InstagramUsername = u.InstagramUsername
	rec.InstagramFollowed = u.InstagramFollowed
	rec.UplineID = u.UplineID
	rec.GenesisClaimed = u.GenesisClaimed
	rec.Flagged = u.Flagged
	return rec
}

// Reconcile re-reads the on-chain facts when the stored record is older than
// the staleness window and writes any difference back. It reports whether
// the chain was consulted.
func (a *Authenticator) Reconcile(ctx context.Context) (*session.Record, bool, error) {
	secret, ok := a.secrets.Capture()
	if !ok {
		return nil, false, session.ErrNoSecret
	}
	rec := a.store.Read(secret)
	if rec == nil {
		return nil, false, ErrNoSession
	}
	if a.chain == nil || a.now().Sub(rec.UpdatedTime()) < a.cfg.Staleness {
		return rec, false, nil
	}

	var facts chainFacts
	g, gctx := errgroup.WithContext(ctx)
	a.readChain(g, gctx, rec.WalletAddress, &facts)
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	patch := session.Patch{}
	if facts.claimed != rec.GenesisClaimed {
		patch[session.FieldGenesisClaimed] = facts.claimed
	}
	if !sameUpline(facts.upline, rec.UplineID) {
		patch[session.FieldUplineID] = facts.upline
	}
	if len(patch) > 0 {
		a.log.Info("on-chain facts changed since sign-in",
			zap.String("wallet", strings.ToLower(rec.WalletAddress)),
			zap.Any("patch", patch),
		)
	}

	// an empty patch still refreshes updatedAt
	updated, err := a.updater.Do(ctx, secret, patch, nil)
	if err != nil {
		return nil, true, err
	}
	return updated, true, nil
}

// SyncProfile pulls the backend's view of the user into the session, for
// steps completed elsewhere (e.g. the X OAuth callback).
func (a *Authenticator) SyncProfile(ctx context.Context) (*session.Record, error) {
	secret, ok := a.secrets.Capture()
	if !ok {
		return nil, session.ErrNoSecret
	}
	rec := a.store.Read(secret)
	if rec == nil {
		return nil, ErrNoSession
	}
	u, err := a.backend.Me(ctx, rec.AccessToken)
	if err != nil {
		return nil, err
	}
	patch := session.Patch{
		session.FieldTelegramID:        u.TelegramID,
		session.FieldTelegramUsername:  u.TelegramUsername,
		session.FieldTelegramJoined:    u.TelegramJoined,
		session.FieldTwitterID:         u.TwitterID,
		session.FieldTwitterUsername:   u.TwitterUsername,
		session.FieldTwitterFollowed:   u.TwitterFollowed,
		session.FieldTwitterPostLink:   u.TwitterPostLink,
		session.FieldInstagramUsername: u.InstagramUsername,
		session.FieldInstagramFollowed: u.InstagramFollowed,
		session.FieldFlagged:           u.Flagged,
	}
	if u.WalletAddress != "" {
		patch[session.FieldWalletAddress] = u.WalletAddress
	}
	return a.updater.Do(ctx, secret, patch, nil)
}

// RecordFollow marks the X follow step locally right away and rolls it back
// if the backend refuses it.
func (a *Authenticator) RecordFollow(ctx context.Context, postLink string) (*session.Record, error) {
	secret, ok := a.secrets.Capture()
	if !ok {
		return nil, session.ErrNoSecret
	}
	a.notifier.Loading(notify.KeyOAuth, "Saving follow")
	rec, err := a.updater.Do(ctx, secret, session.Patch{
		session.FieldTwitterFollowed: true,
		session.FieldTwitterPostLink: postLink,
	}, func(ctx context.Context, r *session.Record) error {
		return a.backend.RecordFollow(ctx, r.AccessToken, postLink)
	})
	if err != nil {
		a.notifier.Error(notify.KeyOAuth, err)
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoSession
	}
	a.notifier.Success(notify.KeyOAuth, "Follow saved")
	return rec, nil
}

// Logout revokes the bearer token server-side. The local teardown belongs to
// the monitor's sign-out.
func (a *Authenticator) Logout(ctx context.Context) error {
	secret, ok := a.secrets.Capture()
	if !ok {
		return nil
	}
	rec := a.store.Read(secret)
	if rec == nil {
		return nil
	}
	return a.backend.Logout(ctx, rec.AccessToken)
}

func sameUpline(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
