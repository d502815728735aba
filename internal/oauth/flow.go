package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

// Flow phases
const (
	PhaseNotStarted       = "not_started"
	PhaseInitiated        = "initiated"
	PhaseCallbackReceived = "callback_received"
	PhaseExchanged        = "exchanged"
	PhaseVerified         = "verified"
	PhaseFailed           = "failed"
)

var ValidPhaseTransitions = map[string][]string{
	PhaseNotStarted:       {PhaseInitiated, PhaseFailed},
	PhaseInitiated:        {PhaseCallbackReceived, PhaseFailed},
	PhaseCallbackReceived: {PhaseExchanged, PhaseFailed},
	PhaseExchanged:        {PhaseVerified, PhaseFailed},
	PhaseVerified:         {},
	PhaseFailed:           {},
}

func IsValidPhaseTransition(from, to string) bool {
	for _, p := range ValidPhaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Cookie names set on initiation. All four carry the same max-age.
const (
	CookieVerifier  = "x_code_verifier"
	CookieCSRF      = "x_csrf_token"
	CookieChallenge = "x_code_challenge"
	CookieState     = "x_oauth_state"

	CookieMaxAge = 600
)

type Cookie struct {
	Name   string
	Value  string
	MaxAge int
}

type Initiation struct {
	AuthURL string
	State   string
	Cookies []Cookie
}

// CookieValues are the cookies the browser sent back with the callback.
type CookieValues struct {
	Verifier  string
	CSRF      string
	Challenge string
	State     string
}

type CallbackInput struct {
	Code    string
	State   string
	Cookies CookieValues
}

type Result struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	Scope        string  `json:"scope"`
	User         Profile `json:"user"`
	Phase        string  `json:"-"`
}

type FlowConfig struct {
	StateTTLMinutes int
	Timeout         time.Duration // bound for exchange and profile fetch each
}

// Flow drives the authorization-code + PKCE exchange with one provider.
// A nil provider means credentials are not configured.
type Flow struct {
	provider Provider
	codes    CodeStore
	cfg      FlowConfig
	log      *zap.Logger
}

func NewFlow(provider Provider, codes CodeStore, cfg FlowConfig, log *zap.Logger) *Flow {
	if cfg.StateTTLMinutes <= 0 {
		cfg.StateTTLMinutes = DefaultStateTTLMinutes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Flow{provider: provider, codes: codes, cfg: cfg, log: log}
}

func (f *Flow) Configured() bool { return f.provider != nil }

func (f *Flow) stateTTL() time.Duration {
	return time.Duration(f.cfg.StateTTLMinutes) * time.Minute
}

// Initiate creates fresh PKCE material, the encoded state and the cookies
// that anchor it to this browser.
func (f *Flow) Initiate() (*Initiation, error) {
	if !f.Configured() {
		return nil, ErrNotConfigured
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "InitiateFailed", "failed to initiate oauth", err)
	}
	challenge := GenerateCodeChallenge(verifier)
	csrf, err := GenerateCSRFToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "InitiateFailed", "failed to initiate oauth", err)
	}
	state, err := CreateState(verifier, challenge, csrf, f.cfg.StateTTLMinutes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "InitiateFailed", "failed to encode state", err)
	}

	f.log.Debug("oauth flow initiated", zap.String("phase", PhaseInitiated))

	return &Initiation{
		AuthURL: f.provider.AuthorizationURL(state, challenge),
		State:   state,
		Cookies: []Cookie{
			{Name: CookieVerifier, Value: verifier, MaxAge: CookieMaxAge},
			{Name: CookieCSRF, Value: csrf, MaxAge: CookieMaxAge},
			{Name: CookieChallenge, Value: challenge, MaxAge: CookieMaxAge},
			{Name: CookieState, Value: state, MaxAge: CookieMaxAge},
		},
	}, nil
}

// Callback validates the redirect against the cookies, reserves the code and
// runs the exchange. Checks short-circuit in order; once the code is reserved
// the attempt runs to completion or failure with no way back.
func (f *Flow) Callback(ctx context.Context, in CallbackInput) (*Result, error) {
	a := &attempt{phase: PhaseInitiated, log: f.log}
	a.advance(PhaseCallbackReceived)

	if in.Code == "" || in.State == "" {
		return nil, a.fail(ErrMissingParameters)
	}

	used, err := f.codes.Used(ctx, in.Code)
	if err != nil {
		return nil, a.fail(apperr.Wrap(apperr.KindInternal, "CodeStoreUnavailable", "failed to check authorization code", err))
	}
	if used {
		return nil, a.fail(ErrCodeAlreadyUsed)
	}

	if !f.Configured() {
		return nil, a.fail(ErrNotConfigured)
	}

	st, err := DecodeState(in.State)
	if err != nil {
		return nil, a.fail(apperr.Wrap(ErrInvalidStateFormat.Kind, ErrInvalidStateFormat.Code, ErrInvalidStateFormat.Message, err))
	}
	if !ValidateState(st) {
		return nil, a.fail(ErrInvalidOrExpiredState)
	}
	if !equal(in.Cookies.State, in.State) {
		return nil, a.fail(ErrStateCsrfMismatch)
	}
	if !equal(in.Cookies.Verifier, st.CodeVerifier) {
		return nil, a.fail(ErrVerifierMismatch)
	}
	if !equal(in.Cookies.CSRF, st.CSRFToken) {
		return nil, a.fail(ErrCsrfMismatch)
	}

	// Reserve before any network call: a concurrent request with the same
	// code loses here even while this one is still in flight.
	ok, err := f.codes.Reserve(ctx, in.Code, f.stateTTL())
	if err != nil {
		return nil, a.fail(apperr.Wrap(apperr.KindInternal, "CodeStoreUnavailable", "failed to reserve authorization code", err))
	}
	if !ok {
		return nil, a.fail(ErrCodeAlreadyUsed)
	}

	exCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	tokens, err := f.provider.Exchange(exCtx, in.Code, st.CodeVerifier)
	cancel()
	if err != nil {
		return nil, a.fail(err)
	}
	a.advance(PhaseExchanged)

	pCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	profile, err := f.provider.FetchProfile(pCtx, tokens.AccessToken)
	cancel()
	if err != nil {
		return nil, a.fail(err)
	}
	a.advance(PhaseVerified)

	f.log.Info("oauth account verified",
		zap.String("provider_user_id", profile.ID),
		zap.String("username", profile.Username),
	)

	return &Result{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
		User:         *profile,
		Phase:        a.phase,
	}, nil
}

// Refresh trades a refresh token for a new pair. Stateless: no cookies, no state.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	if !f.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	return f.provider.Refresh(ctx, refreshToken)
}

type attempt struct {
	phase string
	log   *zap.Logger
}

func (a *attempt) advance(to string) {
	if !IsValidPhaseTransition(a.phase, to) {
		panic(fmt.Sprintf("oauth: invalid phase transition %s -> %s", a.phase, to))
	}
	a.phase = to
}

func (a *attempt) fail(err error) error {
	from := a.phase
	a.advance(PhaseFailed)
	a.log.Debug("oauth callback failed",
		zap.String("phase", from),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err),
	)
	return err
}

func equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
