package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"golang.org/x/oauth2"
)

// TokenSet is the provider's token response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// Profile is the authenticated social account.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type Provider interface {
	AuthorizationURL(state, challenge string) string
	Exchange(ctx context.Context, code, verifier string) (*TokenSet, error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

type XProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	Scopes       []string
	Timeout      time.Duration
}

// XProvider talks to the X (Twitter) OAuth 2.0 endpoints.
// Client credentials go in the Authorization header (HTTP Basic).
type XProvider struct {
	oauth      *oauth2.Config
	profileURL string
	httpClient *http.Client
}

func NewXProvider(cfg XProviderConfig) *XProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &XProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		profileURL: cfg.ProfileURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *XProvider) AuthorizationURL(state, challenge string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (p *XProvider) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, upstreamError(ErrTokenExchangeFailed, err)
	}
	return tokenSet(tok), nil
}

func (p *XProvider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, upstreamError(ErrRefreshFailed, err)
	}
	return tokenSet(tok), nil
}

func (p *XProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, ErrProfileFetchFailed.Code, "failed to create profile request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, upstreamError(ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ErrProfileFetchFailed.WithStatus(resp.StatusCode).WithDetails(string(body))
	}

	var payload struct {
		Data Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(ErrProfileFetchFailed.Kind, ErrProfileFetchFailed.Code, "failed to decode profile response", err)
	}
	if payload.Data.ID == "" {
		return nil, ErrProfileFetchFailed.WithDetails("profile response missing id")
	}
	return &payload.Data, nil
}

func tokenSet(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// upstreamError maps transport/provider failures: deadline hits become
// ErrTimeout, provider rejections keep their status and body.
func upstreamError(base *apperr.Error, err error) error {
	if isTimeout(err) {
		return apperr.Wrap(ErrTimeout.Kind, ErrTimeout.Code, fmt.Sprintf("%s: %s", base.Message, ErrTimeout.Message), err)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := base.WithDetails(strings.TrimSpace(string(re.Body)))
		if re.Response != nil {
			e = e.WithStatus(re.Response.StatusCode)
		}
		e.Err = err
		return e
	}
	return apperr.Wrap(base.Kind, base.Code, base.Message, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
