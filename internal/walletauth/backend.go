package walletauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

// ClientHeaders are the anti-abuse headers sent with verification.
type ClientHeaders struct {
	Fingerprint  string
	ForwardedFor string
	UserAgent    string
}

const (
	HeaderFingerprint  = "x-api-fingerprint"
	HeaderForwardedFor = "x-forwarded-for"
	HeaderUserAgent    = "x-api-useragent"
)

type VerifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	ChainID       int64  `json:"chainId"`
}

// BackendUser is the user record as the backend reports it.
type BackendUser struct {
	ID                string `json:"id"`
	WalletAddress     string `json:"walletAddress"`
	TelegramID        int64  `json:"telegramId"`
	TelegramUsername  string `json:"telegramUsername"`
	TelegramJoined    bool   `json:"telegramJoined"`
	TwitterID         string `json:"twitterId"`
	TwitterUsername   string `json:"twitterUsername"`
	TwitterFollowed   bool   `json:"twitterFollowed"`
	TwitterPostLink   string `json:"twitterPostLink"`
	InstagramUsername string `json:"instagramUsername"`
	InstagramFollowed bool   `json:"instagramFollowed"`
	UplineID          *int64 `json:"uplineId"`
	ReferralID        int64  `json:"referralId"`
	GenesisClaimed    bool   `json:"genesisClaimed"`
	Flagged           bool   `json:"flagged"`
}

type VerifyResponse struct {
	Token string      `json:"token"`
	User  BackendUser `json:"user"`
}

type Backend interface {
	Initiate(ctx context.Context, wallet, appName string) (string, error)
	Verify(ctx context.Context, req VerifyRequest, h ClientHeaders) (*VerifyResponse, error)
	Me(ctx context.Context, token string) (*BackendUser, error)
	RecordFollow(ctx context.Context, token, postLink string) error
	Logout(ctx context.Context, token string) error
}

// HTTPBackend talks to the onboarding API.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPBackend(baseURL string, log *zap.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (b *HTTPBackend) Initiate(ctx context.Context, wallet, appName string) (string, error) {
	var resp struct {
		MessageToSign string `json:"messageToSign"`
	}
	err := b.do(ctx, http.MethodPost, "/api/v1/auth/initiate", "", nil,
		map[string]string{"walletAddress": wallet, "appName": appName}, &resp)
	if err != nil {
		return "", err
	}
	if resp.MessageToSign == "" {
		return "", apperr.New(apperr.KindUpstream, "EmptyChallenge", "backend returned an empty challenge")
	}
	return resp.MessageToSign, nil
}

func (b *HTTPBackend) Verify(ctx context.Context, req VerifyRequest, h ClientHeaders) (*VerifyResponse, error) {
	headers := map[string]string{
		HeaderFingerprint:  h.Fingerprint,
		HeaderForwardedFor: h.ForwardedFor,
		HeaderUserAgent:    h.UserAgent,
	}
	var resp VerifyResponse
	if err := b.do(ctx, http.MethodPost, "/api/v1/auth/verify", "", headers, req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, apperr.New(apperr.KindUpstream, "EmptyToken", "backend returned no token")
	}
	return &resp, nil
}

func (b *HTTPBackend) Me(ctx context.Context, token string) (*BackendUser, error) {
	var u BackendUser
	if err := b.do(ctx, http.MethodGet, "/api/v1/me", token, nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (b *HTTPBackend) RecordFollow(ctx context.Context, token, postLink string) error {
	return b.do(ctx, http.MethodPost, "/api/v1/me/twitter/follow", token, nil,
		map[string]string{"postLink": postLink}, nil)
}

func (b *HTTPBackend) Logout(ctx context.Context, token string) error {
	return b.do(ctx, http.MethodPost, "/api/v1/auth/logout", token, nil, nil, nil)
}

func (b *HTTPBackend) do(ctx context.Context, method, path, token string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindTimeout, "BackendTimeout", "backend did not answer", err)
		}
		return apperr.Wrap(apperr.KindUpstream, "BackendUnavailable", "backend unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backendError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// backendError keeps the backend's status and error body.
func backendError(status int, raw []byte) error {
	var eb struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(raw, &eb)
	code := eb.Code
	if code == "" {
		code = "BackendError"
	}
	msg := eb.Error
	if msg == "" {
		msg = fmt.Sprintf("backend returned %d", status)
	}
	return apperr.New(apperr.KindUpstream, code, msg).WithStatus(status).WithDetails(strings.TrimSpace(string(raw)))
}
