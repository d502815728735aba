package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/events"
	apphttp "github.com/vmcc-dao/backend/internal/http"
	"github.com/vmcc-dao/backend/internal/http/handlers"
	"github.com/vmcc-dao/backend/internal/monitor"
	"github.com/vmcc-dao/backend/internal/oauth"
	"github.com/vmcc-dao/backend/internal/repositories"
	"github.com/vmcc-dao/backend/internal/services"
	"go.uber.org/zap"
)

type fakeProvider struct {
	exchanges int
}

func (p *fakeProvider) AuthorizationURL(state, challenge string) string {
	return "https://x.test/authorize?state=" + state + "&code_challenge=" + challenge
}

func (p *fakeProvider) Exchange(_ context.Context, code, verifier string) (*oauth.TokenSet, error) {
	p.exchanges++
	return &oauth.TokenSet{AccessToken: "at-" + code, TokenType: "bearer", ExpiresIn: 7200, RefreshToken: "rt", Scope: "users.read"}, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ string) (*oauth.Profile, error) {
	return &oauth.Profile{ID: "42", Username: "vmcc_fan", Name: "Fan"}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, rt string) (*oauth.TokenSet, error) {
	return &oauth.TokenSet{AccessToken: "at-refreshed", TokenType: "bearer", ExpiresIn: 7200, RefreshToken: rt}, nil
}

type testEnv struct {
	app      *fiber.App
	cfg      *config.Config
	users    *repositories.MemoryUserRepo
	audit    *repositories.MemoryAuditRepo
	revoked  *auth.MemoryRevocationList
	bus      *events.MemoryBus
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		AppName:                "VMCC Genesis",
		CORSOrigins:            "http://localhost:3000",
		JWTSecret:              "test-secret",
		JWTExpiration:          time.Hour,
		AuthChallengeTTL:       5 * time.Minute,
		ChainID:                56,
		FingerprintWalletLimit: 3,
		OAuthStateTTLMinutes:   10,
	}
	e := &testEnv{
		cfg:      cfg,
		users:    repositories.NewMemoryUserRepo(),
		audit:    repositories.NewMemoryAuditRepo(),
		revoked:  auth.NewMemoryRevocationList(),
		bus:      events.NewMemoryBus(),
		provider: &fakeProvider{},
	}
	challenges := repositories.NewMemoryChallengeRepo()

	authService := services.NewAuthService(e.users, challenges, e.audit, services.NewMemoryFingerprintTracker(), e.revoked, nil, e.bus, cfg, log)
	social := services.NewSocialService(e.users, e.audit, nil, nil, nil, cfg, log)
	flow := oauth.NewFlow(e.provider, oauth.NewMemoryCodeStore(), oauth.FlowConfig{StateTTLMinutes: 10, Timeout: time.Second}, log)
	hub := handlers.NewSessionHub(authService, cfg.JWTSecret, monitor.DefaultRoutes(), e.bus, log)
	require.NoError(t, hub.Start(context.Background()))

	e.app = fiber.New()
	apphttp.SetupRouter(e.app, cfg, log, nil, e.revoked,
		handlers.NewAuthHandler(authService, log),
		handlers.NewUserHandler(social, e.audit, e.users, log),
		handlers.NewOAuthHandler(flow, social, false, log),
		hub,
	)
	return e
}

func (e *testEnv) do(t *testing.T, method, path, body, token string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// signIn runs initiate + verify for a fresh key and returns the bearer token.
func (e *testEnv) signIn(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	resp := e.do(t, http.MethodPost, "/api/v1/auth/initiate", `{"walletAddress":"`+wallet+`","appName":"VMCC"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := decode(t, resp)["messageToSign"].(string)

	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[64] += 27

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify",
		strings.NewReader(`{"walletAddress":"`+wallet+`","signature":"`+hexutil.Encode(sig)+`","chainId":56}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-fingerprint", "fp-1")
	req.Header.Set("x-forwarded-for", "203.0.113.7, 10.0.0.1")
	resp, err = e.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token, strings.ToLower(wallet)
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	token, wallet := e.signIn(t)

	u, err := e.users.GetByWallet(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", u.LastIP)
	assert.Equal(t, "fp-1", u.Fingerprint)

	resp := e.do(t, http.MethodGet, "/api/v1/me", "", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, wallet, me["walletAddress"])

	resp = e.do(t, http.MethodPost, "/api/v1/auth/logout", "", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/me", "", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, e.audit.Actions(), "signed_out")
}

func TestAuthErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"bad wallet", "/api/v1/auth/initiate", `{"walletAddress":"0x123"}`, http.StatusBadRequest, "InvalidWalletAddress"},
		{"bad body", "/api/v1/auth/initiate", `{`, http.StatusBadRequest, "InvalidBody"},
		{"missing signature", "/api/v1/auth/verify", `{"walletAddress":"0x0000000000000000000000000000000000000001"}`, http.StatusBadRequest, "MissingParameters"},
		{"no challenge", "/api/v1/auth/verify", `{"walletAddress":"0x0000000000000000000000000000000000000001","signature":"0x00"}`, http.StatusUnauthorized, "ChallengeNotFound"},
		{"wrong chain", "/api/v1/auth/verify", `{"walletAddress":"0x0000000000000000000000000000000000000001","signature":"0x00","chainId":1}`, http.StatusBadRequest, "UnsupportedChain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantErr, decode(t, resp)["code"])
		})
	}

	resp := e.do(t, http.MethodGet, "/api/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func initiateOAuth(t *testing.T, e *testEnv) (string, []*http.Cookie) {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/v1/oauth/social?action=initiate", "", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	cookies := resp.Cookies()
	require.Len(t, cookies, 4)
	var state string
	for _, c := range cookies {
		assert.True(t, c.HttpOnly, c.Name)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite, c.Name)
		assert.Equal(t, oauth.CookieMaxAge, c.MaxAge, c.Name)
		assert.False(t, c.Secure, c.Name)
		if c.Name == oauth.CookieState {
			state = c.Value
		}
	}
	require.NotEmpty(t, state)
	assert.Contains(t, resp.Header.Get("Location"), "https://x.test/authorize?state=")
	return state, cookies
}

func TestOAuthInitiate(t *testing.T) {
	e := newTestEnv(t)
	initiateOAuth(t, e)

	resp := e.do(t, http.MethodGet, "/api/v1/oauth/social?action=other", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthCallback_LinksSignedInUser(t *testing.T) {
	e := newTestEnv(t)
	token, wallet := e.signIn(t)
	state, cookies := initiateOAuth(t, e)

	body := `{"code":"abc","state":"` + state + `"}`
	resp := e.do(t, http.MethodPost, "/api/v1/oauth/social", body, token, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		assert.Empty(t, c.Value, "cookie %s should be cleared", c.Name)
	}
	out := decode(t, resp)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "at-abc", out["access_token"])
	assert.Equal(t, "vmcc_fan", out["user"].(map[string]any)["username"])

	u, err := e.users.GetByWallet(context.Background(), wallet)
	require.NoError(t, err)
	require.NotNil(t, u.TwitterUsername)
	assert.Equal(t, "vmcc_fan", *u.TwitterUsername)

	// replay
	resp = e.do(t, http.MethodPost, "/api/v1/oauth/social", body, token, cookies...)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "CodeAlreadyUsed", decode(t, resp)["code"])
	assert.Equal(t, 1, e.provider.exchanges)
}

func TestOAuthCallback_CookieMismatchKeepsCookies(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := initiateOAuth(t, e)

	var tampered []*http.Cookie
	for _, c := range cookies {
		if c.Name == oauth.CookieCSRF {
			c = &http.Cookie{Name: c.Name, Value: "forged"}
		}
		tampered = append(tampered, c)
	}

	resp := e.do(t, http.MethodPost, "/api/v1/oauth/social", `{"code":"abc","state":"`+state+`"}`, "", tampered...)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
	assert.Equal(t, "CsrfMismatch", decode(t, resp)["code"])
	assert.Equal(t, 0, e.provider.exchanges)
}

func TestOAuthCallback_MissingOrNonStringParameters(t *testing.T) {
	e := newTestEnv(t)
	_, cookies := initiateOAuth(t, e)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty strings", `{"code":"","state":""}`},
		{"numeric code", `{"code":1,"state":"s"}`},
		{"boolean state", `{"code":"abc","state":true}`},
		{"object code", `{"code":{"v":"abc"},"state":"s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/v1/oauth/social", tt.body, "", cookies...)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "MissingParameters", decode(t, resp)["code"])
			assert.Empty(t, resp.Cookies())
		})
	}
	assert.Equal(t, 0, e.provider.exchanges)
}

func TestOAuthRefresh(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/oauth/refresh", `{"refresh_token":"rt-1"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "at-refreshed", decode(t, resp)["access_token"])

	resp = e.do(t, http.MethodPost, "/api/v1/oauth/refresh", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReferralAndActivity(t *testing.T) {
	e := newTestEnv(t)
	refToken, refWallet := e.signIn(t)
	token, _ := e.signIn(t)

	referrer, err := e.users.GetByWallet(context.Background(), refWallet)
	require.NoError(t, err)
	code := `{"code":"` + itoa(referrer.ReferralID) + `"}`

	resp := e.do(t, http.MethodPost, "/api/v1/me/referral", code, refToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "SelfReferral", decode(t, resp)["code"])

	resp = e.do(t, http.MethodPost, "/api/v1/me/referral", code, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/v1/me/referral", code, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/v1/me/claim", "", token)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "ConfigurationError", decode(t, resp)["code"])

	resp = e.do(t, http.MethodGet, "/api/v1/me/activity?limit=10", "", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode(t, resp)["data"].([]any)
	require.Len(t, logs, 2)
	assert.Equal(t, "referral_set", logs[0].(map[string]any)["action"])
}

func TestSocialBodyValidation(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signIn(t)

	for _, path := range []string{"/api/v1/me/telegram", "/api/v1/me/twitter/follow", "/api/v1/me/instagram", "/api/v1/me/referral"} {
		t.Run(path, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, path, `{}`, token)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := e.do(t, http.MethodPost, "/api/v1/me/twitter/follow", `{"postLink":"https://x.com/someone/status/1"}`, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TwitterNotLinked", decode(t, resp)["code"])
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
