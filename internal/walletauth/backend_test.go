package walletauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

func TestHTTPBackend(t *testing.T) {
	var gotHeaders http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/initiate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"messageToSign": "sign " + body["walletAddress"]})
	})
	mux.HandleFunc("/api/v1/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		var req VerifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Signature == "bad" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"signature does not match","code":"InvalidSignature"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(VerifyResponse{Token: "tok", User: BackendUser{WalletAddress: req.WalletAddress, TelegramJoined: true}})
	})
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(BackendUser{TwitterUsername: "alice"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", zap.NewNop())
	ctx := context.Background()

	msg, err := b.Initiate(ctx, "0xabc", "VMCC")
	require.NoError(t, err)
	assert.Equal(t, "sign 0xabc", msg)

	resp, err := b.Verify(ctx, VerifyRequest{WalletAddress: "0xabc", Signature: "0x01", ChainID: 56},
		ClientHeaders{Fingerprint: "fp-1", ForwardedFor: "10.0.0.1", UserAgent: "cli"})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.True(t, resp.User.TelegramJoined)
	assert.Equal(t, "fp-1", gotHeaders.Get(HeaderFingerprint))
	assert.Equal(t, "10.0.0.1", gotHeaders.Get(HeaderForwardedFor))
	assert.Equal(t, "cli", gotHeaders.Get(HeaderUserAgent))

	_, err = b.Verify(ctx, VerifyRequest{WalletAddress: "0xabc", Signature: "bad"}, ClientHeaders{})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "InvalidSignature", ae.Code)
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))

	u, err := b.Me(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.TwitterUsername)

	_, err = b.Me(ctx, "other")
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
}

func TestKeySigner_RecoversToAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewKeySigner(key)

	msg := "VMCC wants you to sign in\nNonce: abc"
	sigHex, err := s.SignMessage(context.Background(), msg)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestKeySignerFromHex(t *testing.T) {
	const hexKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	s, err := KeySignerFromHex(hexKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.Address(), "0x"))

	_, err = KeySignerFromHex("zz")
	assert.Error(t, err)
}

func TestPromptSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	inner := NewKeySigner(key)

	deny := NewPromptSigner(inner, func(context.Context, string, string) (bool, error) { return false, nil })
	_, err = deny.SignMessage(context.Background(), "m")
	assert.ErrorIs(t, err, ErrSignatureDenied)

	allow := NewPromptSigner(inner, func(context.Context, string, string) (bool, error) { return true, nil })
	sig, err := allow.SignMessage(context.Background(), "m")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}
