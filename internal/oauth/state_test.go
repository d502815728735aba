package oauth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/apperr"
)

func withClock(t *testing.T, at time.Time) *time.Time {
	t.Helper()
	cur := at
	prev := now
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = prev })
	return &cur
}

func TestCreateDecodeState_RoundTrip(t *testing.T) {
	clock := withClock(t, time.UnixMilli(1_700_000_000_000))

	tests := []struct {
		name      string
		verifier  string
		challenge string
		csrf      string
		ttl       int
	}{
		{"default ttl", "v-1", "c-1", "csrf-1", 10},
		{"one minute", "verifier_with-url-safe_chars", "ch", "x", 1},
		{"long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "ccc", 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*clock = time.UnixMilli(1_700_000_000_000)
			token, err := CreateState(tt.verifier, tt.challenge, tt.csrf, tt.ttl)
			require.NoError(t, err)

			st, err := DecodeState(token)
			require.NoError(t, err)
			assert.Equal(t, tt.verifier, st.CodeVerifier)
			assert.Equal(t, tt.challenge, st.CodeChallenge)
			assert.Equal(t, tt.csrf, st.CSRFToken)
			assert.Equal(t, st.IssuedAt+int64(tt.ttl)*60*1000, st.ExpiresAt)

			assert.True(t, ValidateState(st), "valid right after creation")

			*clock = clock.Add(time.Duration(tt.ttl) * time.Minute)
			assert.False(t, ValidateState(st), "invalid once ttl has elapsed")
		})
	}
}

func TestCreateState_NonPositiveTTLUsesDefault(t *testing.T) {
	withClock(t, time.UnixMilli(1_000))
	token, err := CreateState("v", "c", "x", 0)
	require.NoError(t, err)
	st, err := DecodeState(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000+DefaultStateTTLMinutes*60*1000), st.ExpiresAt)
}

func TestDecodeState_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"base64 of non json", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"std base64 alphabet", "ab+/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeState(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedState)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestValidateState_ExpiredByOneMillisecond(t *testing.T) {
	clock := withClock(t, time.UnixMilli(5_000_000))
	st := &State{
		CodeVerifier:  "v",
		CodeChallenge: "c",
		CSRFToken:     "x",
		IssuedAt:      clock.UnixMilli() - 60_000,
		ExpiresAt:     clock.UnixMilli() - 1,
	}
	assert.False(t, ValidateState(st))
}

func TestValidateState_MissingFields(t *testing.T) {
	withClock(t, time.UnixMilli(1_000))
	full := State{CodeVerifier: "v", CodeChallenge: "c", CSRFToken: "x", IssuedAt: 1_000, ExpiresAt: 10_000}
	require.True(t, ValidateState(&full))

	tests := []struct {
		name   string
		mutate func(s *State)
	}{
		{"no verifier", func(s *State) { s.CodeVerifier = "" }},
		{"no challenge", func(s *State) { s.CodeChallenge = "" }},
		{"no csrf", func(s *State) { s.CSRFToken = "" }},
		{"no issuedAt", func(s *State) { s.IssuedAt = 0 }},
		{"no expiresAt", func(s *State) { s.ExpiresAt = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := full
			tt.mutate(&s)
			assert.False(t, ValidateState(&s))
		})
	}
	assert.False(t, ValidateState(nil))
}

func TestPKCE(t *testing.T) {
	v, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 43)

	v2, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, v, v2)

	// RFC 7636 appendix B
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
