package oauth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
)

// DefaultStateTTLMinutes is the lifetime of an OAuth state bundle.
const DefaultStateTTLMinutes = 10

var ErrMalformedState = apperr.New(apperr.KindValidation, "MalformedState", "state is not a valid encoded state bundle")

// now is swapped in tests.
var now = time.Now

// State is the PKCE bundle smuggled through the provider redirect.
// Timestamps are unix milliseconds.
type State struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
	CSRFToken     string `json:"csrfToken"`
	IssuedAt      int64  `json:"issuedAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// CreateState encodes the bundle with expiresAt = now + ttlMinutes.
// A non-positive ttl falls back to DefaultStateTTLMinutes.
func CreateState(verifier, challenge, csrfToken string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = DefaultStateTTLMinutes
	}
	issued := now().UnixMilli()
	st := State{
		CodeVerifier:  verifier,
		CodeChallenge: challenge,
		CSRFToken:     csrfToken,
		IssuedAt:      issued,
		ExpiresAt:     issued + int64(ttlMinutes)*60*1000,
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState reverses CreateState. It does not check expiry.
func DecodeState(token string) (*State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, apperr.Wrap(ErrMalformedState.Kind, ErrMalformedState.Code, ErrMalformedState.Message, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, apperr.Wrap(ErrMalformedState.Kind, ErrMalformedState.Code, ErrMalformedState.Message, err)
	}
	return &st, nil
}

// ValidateState reports whether all fields are present and the state has not expired.
// Equality against cookies is the caller's job.
func ValidateState(st *State) bool {
	if st == nil {
		return false
	}
	if st.CodeVerifier == "" || st.CodeChallenge == "" || st.CSRFToken == "" || st.IssuedAt <= 0 || st.ExpiresAt <= 0 {
		return false
	}
	return st.ExpiresAt > now().UnixMilli()
}
