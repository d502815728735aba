package oauth

import "github.com/vmcc-dao/backend/internal/apperr"

// Callback failures, in validation order.
var (
	ErrMissingParameters     = apperr.New(apperr.KindValidation, "MissingParameters", "code and state are required")
	ErrCodeAlreadyUsed       = apperr.New(apperr.KindReplay, "CodeAlreadyUsed", "authorization code has already been used")
	ErrNotConfigured         = apperr.New(apperr.KindConfiguration, "ConfigurationError", "oauth provider credentials are not configured")
	ErrInvalidStateFormat    = apperr.New(apperr.KindValidation, "InvalidStateFormat", "state parameter could not be decoded")
	ErrInvalidOrExpiredState = apperr.New(apperr.KindValidation, "InvalidOrExpiredState", "state is incomplete or expired")
	ErrStateCsrfMismatch     = apperr.New(apperr.KindCsrf, "StateCsrfMismatch", "state does not match the state cookie")
	ErrVerifierMismatch      = apperr.New(apperr.KindCsrf, "VerifierMismatch", "code verifier does not match")
	ErrCsrfMismatch          = apperr.New(apperr.KindCsrf, "CsrfMismatch", "csrf token does not match")
)

// Provider failures.
var (
	ErrTokenExchangeFailed = apperr.New(apperr.KindUpstream, "TokenExchangeFailed", "token exchange failed")
	ErrProfileFetchFailed  = apperr.New(apperr.KindUpstream, "ProfileFetchFailed", "profile fetch failed")
	ErrRefreshFailed       = apperr.New(apperr.KindUpstream, "RefreshFailed", "token refresh failed")
	ErrTimeout             = apperr.New(apperr.KindTimeout, "Timeout", "provider did not answer in time")
	ErrMissingRefreshToken = apperr.New(apperr.KindValidation, "MissingParameters", "refresh_token is required")
)
