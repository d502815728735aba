package dto

import (
	"github.com/gofiber/fiber/v2"
	"github.com/vmcc-dao/backend/internal/apperr"
)

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type InitiateResponse struct {
	MessageToSign string `json:"messageToSign"`
	Nonce         string `json:"nonce"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type OAuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type OAuthCallbackResponse struct {
	Success      bool      `json:"success"`
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope"`
	User         OAuthUser `json:"user"`
}

// Directive is what the session socket pushes to the client.
type Directive struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Route  string `json:"route,omitempty"`
}

// WriteError answers err with its taxonomy status. Unknown errors become a
// bare 500 so internals do not leak.
func WriteError(c *fiber.Ctx, err error, requestID string) error {
	e, ok := apperr.As(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:     "internal server error",
			Code:      "Internal",
			RequestID: requestID,
		})
	}
	return c.Status(apperr.HTTPStatus(e)).JSON(ErrorResponse{
		Error:     e.Message,
		Code:      e.Code,
		Details:   e.Details,
		RequestID: requestID,
	})
}
