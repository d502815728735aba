package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vmcc-dao/backend/internal/http/dto"
	"github.com/vmcc-dao/backend/internal/middleware"
	"github.com/vmcc-dao/backend/internal/oauth"
	"github.com/vmcc-dao/backend/internal/services"
	"go.uber.org/zap"
)

type OAuthHandler struct {
	flow         *oauth.Flow
	social       *services.SocialService
	secureCookie bool
	log          *zap.Logger
}

// NewOAuthHandler. secureCookie is set in production only.
func NewOAuthHandler(flow *oauth.Flow, social *services.SocialService, secureCookie bool, log *zap.Logger) *OAuthHandler {
	return &OAuthHandler{flow: flow, social: social, secureCookie: secureCookie, log: log}
}

// Initiate ставит PKCE cookies и редиректит на провайдера.
// GET /oauth/social?action=initiate
func (h *OAuthHandler) Initiate(c *fiber.Ctx) error {
	if c.Query("action") != "initiate" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "unsupported action",
			Code:      "InvalidAction",
			RequestID: middleware.GetRequestID(c),
		})
	}

	init, err := h.flow.Initiate()
	if err != nil {
		h.log.Warn("oauth initiate failed", zap.Error(err))
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}

	for _, ck := range init.Cookies {
		h.setCookie(c, ck.Name, ck.Value, ck.MaxAge)
	}
	return c.Redirect(init.AuthURL, fiber.StatusFound)
}

// Callback завершает обмен кода. Cookies чистятся только при успехе.
// POST /oauth/social
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	var req dto.OAuthCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		// code/state не строки: для протокола это то же, что их отсутствие
		h.log.Debug("oauth callback body rejected", zap.Error(err))
		return dto.WriteError(c, oauth.ErrMissingParameters, middleware.GetRequestID(c))
	}

	res, err := h.flow.Callback(c.UserContext(), oauth.CallbackInput{
		Code:  req.Code,
		State: req.State,
		Cookies: oauth.CookieValues{
			Verifier:  c.Cookies(oauth.CookieVerifier),
			CSRF:      c.Cookies(oauth.CookieCSRF),
			Challenge: c.Cookies(oauth.CookieChallenge),
			State:     c.Cookies(oauth.CookieState),
		},
	})
	if err != nil {
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}

	for _, name := range []string{oauth.CookieVerifier, oauth.CookieCSRF, oauth.CookieChallenge, oauth.CookieState} {
		h.setCookie(c, name, "", -1)
	}

	// Signed-in caller: persist the X account on the user row as well.
	if claims := middleware.GetClaims(c); claims != nil && h.social != nil {
		if err := h.social.LinkTwitter(c.UserContext(), claims.UserID, res.User.ID, res.User.Username); err != nil {
			h.log.Error("failed to link twitter account", zap.String("user_id", claims.UserID.String()), zap.Error(err))
			return dto.WriteError(c, err, middleware.GetRequestID(c))
		}
	}

	return c.JSON(dto.OAuthCallbackResponse{
		Success:      true,
		AccessToken:  res.AccessToken,
		TokenType:    res.TokenType,
		ExpiresIn:    res.ExpiresIn,
		RefreshToken: res.RefreshToken,
		Scope:        res.Scope,
		User:         dto.OAuthUser{ID: res.User.ID, Username: res.User.Username},
	})
}

// Refresh
// POST /oauth/refresh
func (h *OAuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.OAuthRefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body", Code: "InvalidBody", RequestID: middleware.GetRequestID(c)})
	}
	tokens, err := h.flow.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}
	return c.JSON(tokens)
}

func (h *OAuthHandler) setCookie(c *fiber.Ctx, name, value string, maxAge int) {
	ck := &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if maxAge < 0 {
		ck.Expires = time.Unix(0, 0)
	}
	c.Cookie(ck)
}
