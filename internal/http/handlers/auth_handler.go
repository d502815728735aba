package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vmcc-dao/backend/internal/http/dto"
	"github.com/vmcc-dao/backend/internal/middleware"
	"github.com/vmcc-dao/backend/internal/models"
	"github.com/vmcc-dao/backend/internal/monitor"
	"github.com/vmcc-dao/backend/internal/services"
	"github.com/vmcc-dao/backend/internal/walletauth"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// Initiate выдаёт challenge для подписи.
// POST /auth/initiate
func (h *AuthHandler) Initiate(c *fiber.Ctx) error {
	var req dto.InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body", Code: "InvalidBody", RequestID: middleware.GetRequestID(c)})
	}

	challenge, err := h.authService.Initiate(c.UserContext(), services.InitiateRequest{
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		AppName:       req.AppName,
		Chain:         req.Chain,
	})
	if err != nil {
		h.log.Debug("initiate failed", zap.Error(err))
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}

	return c.JSON(dto.InitiateResponse{MessageToSign: challenge.Message, Nonce: challenge.Nonce})
}

// Verify проверяет подпись и выдаёт JWT.
// POST /auth/verify
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req services.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body", Code: "InvalidBody", RequestID: middleware.GetRequestID(c)})
	}
	if req.TonProof == nil && (req.WalletAddress == "" || req.Signature == "") {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "walletAddress and signature are required", Code: "MissingParameters", RequestID: middleware.GetRequestID(c)})
	}

	res, err := h.authService.Verify(c.UserContext(), req, clientMeta(c))
	if err != nil {
		h.log.Debug("verify failed", zap.Error(err))
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}

	return c.JSON(dto.AuthResponse{Token: res.Token, User: res.User})
}

// Logout отзывает текущий токен.
// POST /auth/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims := middleware.GetClaims(c)
	if err := h.authService.Revoke(c.UserContext(), claims, monitor.ReasonUser); err != nil {
		h.log.Error("logout failed", zap.Error(err))
		return dto.WriteError(c, err, middleware.GetRequestID(c))
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// clientMeta reads the anti-abuse headers. The first x-forwarded-for hop is
// the client; without one we fall back to the peer address.
func clientMeta(c *fiber.Ctx) models.ClientMeta {
	ip := strings.TrimSpace(strings.Split(c.Get(walletauth.HeaderForwardedFor), ",")[0])
	if ip == "" {
		ip = c.IP()
	}
	ua := c.Get(walletauth.HeaderUserAgent)
	if ua == "" {
		ua = c.Get(fiber.HeaderUserAgent)
	}
	return models.ClientMeta{
		Fingerprint: c.Get(walletauth.HeaderFingerprint),
		IP:          ip,
		UserAgent:   ua,
	}
}
