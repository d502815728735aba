package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/http/dto"
	"github.com/vmcc-dao/backend/internal/middleware"
	"github.com/vmcc-dao/backend/internal/models"
	"github.com/vmcc-dao/backend/internal/services"
	"go.uber.org/zap"
)

// ActivityReader is implemented by repositories.AuditRepo.
type ActivityReader interface {
	GetByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// LastActiveTouch is implemented by repositories.UserRepo.
type LastActiveTouch interface {
	UpdateLastActive(ctx context.Context, id uuid.UUID) error
}

type UserHandler struct {
	social   *services.SocialService
	activity ActivityReader
	touch    LastActiveTouch
	log      *zap.Logger
}

func NewUserHandler(social *services.SocialService, activity ActivityReader, touch LastActiveTouch, log *zap.Logger) *UserHandler {
	return &UserHandler{social: social, activity: activity, touch: touch, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := h.social.Me(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) Ping(c *fiber.Ctx) error {
	if h.touch != nil {
		if err := h.touch.UpdateLastActive(c.UserContext(), middleware.GetUserID(c)); err != nil {
			h.log.Error("failed to update last_active", zap.Error(err))
		}
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// LinkTelegram принимает payload Telegram Login Widget.
func (h *UserHandler) LinkTelegram(c *fiber.Ctx) error {
	var req dto.TelegramLinkRequest
	if err := c.BodyParser(&req); err != nil || req.ID == 0 || req.Hash == "" {
		return h.badBody(c)
	}
	user, err := h.social.LinkTelegram(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) RecordFollow(c *fiber.Ctx) error {
	var req dto.FollowRequest
	if err := c.BodyParser(&req); err != nil || req.PostLink == "" {
		return h.badBody(c)
	}
	user, err := h.social.RecordFollow(c.UserContext(), middleware.GetUserID(c), req.PostLink)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) LinkInstagram(c *fiber.Ctx) error {
	var req dto.InstagramRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" {
		return h.badBody(c)
	}
	user, err := h.social.LinkInstagram(c.UserContext(), middleware.GetUserID(c), req.Username)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) SetReferral(c *fiber.Ctx) error {
	var req dto.ReferralRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return h.badBody(c)
	}
	user, err := h.social.SetReferral(c.UserContext(), middleware.GetUserID(c), req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) ConfirmClaim(c *fiber.Ctx) error {
	user, err := h.social.ConfirmClaim(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

// GetActivity returns the caller's audit trail, newest first.
func (h *UserHandler) GetActivity(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.activity.GetByUser(c.UserContext(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		h.log.Error("failed to load activity", zap.Error(err))
		return h.fail(c, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *UserHandler) badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     "invalid request body",
		Code:      "InvalidBody",
		RequestID: middleware.GetRequestID(c),
	})
}

func (h *UserHandler) fail(c *fiber.Ctx, err error) error {
	h.log.Debug("request failed", zap.String("path", c.Path()), zap.Error(err))
	return dto.WriteError(c, err, middleware.GetRequestID(c))
}
