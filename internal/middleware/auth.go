package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/auth"
	"go.uber.org/zap"
)

const (
	CtxUserID = "user_id"
	CtxWallet = "wallet_address"
	CtxClaims = "claims"
)

// AuthMiddleware requires a valid, unrevoked bearer token.
func AuthMiddleware(jwtSecret string, revocations auth.RevocationList, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header", "code": "Unauthorized"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format", "code": "Unauthorized"})
		}

		claims, err := authenticate(c, jwtSecret, revocations, tokenStr, log)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token", "code": "Unauthorized"})
		}
		setClaims(c, claims)
		return c.Next()
	}
}

// OptionalAuthMiddleware attaches claims when a valid bearer token is present
// and lets the request through either way.
func OptionalAuthMiddleware(jwtSecret string, revocations auth.RevocationList, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if tokenStr != "" && tokenStr != c.Get("Authorization") {
			if claims, err := authenticate(c, jwtSecret, revocations, tokenStr, log); err == nil {
				setClaims(c, claims)
			}
		}
		return c.Next()
	}
}

func authenticate(c *fiber.Ctx, jwtSecret string, revocations auth.RevocationList, tokenStr string, log *zap.Logger) (*auth.Claims, error) {
	claims, err := auth.ParseJWT(jwtSecret, tokenStr)
	if err != nil {
		log.Debug("jwt parse error", zap.Error(err))
		return nil, err
	}
	if revocations != nil {
		revoked, err := revocations.IsRevoked(c.UserContext(), claims.ID)
		if err != nil {
			// redis недоступен, пропускаем: токен всё равно подписан
			log.Warn("revocation check failed", zap.Error(err))
		} else if revoked {
			return nil, fiber.ErrUnauthorized
		}
	}
	return claims, nil
}

func setClaims(c *fiber.Ctx, claims *auth.Claims) {
	c.Locals(CtxUserID, claims.UserID)
	c.Locals(CtxWallet, claims.WalletAddress)
	c.Locals(CtxClaims, claims)
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetWallet(c *fiber.Ctx) string {
	w, _ := c.Locals(CtxWallet).(string)
	return w
}

// GetClaims returns nil on routes without (or with failed) authentication.
func GetClaims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(CtxClaims).(*auth.Claims)
	return claims
}
