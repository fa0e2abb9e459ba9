package middleware

import (
	"errors"
	"strings"

	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const currentUserKey = "currentUser"

type AuthMiddleware struct {
	DB     *gorm.DB
	Tokens *utils.TokenIssuer
}

func NewAuthMiddleware(db *gorm.DB, tokens *utils.TokenIssuer) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Tokens: tokens}
}

// RequireAuth resolves the bearer token to a User and stores it on the
// request. An unknown user is an authorization failure; an unreachable
// store is reported as 503 so callers can tell infrastructure faults
// from denials.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	// The scheme is "Bearer <token>"; a header without the space
	// separator is malformed, not a token.
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		logger.Warn("jwt_invalid_format", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if tokenString == "" {
		logger.Warn("jwt_invalid_format", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := a.Tokens.Validate(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("jwt_user_not_found", map[string]interface{}{
				"ip":      c.IP(),
				"path":    c.Path(),
				"user_id": claims.UserID,
			})
			return utils.Error(c, fiber.StatusUnauthorized, "user not found")
		}
		logger.Error("identity_store_unavailable", err, map[string]interface{}{
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusServiceUnavailable, "service unavailable")
	}

	c.Locals(currentUserKey, &user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// RequireRole enforces strict equality against exactly one role: ops is
// not a superset of client and admin is checked with the same mechanism.
func RequireRole(role models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}
		if user.Role != role {
			logger.WarnWithUser(user.ID.String(), "role_denied", map[string]interface{}{
				"path":     c.Path(),
				"required": string(role),
				"actual":   string(user.Role),
			})
			return utils.Error(c, fiber.StatusForbidden, string(role)+" access required")
		}
		return c.Next()
	}
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
