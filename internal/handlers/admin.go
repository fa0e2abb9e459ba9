package handlers

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/docdrop/backend/internal/middleware"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/services"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AdminHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
}

func NewAdminHandler(db *gorm.DB, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{DB: db, Audit: audit}
}

type createOpsUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CreateOpsUser provisions an operations account. Ops accounts are
// pre-verified and never carry a verification secret.
func (h *AdminHandler) CreateOpsUser(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createOpsUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" || req.Password == "" || req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email, password, and name are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Email:         req.Email,
		PasswordHash:  passwordHash,
		Name:          req.Name,
		Role:          models.UserRoleOps,
		EmailVerified: true,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "user already exists")
		}
		logger.Error("ops_user_create_failed", err, map[string]interface{}{
			"email": req.Email,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.InfoWithUser(admin.ID.String(), "ops_user_created", map[string]interface{}{
		"ops_user_id": user.ID.String(),
		"email":       user.Email,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &admin.ID,
		Action:       "user.create_ops",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"email": user.Email},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"userID": user.ID.String(),
	})
}
