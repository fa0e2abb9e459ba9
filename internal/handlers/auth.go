package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/docdrop/backend/internal/middleware"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/services"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/mailtoken"
	"github.com/docdrop/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const verificationSecretBytes = 32

type AuthHandler struct {
	DB              *gorm.DB
	Mailer          services.Mailer
	Audit           *services.AuditService
	Sessions        *utils.TokenIssuer
	PublicURL       string
	TokenKey        []byte
	VerificationTTL time.Duration
}

func NewAuthHandler(db *gorm.DB, mailer services.Mailer, audit *services.AuditService, sessions *utils.TokenIssuer, publicURL, tokenSecret string, verificationTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		DB:              db,
		Mailer:          mailer,
		Audit:           audit,
		Sessions:        sessions,
		PublicURL:       strings.TrimSuffix(publicURL, "/"),
		TokenKey:        []byte(tokenSecret),
		VerificationTTL: verificationTTL,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ClientSignup creates an unverified client account and emails a signed
// verification link. Email uniqueness is enforced by the store's unique
// index, not a read-then-write check.
func (h *AuthHandler) ClientSignup(c *fiber.Ctx) error {
	var req signupRequest
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

	secret, err := generateVerificationSecret()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating verification secret")
	}

	user := models.User{
		Email:              req.Email,
		PasswordHash:       passwordHash,
		Name:               req.Name,
		Role:               models.UserRoleClient,
		EmailVerified:      false,
		VerificationSecret: &secret,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "user already exists")
		}
		logger.Error("signup_create_failed", err, map[string]interface{}{
			"email": req.Email,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	token, err := mailtoken.Encode(h.TokenKey, user.ID.String(), secret)
	if err != nil {
		logger.Error("verification_token_encode_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating verification token")
	}

	verifyURL := h.PublicURL + "/client/verify-email/" + token
	if err := h.Mailer.SendVerification(user.Email, verifyURL); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to send verification email")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.signup",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"email": user.Email},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"message": "user registered successfully, please check your email for verification",
	})
}

// VerifyEmail consumes the emailed token. Expired and invalid tokens
// collapse into one message so the endpoint cannot be used as an
// oracle. Verifying an already-verified account is a no-op success.
func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	payload, err := mailtoken.Decode(h.TokenKey, c.Params("token"), h.VerificationTTL)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid or expired verification token")
	}

	userID, err := parseUUID(payload.UserID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid or expired verification token")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusBadRequest, "invalid or expired verification token")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	if user.EmailVerified {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "email already verified"})
	}

	if user.VerificationSecret == nil || *user.VerificationSecret != payload.Secret {
		return utils.Error(c, fiber.StatusBadRequest, "invalid or expired verification token")
	}

	// Conditional update: the verified flag flips exactly once and the
	// secret is cleared in the same write.
	res := h.DB.Model(&models.User{}).
		Where("id = ? AND email_verified = ?", user.ID, false).
		Updates(map[string]interface{}{"email_verified": true, "verification_secret": nil})
	if res.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed verifying email")
	}
	if res.RowsAffected == 0 {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "email already verified"})
	}

	logger.InfoWithUser(user.ID.String(), "email_verified", map[string]interface{}{
		"email": user.Email,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.verify_email",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "email verified successfully"})
}

func (h *AuthHandler) OpsLogin(c *fiber.Ctx) error {
	return h.login(c, models.UserRoleOps)
}

func (h *AuthHandler) ClientLogin(c *fiber.Ctx) error {
	return h.login(c, models.UserRoleClient)
}

func (h *AuthHandler) AdminLogin(c *fiber.Ctx) error {
	return h.login(c, models.UserRoleAdmin)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) login(c *fiber.Ctx, role models.UserRole) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	var user models.User
	if err := h.DB.First(&user, "email = ? AND role = ?", req.Email, role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("login_failed_user_not_found", map[string]interface{}{
				"email": req.Email,
				"role":  string(role),
				"ip":    c.IP(),
			})
			return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		return utils.Error(c, fiber.StatusServiceUnavailable, "service unavailable")
	}

	if role == models.UserRoleClient && !user.EmailVerified {
		return utils.Error(c, fiber.StatusUnauthorized, "please verify your email before logging in")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.WarnWithUser(user.ID.String(), "login_failed_bad_password", map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := h.Sessions.Generate(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details:      map[string]interface{}{"role": string(role)},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"role":  string(user.Role),
	})
}

// Me returns the authenticated user's own record.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

func generateVerificationSecret() (string, error) {
	raw := make([]byte, verificationSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
