package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/docdrop/backend/internal/config"
	"github.com/docdrop/backend/internal/middleware"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/services"
	"github.com/docdrop/backend/internal/storage"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

const testTokenSecret = "test-token-secret"

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	mailer *recordingMailer
	grants *services.GrantService
}

// recordingMailer captures outgoing verification mail instead of
// talking to an SMTP server.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	To        string
	VerifyURL string
}

func (m *recordingMailer) SendVerification(to, verifyURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, VerifyURL: verifyURL})
	return nil
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a verification mail to have been sent")
	}
	return m.sent[len(m.sent)-1]
}

var (
	testSetupOnce     sync.Once
	testSessionTokens = utils.NewTokenIssuer("test-secret", 24)
)

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithBodyLimit(t, 16*1024*1024)
}

func setupTestEnvWithBodyLimit(t *testing.T, bodyLimit int) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.StoredFile{},
		&models.DownloadGrant{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	backend, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("failed creating local storage backend: %v", err)
	}

	mailer := &recordingMailer{}
	auditService := services.NewAuditService(db)
	uploadService := services.NewUploadService(db, backend, config.UploadConfig{
		MaxSizeBytes:      16 * 1024 * 1024,
		AllowedExtensions: []string{"pptx", "docx", "xlsx"},
	})
	grantService := services.NewGrantService(db, backend, time.Hour)

	authHandler := NewAuthHandler(db, mailer, auditService, testSessionTokens, "http://localhost:8080", testTokenSecret, time.Hour)
	adminHandler := NewAdminHandler(db, auditService)
	filesHandler := NewFilesHandler(db, backend, uploadService, grantService, auditService, "http://localhost:8080")
	healthHandler := NewHealthHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db, testSessionTokens)

	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", healthHandler.Check)

	app.Post("/admin/login", authHandler.AdminLogin)
	app.Post("/admin/create-ops-user", authMiddleware.RequireAuth, middleware.RequireRole(models.UserRoleAdmin), adminHandler.CreateOpsUser)

	app.Post("/ops/login", authHandler.OpsLogin)
	app.Post("/ops/upload", authMiddleware.RequireAuth, middleware.RequireRole(models.UserRoleOps), filesHandler.Upload)

	app.Post("/client/signup", authHandler.ClientSignup)
	app.Post("/client/login", authHandler.ClientLogin)
	app.Get("/client/verify-email/:token", authHandler.VerifyEmail)

	app.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	clientOnly := middleware.RequireRole(models.UserRoleClient)
	app.Get("/client/files", authMiddleware.RequireAuth, clientOnly, filesHandler.List)
	app.Get("/client/download-file/:fileId", authMiddleware.RequireAuth, clientOnly, filesHandler.RequestDownload)
	app.Get("/download-file/:token", authMiddleware.RequireAuth, clientOnly, filesHandler.Redeem)

	return &testEnv{app: app, db: db, mailer: mailer, grants: grantService}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole, verified bool) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:         email,
		PasswordHash:  hash,
		Name:          "Test User",
		Role:          role,
		EmailVerified: verified,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := testSessionTokens.Generate(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func performUpload(t *testing.T, app *fiber.App, token, filename string, contents []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating multipart file part: %v", err)
	}
	if _, err := part.Write(contents); err != nil {
		t.Fatalf("failed writing multipart contents: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	headers := authHeaders(token)
	headers["Content-Type"] = writer.FormDataContentType()
	return performRequest(t, app, http.MethodPost, "/ops/upload", &buf, headers)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object in response, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
