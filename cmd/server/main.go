package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docdrop/backend/internal/config"
	"github.com/docdrop/backend/internal/database"
	"github.com/docdrop/backend/internal/handlers"
	"github.com/docdrop/backend/internal/middleware"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/services"
	"github.com/docdrop/backend/internal/storage"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	sessionTokens := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	backend, err := storage.NewBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}
	if s3, ok := backend.(*storage.S3Backend); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring storage bucket: %v", err)
		}
	}

	mailer, err := services.NewSMTPMailer(cfg.SMTP)
	if err != nil {
		log.Fatalf("mailer initialization failed: %v", err)
	}

	auditService := services.NewAuditService(db)
	uploadService := services.NewUploadService(db, backend, cfg.Upload)
	grantService := services.NewGrantService(db, backend, cfg.Tokens.GrantTTL)
	if err := grantService.StartReaper(cfg.Tokens.ReaperSpec); err != nil {
		log.Fatalf("failed starting grant reaper: %v", err)
	}

	authHandler := handlers.NewAuthHandler(db, mailer, auditService, sessionTokens, cfg.Server.PublicURL, cfg.Tokens.SecretKey, cfg.Tokens.VerificationTTL)
	adminHandler := handlers.NewAdminHandler(db, auditService)
	filesHandler := handlers.NewFilesHandler(db, backend, uploadService, grantService, auditService, cfg.Server.PublicURL)
	healthHandler := handlers.NewHealthHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db, sessionTokens)

	app := fiber.New(fiber.Config{BodyLimit: int(cfg.Upload.MaxSizeBytes)})
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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":            cfg.Server.Port,
		"address":         listenAddr,
		"storage_backend": cfg.Storage.Backend,
		"body_limit":      cfg.Upload.MaxSizeBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		grantService.StopReaper()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
