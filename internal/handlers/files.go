package handlers

import (
	"errors"
	"fmt"
	"math"

	"github.com/docdrop/backend/internal/middleware"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/services"
	"github.com/docdrop/backend/internal/storage"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type FilesHandler struct {
	DB        *gorm.DB
	Storage   storage.Backend
	Uploads   *services.UploadService
	Grants    *services.GrantService
	Audit     *services.AuditService
	PublicURL string
}

func NewFilesHandler(db *gorm.DB, backend storage.Backend, uploads *services.UploadService, grants *services.GrantService, audit *services.AuditService, publicURL string) *FilesHandler {
	return &FilesHandler{
		DB:        db,
		Storage:   backend,
		Uploads:   uploads,
		Grants:    grants,
		Audit:     audit,
		PublicURL: publicURL,
	}
}

// Upload accepts one multipart office document from an ops user.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	entry, err := h.Uploads.Process(c.Context(), fileHeader.Filename, stream, fileHeader.Size, currentUser)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			return utils.Error(c, fiber.StatusBadRequest, "no file selected")
		case errors.Is(err, services.ErrUnsupportedType):
			return utils.Error(c, fiber.StatusBadRequest, "only pptx, docx, and xlsx files are allowed")
		default:
			logger.ErrorWithUser(currentUser.ID.String(), "upload_failed", err, map[string]interface{}{
				"file_name": fileHeader.Filename,
			})
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing file")
		}
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "file.upload",
		ResourceType: "file",
		ResourceID:   &entry.ID,
		Details: map[string]interface{}{
			"file_name": entry.OriginalName,
			"file_size": entry.Size,
		},
		IPAddress: c.IP(),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"fileID":   entry.ID.String(),
		"filename": entry.OriginalName,
	})
}

// List returns file metadata for browsing clients. Storage paths,
// stored names and checksums never appear in the response.
func (h *FilesHandler) List(c *fiber.Ctx) error {
	var files []models.StoredFile
	if err := h.DB.Order("uploaded_at DESC").Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing files")
	}

	return utils.Success(c, fiber.StatusOK, files)
}

// RequestDownload mints a single-use grant and returns the redemption
// link, never the storage path.
func (h *FilesHandler) RequestDownload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("fileId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	grant, err := h.Grants.Issue(c.Context(), fileID, currentUser.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		logger.ErrorWithUser(currentUser.ID.String(), "grant_issue_failed", err, map[string]interface{}{
			"file_id": fileID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing download link")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.issue",
		ResourceType: "grant",
		ResourceID:   &grant.ID,
		Details:      map[string]interface{}{"file_id": fileID.String()},
		IPAddress:    c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"downloadLink": h.PublicURL + "/download-file/" + grant.Token,
		"expiresAt":    grant.ExpiresAt,
	})
}

// Redeem consumes a download grant and streams the file. All refusals
// share one message so the endpoint reveals nothing about why a token
// was rejected.
func (h *FilesHandler) Redeem(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	file, err := h.Grants.Redeem(c.Context(), c.Params("token"), currentUser.ID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDenied):
			return utils.Error(c, fiber.StatusForbidden, "invalid, expired, or already used download token")
		case errors.Is(err, services.ErrStorageMissing):
			return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
		default:
			logger.ErrorWithUser(currentUser.ID.String(), "grant_redeem_failed", err, nil)
			return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
		}
	}

	reader, err := h.Storage.Open(c.Context(), file.StoragePath)
	if err != nil {
		logger.Error("download_stream_open_failed", err, map[string]interface{}{
			"file_id": file.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &currentUser.ID,
		Action:       "grant.redeem",
		ResourceType: "file",
		ResourceID:   &file.ID,
		Details: map[string]interface{}{
			"file_name": file.OriginalName,
			"file_size": file.Size,
		},
		IPAddress: c.IP(),
	})

	contentType := "application/octet-stream"
	if file.MimeType != nil {
		contentType = *file.MimeType
	}

	c.Set("Content-Type", contentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	if file.Size > math.MaxInt {
		// Size does not fit an int on this platform; stream without a
		// declared length rather than truncating it.
		return c.SendStream(reader)
	}
	return c.SendStream(reader, int(file.Size))
}
