package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/docdrop/backend/internal/config"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/storage"
	"github.com/docdrop/backend/pkg/logger"
	"gorm.io/gorm"
)

const hashChunkSize = 32 * 1024

type UploadService struct {
	DB      *gorm.DB
	Storage storage.Backend
	allowed map[string]bool
}

func NewUploadService(db *gorm.DB, backend storage.Backend, cfg config.UploadConfig) *UploadService {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &UploadService{DB: db, Storage: backend, allowed: allowed}
}

// Process validates, persists and fingerprints one uploaded file and
// writes its registry record. Bytes are written before metadata so a
// failure never leaves a record pointing at nothing; if the record
// insert fails the stored bytes are removed again.
func (s *UploadService) Process(ctx context.Context, filename string, stream io.Reader, size int64, uploader *models.User) (*models.StoredFile, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || stream == nil {
		return nil, ErrInvalidInput
	}

	if !s.allowedExtension(filename) {
		return nil, ErrUnsupportedType
	}

	sanitized := SanitizeFilename(filename)
	if sanitized == "" {
		return nil, ErrInvalidInput
	}

	storedName, err := storedName(sanitized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	contentType := mimeTypeFor(sanitized)
	ct := "application/octet-stream"
	if contentType != nil {
		ct = *contentType
	}

	path, err := s.Storage.Save(ctx, storedName, stream, size, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	checksum, hashedSize, err := s.fingerprint(ctx, path)
	if err != nil {
		_ = s.Storage.Delete(ctx, path)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	entry := models.StoredFile{
		OriginalName: sanitized,
		StoredName:   storedName,
		StoragePath:  path,
		Size:         hashedSize,
		Checksum:     checksum,
		MimeType:     contentType,
		UploaderID:   uploader.ID,
		UploadedAt:   time.Now().UTC(),
	}

	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		_ = s.Storage.Delete(ctx, path)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	logger.InfoWithUser(uploader.ID.String(), "file_uploaded", map[string]interface{}{
		"file_id":     entry.ID.String(),
		"file_name":   entry.OriginalName,
		"stored_name": storedName,
		"file_size":   entry.Size,
		"checksum":    checksum,
	})

	return &entry, nil
}

func (s *UploadService) allowedExtension(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && s.allowed[ext]
}

// fingerprint streams the persisted bytes back in fixed-size chunks and
// returns the SHA-256 hex digest with the byte count, so the recorded
// hash is of what actually landed on storage.
func (s *UploadService) fingerprint(ctx context.Context, path string) (string, int64, error) {
	reader, err := s.Storage.Open(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer reader.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	size, err := io.CopyBuffer(hasher, reader, buf)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeFilename strips any path components and replaces characters
// outside [A-Za-z0-9_.-], closing path-traversal vectors in
// client-supplied names.
func SanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return ""
	}
	return base
}

// storedName prefixes a sortable UTC timestamp and a short random suffix
// so same-named uploads in the same second still get distinct names.
func storedName(sanitized string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		hex.EncodeToString(suffix),
		sanitized,
	), nil
}

// mimeTypeFor derives the mime type from the extension; unknown
// extensions yield nil, not an error.
func mimeTypeFor(filename string) *string {
	mt := mime.TypeByExtension(filepath.Ext(filename))
	if mt == "" {
		return nil
	}
	// TypeByExtension may append charset parameters; the registry keeps
	// the bare type.
	if idx := strings.Index(mt, ";"); idx > 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return &mt
}
