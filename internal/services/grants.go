package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/internal/storage"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const grantTokenBytes = 32

type GrantService struct {
	DB      *gorm.DB
	Storage storage.Backend
	TTL     time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

func NewGrantService(db *gorm.DB, backend storage.Backend, ttl time.Duration) *GrantService {
	return &GrantService{
		DB:      db,
		Storage: backend,
		TTL:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a single-use grant binding the file to the requesting
// user. The returned grant carries the random token; the caller turns it
// into a redemption URL and never exposes the storage path.
func (g *GrantService) Issue(ctx context.Context, fileID, userID uuid.UUID) (*models.DownloadGrant, error) {
	var file models.StoredFile
	if err := g.DB.WithContext(ctx).First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	token, err := generateGrantToken()
	if err != nil {
		return nil, err
	}

	grant := models.DownloadGrant{
		FileID:    file.ID,
		UserID:    userID,
		Token:     token,
		ExpiresAt: g.now().Add(g.TTL),
	}

	if err := g.DB.WithContext(ctx).Create(&grant).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(userID.String(), "download_grant_issued", map[string]interface{}{
		"grant_id":   grant.ID.String(),
		"file_id":    file.ID.String(),
		"expires_at": grant.ExpiresAt,
	})

	return &grant, nil
}

// Redeem consumes a grant exactly once and returns the file metadata
// needed to stream the response. The consume step is a conditional
// update on (used = false AND unexpired AND bound user), so two
// concurrent redemptions of the same token resolve to exactly one
// winner. Storage existence is checked before consumption: a missing
// file leaves the grant pending rather than burning it.
func (g *GrantService) Redeem(ctx context.Context, token string, userID uuid.UUID) (*models.StoredFile, error) {
	if token == "" {
		return nil, ErrDenied
	}

	var grant models.DownloadGrant
	if err := g.DB.WithContext(ctx).First(&grant, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDenied
		}
		return nil, err
	}

	now := g.now()
	if grant.UserID != userID || !grant.Redeemable(now) {
		return nil, ErrDenied
	}

	var file models.StoredFile
	if err := g.DB.WithContext(ctx).First(&file, "id = ?", grant.FileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("grant_file_record_missing", err, map[string]interface{}{
				"grant_id": grant.ID.String(),
				"file_id":  grant.FileID.String(),
			})
			return nil, ErrStorageMissing
		}
		return nil, err
	}

	exists, err := g.Storage.Exists(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageMissing, err)
	}
	if !exists {
		logger.Error("grant_storage_missing", nil, map[string]interface{}{
			"grant_id":     grant.ID.String(),
			"file_id":      file.ID.String(),
			"storage_path": file.StoragePath,
		})
		return nil, ErrStorageMissing
	}

	res := g.DB.WithContext(ctx).Model(&models.DownloadGrant{}).
		Where("id = ? AND used = ? AND user_id = ? AND expires_at > ?", grant.ID, false, userID, now).
		Updates(map[string]interface{}{"used": true, "downloaded_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race, or expired between the read and the update.
		return nil, ErrDenied
	}

	logger.InfoWithUser(userID.String(), "download_grant_redeemed", map[string]interface{}{
		"grant_id":  grant.ID.String(),
		"file_id":   file.ID.String(),
		"file_name": file.OriginalName,
	})

	return &file, nil
}

// ReapExpired deletes grants past their expiry, used or not. Safe to run
// at any time: redemption is the conditional update above, so a grant
// deleted mid-request simply loses the race and the caller sees a
// denial it would have received anyway.
func (g *GrantService) ReapExpired(ctx context.Context) (int64, error) {
	res := g.DB.WithContext(ctx).Where("expires_at < ?", g.now()).Delete(&models.DownloadGrant{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("download_grants_reaped", map[string]interface{}{
			"count": res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// StartReaper schedules ReapExpired on the given cron spec.
func (g *GrantService) StartReaper(spec string) error {
	if g.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := g.ReapExpired(context.Background()); err != nil {
			logger.Error("grant_reaper_failed", err, nil)
		}
	}); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", spec, err)
	}

	c.Start()
	g.cron = c
	return nil
}

// StopReaper halts the schedule and waits for a running sweep to finish.
func (g *GrantService) StopReaper() {
	if g.cron != nil {
		<-g.cron.Stop().Done()
		g.cron = nil
	}
}

func generateGrantToken() (string, error) {
	raw := make([]byte, grantTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
