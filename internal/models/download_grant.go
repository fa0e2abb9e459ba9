package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DownloadGrant is a single-use, time-boxed authorization for one download
// by one user. It does NOT use BaseModel because grant rows are never
// updated outside the atomic consume transition and are hard-deleted by
// the reaper once expired.
type DownloadGrant struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	FileID       uuid.UUID  `json:"fileID" gorm:"type:uuid;not null;index"`
	UserID       uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	Token        string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"not null"`
	ExpiresAt    time.Time  `json:"expiresAt" gorm:"not null;index"`
	Used         bool       `json:"used" gorm:"not null;default:false"`
	DownloadedAt *time.Time `json:"downloadedAt,omitempty"`

	File StoredFile `json:"-" gorm:"foreignKey:FileID;references:ID"`
	User User       `json:"-" gorm:"foreignKey:UserID;references:ID"`
}

func (g *DownloadGrant) BeforeCreate(_ *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (DownloadGrant) TableName() string {
	return "download_grants"
}

// Redeemable reports whether the grant could still be consumed at the
// given instant. The authoritative check is the conditional update in the
// grant service; this is for presentation and tests.
func (g *DownloadGrant) Redeemable(now time.Time) bool {
	return !g.Used && now.Before(g.ExpiresAt)
}
