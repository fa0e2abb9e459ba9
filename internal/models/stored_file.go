package models

import (
	"time"

	"github.com/google/uuid"
)

// StoredFile is immutable after creation. StoredName, StoragePath and
// Checksum never leave the server; clients only ever see the original
// filename and basic metadata.
type StoredFile struct {
	BaseModel
	OriginalName string    `json:"originalName" gorm:"type:varchar(255);not null"`
	StoredName   string    `json:"-" gorm:"type:varchar(300);uniqueIndex;not null"`
	StoragePath  string    `json:"-" gorm:"type:text;not null"`
	Size         int64     `json:"size" gorm:"not null;default:0"`
	Checksum     string    `json:"-" gorm:"type:varchar(64);not null"`
	MimeType     *string   `json:"mimeType,omitempty" gorm:"type:varchar(255)"`
	UploaderID   uuid.UUID `json:"-" gorm:"type:uuid;not null;index"`
	UploadedAt   time.Time `json:"uploadedAt" gorm:"not null;index"`
	Uploader     User      `json:"-" gorm:"foreignKey:UploaderID;references:ID"`
}

func (StoredFile) TableName() string {
	return "stored_files"
}
