package models

type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleOps    UserRole = "ops"
	UserRoleClient UserRole = "client"
)

type User struct {
	BaseModel
	Email        string   `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string   `json:"-" gorm:"type:text;not null"`
	Name         string   `json:"name" gorm:"type:varchar(200);not null"`
	Role         UserRole `json:"role" gorm:"type:varchar(20);not null;default:'client';index"`

	// EmailVerified is true from creation for ops and admin accounts.
	// Client accounts start unverified and flip exactly once.
	EmailVerified bool `json:"emailVerified" gorm:"not null;default:false"`

	// VerificationSecret is present only while a client account is
	// unverified; it is cleared in the same update that sets EmailVerified.
	VerificationSecret *string `json:"-" gorm:"type:varchar(64)"`

	Files  []StoredFile    `json:"-" gorm:"foreignKey:UploaderID"`
	Grants []DownloadGrant `json:"-" gorm:"foreignKey:UserID"`
}
