package models

import (
	"time"

	"github.com/google/uuid"
)

// ErpCredentialModel is the persistence model of the ERP OAuth credential.
// ClientSecret, AccessToken and RefreshToken hold sealed values only.
type ErpCredentialModel struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primary_key"`
	UserKey            string     `gorm:"type:varchar(100);not null;uniqueIndex:uq_erp_credentials_user_key"`
	ClientID           string     `gorm:"type:varchar(255);not null"`
	ClientSecret       string     `gorm:"type:text;not null"`
	AccessToken        string     `gorm:"type:text"`
	RefreshToken       string     `gorm:"type:text"`
	ExpiresAt          *time.Time
	Active             bool       `gorm:"not null;default:false"`
	InitialOrderNumber int64      `gorm:"not null;default:0"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ErpCredentialModel) TableName() string {
	return "erp_credentials"
}
