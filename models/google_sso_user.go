package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GoogleSSOUser 紀錄本地使用者與 Google 帳號的關聯
// 使用者被刪除時一併刪除
type GoogleSSOUser struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	GoogleID   string    `gorm:"type:varchar(255);not null"`
	PictureURL string    `gorm:"type:text;not null"`
	Locale     string    `gorm:"type:varchar(35);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (GoogleSSOUser) TableName() string {
	return "google_sso_user"
}

func (g *GoogleSSOUser) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		g.ID = id
	}
	return nil
}
