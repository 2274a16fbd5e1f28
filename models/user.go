package models

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const unusablePasswordPrefix = "!"

// User 代表系統中的本地使用者
// Email 以小寫儲存並具有唯一性，Google SSO 以 Email 對應使用者
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email       string    `gorm:"type:varchar(254);not null;uniqueIndex"`
	Username    string    `gorm:"type:varchar(150);not null;uniqueIndex"`
	FirstName   string    `gorm:"type:varchar(150);not null"`
	LastName    string    `gorm:"type:varchar(150);not null"`
	Password    string    `gorm:"type:varchar(128);not null"`
	IsActive    bool      `gorm:"not null"`
	IsStaff     bool      `gorm:"not null"`
	IsSuperuser bool      `gorm:"not null"`
	LastLogin   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	GoogleSSO *GoogleSSOUser `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = id
	}
	return nil
}

// SetUnusablePassword 清除本地密碼，之後只能透過 SSO 登入
func (u *User) SetUnusablePassword() {
	buf := make([]byte, 30)
	_, _ = rand.Read(buf)
	u.Password = unusablePasswordPrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// PictureURL 回傳 Google 頭像，需要先載入 GoogleSSO
func (u *User) PictureURL() string {
	if u.GoogleSSO == nil {
		return ""
	}
	return u.GoogleSSO.PictureURL
}

func (u *User) HasUsablePassword() bool {
	return u.Password != "" && !strings.HasPrefix(u.Password, unusablePasswordPrefix)
}

// UserDefaults 是建立使用者時額外帶入的欄位，通常由 pre-create hook 提供
// nil 欄位代表使用預設值
type UserDefaults struct {
	Username  *string
	FirstName *string
	LastName  *string
	IsActive  *bool
	IsStaff   *bool
}

// Apply 將預設值套用到尚未儲存的使用者
func (d *UserDefaults) Apply(u *User) {
	if d == nil {
		return
	}
	if d.Username != nil {
		u.Username = *d.Username
	}
	if d.FirstName != nil {
		u.FirstName = *d.FirstName
	}
	if d.LastName != nil {
		u.LastName = *d.LastName
	}
	if d.IsActive != nil {
		u.IsActive = *d.IsActive
	}
	if d.IsStaff != nil {
		u.IsStaff = *d.IsStaff
	}
}
