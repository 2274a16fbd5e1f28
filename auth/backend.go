package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"googlesso/conf"
	"googlesso/models"
)

const DefaultBackendName = "auth.ModelBackend"

var (
	ErrBackendNotFound = errors.New("authentication backend not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Backend 負責以 session 中的使用者 ID 取回使用者
type Backend interface {
	Name() string
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ModelBackend 從資料庫取得啟用中的使用者
type ModelBackend struct {
	db *gorm.DB
}

func NewModelBackend(db *gorm.DB) *ModelBackend {
	return &ModelBackend{db: db}
}

func (b *ModelBackend) Name() string {
	return DefaultBackendName
}

func (b *ModelBackend) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "ModelBackend.GetUser"
	var user models.User
	result := b.db.WithContext(ctx).Preload("GoogleSSO").Where("id = ? AND is_active = ?", id, true).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to find user, err=%w", op, result.Error)
	}
	return &user, nil
}

// Backends 以名稱登記可用的 Backend
type Backends struct {
	defaultName string
	backends    map[string]Backend
}

func NewBackends(defaultBackend Backend, others ...Backend) *Backends {
	b := &Backends{
		defaultName: defaultBackend.Name(),
		backends:    map[string]Backend{defaultBackend.Name(): defaultBackend},
	}
	for _, backend := range others {
		b.backends[backend.Name()] = backend
	}
	return b
}

// Resolve 取得指定名稱的 Backend，名稱為空時使用預設值
// 找不到時回傳設定錯誤，不會退回預設的 Backend
func (b *Backends) Resolve(name string) (Backend, error) {
	const op = "Backends.Resolve"
	if name == "" {
		name = b.defaultName
	}
	backend, ok := b.backends[name]
	if !ok {
		return nil, fmt.Errorf("[%s] %w: %w", op, ErrBackendNotFound, &conf.ConfigError{
			Option: "GOOGLE_SSO_AUTHENTICATION_BACKEND",
			Reason: fmt.Sprintf("backend %q is not registered", name),
		})
	}
	return backend, nil
}
