package hooks

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"googlesso/adapters/oidc"
	"googlesso/models"
)

const (
	DefaultPreValidate = "hooks.pre_validate_user"
	DefaultPreCreate   = "hooks.pre_create_user"
	DefaultPreLogin    = "hooks.pre_login_user"
)

var ErrHookNotFound = errors.New("hook not found")

// PreValidateFunc 在驗證 Email 之前呼叫，回傳 false 時拒絕登入
type PreValidateFunc func(identity *oidc.Identity, r *http.Request) bool

// PreCreateFunc 在建立使用者之前呼叫，回傳額外的欄位
type PreCreateFunc func(identity *oidc.Identity, r *http.Request) *models.UserDefaults

// PreLoginFunc 在建立登入 session 之前呼叫，可以修改使用者
type PreLoginFunc func(user *models.User, r *http.Request) error

// Registry 以名稱登記 hook，在程式啟動時完成登記
type Registry struct {
	mu          sync.RWMutex
	preValidate map[string]PreValidateFunc
	preCreate   map[string]PreCreateFunc
	preLogin    map[string]PreLoginFunc
}

func NewRegistry() *Registry {
	return &Registry{
		preValidate: make(map[string]PreValidateFunc),
		preCreate:   make(map[string]PreCreateFunc),
		preLogin:    make(map[string]PreLoginFunc),
	}
}

// Default 回傳已登記預設 hook 的 Registry
func Default() *Registry {
	r := NewRegistry()
	r.RegisterPreValidate(DefaultPreValidate, PreValidateUser)
	r.RegisterPreCreate(DefaultPreCreate, PreCreateUser)
	r.RegisterPreLogin(DefaultPreLogin, PreLoginUser)
	return r
}

func (r *Registry) RegisterPreValidate(name string, fn PreValidateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preValidate[name] = fn
}

func (r *Registry) RegisterPreCreate(name string, fn PreCreateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preCreate[name] = fn
}

func (r *Registry) RegisterPreLogin(name string, fn PreLoginFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preLogin[name] = fn
}

// PreValidate 取得 hook，名稱為空時回傳預設 hook
func (r *Registry) PreValidate(name string) (PreValidateFunc, error) {
	if name == "" {
		return PreValidateUser, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.preValidate[name]
	if !ok {
		return nil, fmt.Errorf("%w: pre-validate %q", ErrHookNotFound, name)
	}
	return fn, nil
}

func (r *Registry) PreCreate(name string) (PreCreateFunc, error) {
	if name == "" {
		return PreCreateUser, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.preCreate[name]
	if !ok {
		return nil, fmt.Errorf("%w: pre-create %q", ErrHookNotFound, name)
	}
	return fn, nil
}

func (r *Registry) PreLogin(name string) (PreLoginFunc, error) {
	if name == "" {
		return PreLoginUser, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.preLogin[name]
	if !ok {
		return nil, fmt.Errorf("%w: pre-login %q", ErrHookNotFound, name)
	}
	return fn, nil
}

// Check 確認設定的 hook 名稱都已登記，用於啟動時檢查
func (r *Registry) Check(preValidate, preCreate, preLogin string) error {
	_, errValidate := r.PreValidate(preValidate)
	_, errCreate := r.PreCreate(preCreate)
	_, errLogin := r.PreLogin(preLogin)
	return errors.Join(errValidate, errCreate, errLogin)
}

func PreValidateUser(identity *oidc.Identity, r *http.Request) bool {
	return true
}

func PreCreateUser(identity *oidc.Identity, r *http.Request) *models.UserDefaults {
	return nil
}

func PreLoginUser(user *models.User, r *http.Request) error {
	return nil
}
