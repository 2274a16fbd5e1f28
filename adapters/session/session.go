package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	SESSION_KEY_EXPIRY     = "_session_expiry"
	SESSION_KEY_CREATED_AT = "_session_created_at"
)

// sessionImpl 實作 ISession 介面，用於管理使用者會話
type sessionImpl struct {
	id      string            // session ID
	oldID   string            // Rotate 之前的 session ID，Save 時會從儲存層移除
	ctx     context.Context   // 操作上下文
	data    map[string]string // session 資料
	store   IStore            // session 儲存接口
	options sessionOptions
}

type sessionOptions struct {
	defaultExpiry time.Duration
	onSave        func(id string, ttl time.Duration)
	now           func() time.Time
}

// SessionOption 定義 session 設定選項的函數類型
type SessionOption func(*sessionOptions)

// WithDefaultExpiry 設定沒有指定過期時間時使用的過期時間
func WithDefaultExpiry(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.defaultExpiry = d
	}
}

// WithOnSave 設定 session 保存成功後的回呼，用於更新 cookie
func WithOnSave(fn func(id string, ttl time.Duration)) SessionOption {
	return func(o *sessionOptions) {
		o.onSave = fn
	}
}

// NewSession 建立新的 session 實例
func NewSession(ctx context.Context, id string, store IStore, opts ...SessionOption) ISession {
	if ctx == nil {
		ctx = context.Background()
	}
	options := sessionOptions{
		defaultExpiry: 24 * time.Hour,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &sessionImpl{
		id:      id,
		ctx:     ctx,
		store:   store,
		data:    nil,
		options: options,
	}
}

func (s *sessionImpl) ID() string {
	return s.id
}

// Load 從儲存層載入 session 資料
func (s *sessionImpl) Load() error {
	const op = "sessionImpl.Load"
	// 如果已經載入過，則直接返回
	if s.data != nil {
		return nil
	}

	data, err := s.store.Load(s.ctx, s.id)
	if err != nil {
		return fmt.Errorf("%s: failed to load session: %w", op, err)
	}

	s.data = data
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return nil
}

// Get 取得指定 key 的值
func (s *sessionImpl) Get(key string) string {
	if s.data == nil {
		return ""
	}
	return s.data[key]
}

// Set 設定 key-value 對
func (s *sessionImpl) Set(key string, value string) {
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[key] = value
}

// Delete 刪除指定 key 的值
func (s *sessionImpl) Delete(key string) {
	if s.data != nil {
		delete(s.data, key)
	}
}

// Clear 清空 session 資料
func (s *sessionImpl) Clear() {
	s.data = make(map[string]string)
}

// Expiry 取得 session 的過期時間，未設定時使用預設值
func (s *sessionImpl) Expiry() time.Duration {
	seconds, err := strconv.ParseInt(s.Get(SESSION_KEY_EXPIRY), 10, 64)
	if err != nil || seconds <= 0 {
		return s.options.defaultExpiry
	}
	return time.Duration(seconds) * time.Second
}

// SetExpiry 設定 session 的過期時間
func (s *sessionImpl) SetExpiry(d time.Duration) {
	s.Set(SESSION_KEY_EXPIRY, strconv.FormatInt(int64(d/time.Second), 10))
}

// CreatedAt 取得 session 第一次保存的時間
func (s *sessionImpl) CreatedAt() time.Time {
	unix, err := strconv.ParseInt(s.Get(SESSION_KEY_CREATED_AT), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Rotate 更換 session ID 但保留資料，舊的 ID 會在 Save 時移除
// 登入後呼叫以避免 session fixation
func (s *sessionImpl) Rotate() {
	if s.oldID == "" {
		s.oldID = s.id
	}
	s.id = uuid.NewString()
}

func (s *sessionImpl) now() time.Time {
	if s.options.now == nil {
		return time.Now()
	}
	return s.options.now()
}

// Save 保存 session 資料到儲存層
func (s *sessionImpl) Save() error {
	const op = "sessionImpl.Save"
	if s.data == nil && s.oldID == "" {
		return nil
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	if _, ok := s.data[SESSION_KEY_CREATED_AT]; !ok {
		s.data[SESSION_KEY_CREATED_AT] = strconv.FormatInt(s.now().Unix(), 10)
	}
	ttl := s.Expiry()
	if err := s.store.Save(s.ctx, s.id, s.data, ttl); err != nil {
		return fmt.Errorf("%s: failed to save session: %w", op, err)
	}
	if s.oldID != "" && s.oldID != s.id {
		if err := s.store.Delete(s.ctx, s.oldID); err != nil {
			return fmt.Errorf("%s: failed to delete rotated session: %w", op, err)
		}
	}
	s.oldID = ""
	if s.options.onSave != nil {
		s.options.onSave(s.id, ttl)
	}
	return nil
}
