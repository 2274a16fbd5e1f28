package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const DefaultContextKey = "googlesso-default-session-context"

var ErrSessionNotFound = fmt.Errorf("session not found")

// Cookie 是保存 session ID 的 cookie 屬性
type Cookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	// 從 Google 導回 callback 屬於跨站導向，不能使用 Strict
	SameSite http.SameSite
}

func DefaultCookie() Cookie {
	return Cookie{
		Name:     "sessionid",
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type middlewareConfig struct {
	cookie     Cookie
	contextKey string
	maxAge     time.Duration
}

type MiddlewareOption func(*middlewareConfig)

func WithCookie(cookie Cookie) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.cookie = cookie
	}
}

// WithContextKey 設定 session 在 gin context 中的 key
func WithContextKey(key string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.contextKey = key
	}
}

// WithMaxAge 設定 session 沒有指定過期時間時的預設值
func WithMaxAge(maxAge time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.maxAge = maxAge
	}
}

func newMiddlewareConfig(opts []MiddlewareOption) middlewareConfig {
	config := middlewareConfig{
		cookie:     DefaultCookie(),
		contextKey: DefaultContextKey,
		maxAge:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// GinMiddleware 建立 gin 的 session middleware
// session 延遲載入，cookie 只在 handler 呼叫 Save 時寫入
func GinMiddleware(store IStore, opts ...MiddlewareOption) gin.HandlerFunc {
	config := newMiddlewareConfig(opts)

	return func(c *gin.Context) {
		cookie := config.cookie
		sess := NewSession(
			c.Request.Context(),
			sessionIDFromCookie(c, cookie.Name),
			store,
			WithDefaultExpiry(config.maxAge),
			WithOnSave(func(id string, ttl time.Duration) {
				c.SetSameSite(cookie.SameSite)
				c.SetCookie(cookie.Name, id, int(ttl/time.Second), cookie.Path, cookie.Domain, cookie.Secure, cookie.HTTPOnly)
			}),
		)
		c.Set(config.contextKey, sess)
		c.Next()
	}
}

// sessionIDFromCookie 只接受由伺服器產生的 UUID，其餘一律換成新的 ID
func sessionIDFromCookie(c *gin.Context, name string) string {
	raw, err := c.Cookie(name)
	if err != nil {
		return uuid.NewString()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetSession 從 context 取得 session 並載入資料
func GetSession(ctx context.Context, opts ...MiddlewareOption) (ISession, error) {
	const op = "session.GetSession"
	config := newMiddlewareConfig(opts)
	v := ctx.Value(config.contextKey)
	if v == nil {
		return nil, ErrSessionNotFound
	}
	sess, ok := v.(ISession)
	if !ok {
		return nil, fmt.Errorf("%s: invalid session type in context", op)
	}
	if err := sess.Load(); err != nil {
		return nil, fmt.Errorf("%s: failed to load session: %w", op, err)
	}
	return sess, nil
}
