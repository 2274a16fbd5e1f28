package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"googlesso/adapters/session"
	"googlesso/models"
)

const ContextKeyUser = "googlesso-current-user"

// Middleware 依照 session 載入目前登入的使用者
// 需要放在 session middleware 之後
func Middleware(backends *Backends, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		if user := loadUser(c, backends, logger); user != nil {
			c.Set(ContextKeyUser, user)
		}
		c.Next()
	}
}

func loadUser(c *gin.Context, backends *Backends, logger *slog.Logger) *models.User {
	const op = "auth.loadUser"
	sess, err := session.GetSession(c)
	if err != nil {
		logger.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		return nil
	}
	rawID := sess.Get(SESSION_KEY_USER_ID)
	if rawID == "" {
		return nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil
	}
	backend, err := backends.Resolve(sess.Get(SESSION_KEY_BACKEND))
	if err != nil {
		logger.Warn("Unknown backend in session", slog.String("op", op), slog.Any("error", err))
		return nil
	}
	user, err := backend.GetUser(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			logger.Error("Fail to get user", slog.String("op", op), slog.Any("error", err))
		}
		return nil
	}
	return user
}

// CurrentUser 取得目前登入的使用者
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// RequireLogin 未登入時導向登入頁面，並帶上目前的路徑
func RequireLogin(loginURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			redirectToLogin(c, loginURL)
			return
		}
		c.Next()
	}
}

// RequireStaff 只允許 staff 使用者
func RequireStaff(loginURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.IsStaff {
			redirectToLogin(c, loginURL)
			return
		}
		c.Next()
	}
}

func redirectToLogin(c *gin.Context, loginURL string) {
	target, err := url.Parse(loginURL)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("next", c.Request.URL.RequestURI())
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
	c.Abort()
}
