package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"googlesso/adapters/session"
	"googlesso/conf"
)

const (
	SESSION_KEY_SSO_STATE            = "sso_state"
	SESSION_KEY_SSO_NONCE            = "sso_nonce"
	SESSION_KEY_SSO_STATE_EXPIRES_AT = "sso_state_expires_at"
	SESSION_KEY_SSO_NEXT_URL         = "sso_next_url"
	SESSION_KEY_ACCESS_TOKEN         = "google_sso_access_token"
)

func (impl *ServerImpl) SessionMiddleware() gin.HandlerFunc {
	cookie := session.DefaultCookie()
	cookie.Name = impl.config.Session.KeyForCookie
	cookie.Secure = impl.config.Session.CookieSecure
	return session.GinMiddleware(impl.store, session.WithCookie(cookie), session.WithMaxAge(impl.config.Session.CookieMaxAge))
}

// clearLoginState 移除登入流程暫存的資料，state 只能使用一次
func clearLoginState(sess session.ISession) {
	sess.Delete(SESSION_KEY_SSO_STATE)
	sess.Delete(SESSION_KEY_SSO_NONCE)
	sess.Delete(SESSION_KEY_SSO_STATE_EXPIRES_AT)
	sess.Delete(SESSION_KEY_SSO_NEXT_URL)
}

// sendMessage 記錄訊息，並在設定允許時寫入 session 供登入頁面顯示
// 寫入前會先過濾 HTML，呼叫端需要負責儲存 session
func (impl *ServerImpl) sendMessage(ctx context.Context, sess session.ISession, settings conf.Resolved, level session.MessageLevel, text string) {
	const op = "sendMessage"
	if settings.EnableLogs {
		impl.logger.Log(ctx, slogLevel(level), text)
	}
	if !settings.EnableMessages || sess == nil {
		return
	}
	if err := session.AddMessage(sess, level, impl.htmlChecker.Sanitize(text)); err != nil {
		impl.logger.Error("Fail to add message", slog.String("op", op), slog.Any("error", err))
	}
}

func slogLevel(level session.MessageLevel) slog.Level {
	switch level {
	case session.LevelDebug:
		return slog.LevelDebug
	case session.LevelWarning:
		return slog.LevelWarn
	case session.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
