package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"googlesso/adapters/oidc"
	"googlesso/adapters/session"
	"googlesso/auth"
)

// StartLogin 產生 state 與 nonce 並導向 Google 的登入頁面
// (GET <prefix>/login/)
func (impl *ServerImpl) StartLogin(c *gin.Context) {
	const op = "StartLogin"
	settings := impl.config.SSO.Resolve(c.Request)
	if !settings.Enabled {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	sess, err := session.GetSession(c)
	if err != nil {
		impl.logger.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	next := normalizeNext(c.Query("next"), settings.NextURL)

	// 管理介面或一般頁面停用時不必先經過 Google
	if rejection := checkEnabled(settings, c.Request.URL.Path, next); rejection != nil {
		clearLoginState(sess)
		impl.sendMessage(c.Request.Context(), sess, settings, session.LevelError, rejection.Message)
		if err := sess.Save(); err != nil {
			impl.logger.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
		}
		c.Redirect(http.StatusFound, settings.LoginFailedURL)
		return
	}
	state, err := generateID("st")
	if err != nil {
		impl.logger.Error("Unable to generate state", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	nonce, err := generateID("n")
	if err != nil {
		impl.logger.Error("Unable to generate nonce", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// 將 state 暫存在 session，callback 時比對
	sess.Set(SESSION_KEY_SSO_STATE, state)
	sess.Set(SESSION_KEY_SSO_NONCE, nonce)
	sess.Set(SESSION_KEY_SSO_STATE_EXPIRES_AT, strconv.FormatInt(time.Now().Add(settings.Timeout).Unix(), 10))
	sess.Set(SESSION_KEY_SSO_NEXT_URL, next)
	sess.SetExpiry(settings.Timeout)
	if err := sess.Save(); err != nil {
		impl.logger.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	var authOpts []oauth2.AuthCodeOption
	if settings.AuthorizationPrompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", settings.AuthorizationPrompt))
	}
	impl.metrics.loginStarted.Inc()
	c.Redirect(http.StatusFound, impl.provider.AuthURL(
		state,
		nonce,
		redirectURI(c.Request, settings, impl.route("callback")),
		settings.Scopes,
		authOpts...,
	))
}

// Logout 登出並撤銷 Google 的 access token
// (GET <prefix>/logout/)
func (impl *ServerImpl) Logout(c *gin.Context) {
	const op = "Logout"
	settings := impl.config.SSO.Resolve(c.Request)
	sess, err := session.GetSession(c)
	if err != nil {
		impl.logger.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	accessToken := sess.Get(SESSION_KEY_ACCESS_TOKEN)
	if err := auth.Logout(sess); err != nil {
		impl.logger.Error("Fail to logout", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	// 撤銷失敗不影響登出
	if accessToken != "" {
		if err := impl.provider.Revoke(c.Request.Context(), accessToken); err != nil {
			impl.metrics.tokenRevocation.WithLabelValues("failed").Inc()
			impl.logger.Warn("Fail to revoke access token",
				slog.String("op", op),
				slog.String("token", oidc.ShowCredential(accessToken)),
				slog.Any("error", err),
			)
		} else {
			impl.metrics.tokenRevocation.WithLabelValues("revoked").Inc()
		}
	}
	c.Redirect(http.StatusFound, settings.LogoutRedirectURL)
}
