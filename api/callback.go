package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"googlesso/adapters/oidc"
	"googlesso/adapters/session"
	"googlesso/auth"
	"googlesso/conf"
	"googlesso/models"
	"googlesso/resolver"
)

const (
	ReasonDisabled       = "disabled"
	ReasonAdminDisabled  = "admin_disabled"
	ReasonPagesDisabled  = "pages_disabled"
	ReasonMissingCode    = "missing_code"
	ReasonStateMismatch  = "state_mismatch"
	ReasonProviderError  = "provider_error"
	ReasonNotAllowed     = "not_allowed"
	ReasonUserNotFound   = "user_not_found"
	ReasonUserInactive   = "user_inactive"
	ReasonPreLoginDenied = "pre_login_denied"
)

// Rejection 是可以復原的登入失敗，使用者會被導向登入失敗頁面
type Rejection struct {
	Reason  string
	Message string
	// Silent 為 true 時只記錄，不顯示給使用者
	Silent bool
}

func (r *Rejection) Error() string {
	return r.Reason + ": " + r.Message
}

func reject(reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// loginAttempt 是一次 callback 的處理狀態
type loginAttempt struct {
	c        *gin.Context
	sess     session.ISession
	settings conf.Resolved
	logger   *slog.Logger
}

// Callback 處理 Google 導回的請求，所有檢查通過後才建立登入狀態
// (GET <prefix>/callback/)
func (impl *ServerImpl) Callback(c *gin.Context) {
	const op = "Callback"
	settings := impl.config.SSO.Resolve(c.Request)
	sess, err := session.GetSession(c)
	if err != nil {
		impl.logger.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	attempt := &loginAttempt{
		c:        c,
		sess:     sess,
		settings: settings,
		logger:   impl.logger.With(slog.String("op", op)),
	}

	user, identity, err := impl.authorize(attempt)
	var rejection *Rejection
	if errors.As(err, &rejection) {
		impl.rejectLogin(attempt, rejection)
		return
	}
	if err != nil {
		impl.abortLogin(attempt, "internal", fmt.Errorf("[%s] Fail to handle callback, err=%w", op, err))
		return
	}

	next, err := impl.establishLogin(attempt, user, identity)
	if err != nil {
		impl.abortLogin(attempt, "login", fmt.Errorf("[%s] Fail to login user, err=%w", op, err))
		return
	}
	impl.metrics.callbacksTotal.WithLabelValues(outcomeAuthorized, "").Inc()
	attempt.logger.Info("User logged in", slog.String("email", user.Email), slog.String("user", user.ID.String()))
	c.Redirect(http.StatusFound, next)
}

// authorize 依序檢查 callback，回傳 *Rejection 或其他無法復原的錯誤
func (impl *ServerImpl) authorize(a *loginAttempt) (*models.User, *oidc.Identity, error) {
	ctx := a.c.Request.Context()
	r := a.c.Request

	// 1. 是否啟用
	if rejection := impl.checkEnabled(a); rejection != nil {
		return nil, nil, rejection
	}

	// 2. 授權碼
	code := a.c.Query("code")
	if code == "" {
		if providerErr := a.c.Query("error"); providerErr != "" {
			a.logger.Warn("Google returned an error", slog.String("error", providerErr))
		}
		return nil, nil, reject(ReasonMissingCode, "Authorization Code not received from SSO.")
	}

	// 3. state 必須在交換 token 之前檢查
	storedState := a.sess.Get(SESSION_KEY_SSO_STATE)
	if storedState == "" || stateExpired(a.sess.Get(SESSION_KEY_SSO_STATE_EXPIRES_AT)) {
		return nil, nil, reject(ReasonStateMismatch, "State Mismatch. Time expired?")
	}
	verifier := impl.provider.NewExchangeVerifier(storedState, a.sess.Get(SESSION_KEY_SSO_NONCE))
	token, err := impl.provider.Exchange(ctx, verifier, code, a.c.Query("state"), redirectURI(r, a.settings, impl.route("callback")))
	if errors.Is(err, oidc.ErrStateMismatch) || errors.Is(err, oidc.ErrNonceMismatch) {
		return nil, nil, reject(ReasonStateMismatch, "State Mismatch. Time expired?")
	}
	if err != nil {
		a.logger.Warn("Fail to exchange token", slog.String("code", oidc.ShowCredential(code)), slog.Any("error", err))
		return nil, nil, reject(ReasonProviderError, providerMessage(err))
	}

	// 4. 使用者資料
	identity, err := impl.provider.FetchIdentity(ctx, token.OAuth2Token)
	if err != nil {
		a.logger.Warn("Fail to fetch user info",
			slog.String("accessToken", oidc.ShowCredential(token.OAuth2Token.AccessToken)),
			slog.Any("error", err),
		)
		return nil, nil, reject(ReasonProviderError, providerMessage(err))
	}
	if token.IDToken != nil && token.IDToken.Subject != "" && token.IDToken.Subject != identity.Subject {
		return nil, nil, reject(ReasonProviderError, "ID token subject does not match user info.")
	}

	// 5. 是否允許登入
	preValidate, err := impl.hooks.PreValidate(a.settings.PreValidateCallback)
	if err != nil {
		return nil, nil, err
	}
	helper := resolver.NewUserHelper(identity, impl.db, a.settings,
		resolver.WithLocker(impl.locker),
		resolver.WithLogger(a.logger),
		resolver.WithMessageSink(func(level session.MessageLevel, text string) {
			impl.sendMessage(ctx, a.sess, a.settings, level, text)
		}),
	)
	if !preValidate(identity, r) || !helper.EmailIsValid() {
		return nil, nil, reject(ReasonNotAllowed, fmt.Sprintf("Email address not allowed: %s. Please contact your administrator.", helper.UserEmail()))
	}

	// 6. 取得或建立使用者
	var user *models.User
	if a.settings.AutoCreateUsers {
		preCreate, err := impl.hooks.PreCreate(a.settings.PreCreateCallback)
		if err != nil {
			return nil, nil, err
		}
		var created bool
		user, created, err = helper.GetOrCreateUser(ctx, preCreate(identity, r))
		if err != nil {
			return nil, nil, err
		}
		if created {
			impl.metrics.usersCreated.Inc()
			a.logger.Info("User created", slog.String("email", user.Email))
		}
	} else {
		user, err = helper.FindUser(ctx)
		if errors.Is(err, resolver.ErrUserNotFound) {
			return nil, nil, &Rejection{
				Reason:  ReasonUserNotFound,
				Message: fmt.Sprintf("User not found: %s.", helper.UserEmail()),
				Silent:  !a.settings.ShowFailedLoginMessage,
			}
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if !user.IsActive {
		return nil, nil, &Rejection{
			Reason:  ReasonUserInactive,
			Message: fmt.Sprintf("User is not active: %s.", user.Email),
			Silent:  !a.settings.ShowFailedLoginMessage,
		}
	}

	// 7. 登入前的 hook，可以修改使用者
	preLogin, err := impl.hooks.PreLogin(a.settings.PreLoginCallback)
	if err != nil {
		return nil, nil, err
	}
	if err := preLogin(user, r); err != nil {
		return nil, nil, reject(ReasonPreLoginDenied, err.Error())
	}
	return user, identity, nil
}

// establishLogin 確認 backend 後寫入登入狀態，回傳登入後的導向目標
func (impl *ServerImpl) establishLogin(a *loginAttempt, user *models.User, identity *oidc.Identity) (string, error) {
	const op = "establishLogin"
	// backend 設定錯誤不能改用預設 backend 登入
	backend, err := impl.backends.Resolve(a.settings.AuthenticationBackend)
	if err != nil {
		return "", fmt.Errorf("[%s] Invalid authentication backend, err=%w", op, err)
	}

	user.LastLogin = lo.ToPtr(time.Now())
	if err := impl.db.WithContext(a.c.Request.Context()).Omit(clause.Associations).Save(user).Error; err != nil {
		return "", fmt.Errorf("[%s] Fail to save user, err=%w", op, err)
	}

	next := lo.Ternary(a.sess.Get(SESSION_KEY_SSO_NEXT_URL) != "", a.sess.Get(SESSION_KEY_SSO_NEXT_URL), a.settings.NextURL)
	clearLoginState(a.sess)
	if err := auth.Login(a.sess, user, backend, a.settings.SessionCookieAge); err != nil {
		return "", fmt.Errorf("[%s] Fail to login, err=%w", op, err)
	}
	if a.settings.SaveAccessToken && identity.AccessToken != "" {
		a.sess.Set(SESSION_KEY_ACCESS_TOKEN, identity.AccessToken)
		if err := a.sess.Save(); err != nil {
			return "", fmt.Errorf("[%s] Fail to save access token, err=%w", op, err)
		}
	}
	return next, nil
}

// checkEnabled 檢查全域設定，有設定管理介面或一般頁面的開關時再依照導向目標判斷
func (impl *ServerImpl) checkEnabled(a *loginAttempt) *Rejection {
	return checkEnabled(a.settings,
		a.c.Request.URL.Path,
		normalizeNext(a.c.Query("next"), ""),
		a.sess.Get(SESSION_KEY_SSO_NEXT_URL),
	)
}

// checkEnabled 任一個導向目標在管理介面下就視為管理介面的登入
func checkEnabled(settings conf.Resolved, targets ...string) *Rejection {
	if !settings.Enabled {
		return reject(ReasonDisabled, "Google SSO not enabled.")
	}
	if settings.AdminEnabled == nil && settings.PagesEnabled == nil {
		return nil
	}
	admin := isAdminTarget(settings.AdminRoute, targets...)
	if admin && settings.AdminEnabled != nil && !*settings.AdminEnabled {
		return reject(ReasonAdminDisabled, "Google SSO not enabled for Admin.")
	}
	if !admin && settings.PagesEnabled != nil && !*settings.PagesEnabled {
		return reject(ReasonPagesDisabled, "Google SSO not enabled for Pages.")
	}
	return nil
}

// rejectLogin 清除登入流程的資料並導向登入失敗頁面
func (impl *ServerImpl) rejectLogin(a *loginAttempt, rejection *Rejection) {
	const op = "rejectLogin"
	impl.metrics.callbacksTotal.WithLabelValues(outcomeRejected, rejection.Reason).Inc()
	clearLoginState(a.sess)
	if rejection.Silent {
		if a.settings.EnableLogs {
			a.logger.Warn(rejection.Message, slog.String("reason", rejection.Reason))
		}
	} else {
		impl.sendMessage(a.c.Request.Context(), a.sess, a.settings, session.LevelError, rejection.Message)
	}
	if err := a.sess.Save(); err != nil {
		impl.logger.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
	}
	a.c.Redirect(http.StatusFound, a.settings.LoginFailedURL)
}

// abortLogin 處理無法復原的錯誤，state 同樣只能使用一次
func (impl *ServerImpl) abortLogin(a *loginAttempt, reason string, err error) {
	impl.metrics.callbacksTotal.WithLabelValues(outcomeError, reason).Inc()
	a.logger.Error("Fail to complete login", slog.String("reason", reason), slog.Any("error", err))
	clearLoginState(a.sess)
	if err := a.sess.Save(); err != nil {
		a.logger.Error("Fail to save session", slog.Any("error", err))
	}
	a.c.AbortWithStatus(http.StatusInternalServerError)
}

func stateExpired(raw string) bool {
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return time.Now().Unix() > expiresAt
}

// providerMessage 取出 Google 回傳的錯誤內容
func providerMessage(err error) string {
	msg := err.Error()
	marker := oidc.ErrProvider.Error() + ": "
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return msg
}
