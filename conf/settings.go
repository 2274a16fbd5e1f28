package conf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultLogoURL = "https://upload.wikimedia.org/wikipedia/commons/thumb/5/53/Google_%22G%22_Logo.svg/1280px-Google_%22G%22_Logo.svg.png"
	DefaultText    = "Sign in with Google"
)

var DefaultScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

var ErrConfiguration = errors.New("improperly configured")

// ConfigError 描述單一設定項目的錯誤
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Settings 包含所有 Google SSO 的設定項目
type Settings struct {
	Enabled      Value[bool]
	AdminEnabled Value[*bool]
	PagesEnabled Value[*bool]

	ClientID     Value[string]
	ProjectID    Value[string]
	ClientSecret Value[string]
	Scopes       Value[[]string]
	Timeout      Value[time.Duration]

	AllowableDomains         Value[[]string]
	AutoCreateFirstSuperuser Value[bool]
	SessionCookieAge         Value[time.Duration]
	SuperuserList            Value[[]string]
	StaffList                Value[[]string]
	CallbackDomain           Value[string]
	SiteDomain               Value[string]
	AutoCreateUsers          Value[bool]

	NextURL           Value[string]
	LoginFailedURL    Value[string]
	LogoutRedirectURL Value[string]

	SaveAccessToken      Value[bool]
	AlwaysUpdateUserData Value[bool]
	LogoURL              Value[string]
	Text                 Value[string]

	AuthenticationBackend Value[string]
	PreValidateCallback   Value[string]
	PreCreateCallback     Value[string]
	PreLoginCallback      Value[string]

	SaveBasicGoogleInfo    Value[bool]
	DefaultLocale          Value[string]
	EnableLogs             Value[bool]
	EnableMessages         Value[bool]
	ShowFailedLoginMessage Value[bool]
	AuthorizationPrompt    Value[string]

	AdminRoute          Value[string]
	ShowFormOnAdminPage Value[bool]
}

// Resolved 是 Settings 在單一請求下解析後的結果
type Resolved struct {
	Enabled      bool
	AdminEnabled *bool
	PagesEnabled *bool

	ClientID     string
	ProjectID    string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration

	AllowableDomains         []string
	AutoCreateFirstSuperuser bool
	SessionCookieAge         time.Duration
	SuperuserList            []string
	StaffList                []string
	CallbackDomain           string
	SiteDomain               string
	AutoCreateUsers          bool

	NextURL           string
	LoginFailedURL    string
	LogoutRedirectURL string

	SaveAccessToken      bool
	AlwaysUpdateUserData bool
	LogoURL              string
	Text                 string

	AuthenticationBackend string
	PreValidateCallback   string
	PreCreateCallback     string
	PreLoginCallback      string

	SaveBasicGoogleInfo    bool
	DefaultLocale          string
	EnableLogs             bool
	EnableMessages         bool
	ShowFailedLoginMessage bool
	AuthorizationPrompt    string

	AdminRoute          string
	ShowFormOnAdminPage bool
}

// Default 回傳所有設定項目的預設值
func Default() Settings {
	return Settings{
		Enabled:      Literal(true),
		AdminEnabled: Literal[*bool](nil),
		PagesEnabled: Literal[*bool](nil),

		Scopes:  Literal(DefaultScopes),
		Timeout: Literal(10 * time.Minute),

		AllowableDomains:         Literal([]string{}),
		AutoCreateFirstSuperuser: Literal(false),
		SessionCookieAge:         Literal(3600 * time.Second),
		SuperuserList:            Literal([]string{}),
		StaffList:                Literal([]string{}),
		AutoCreateUsers:          Literal(true),

		NextURL:           Literal("/admin/"),
		LoginFailedURL:    Literal("/admin/"),
		LogoutRedirectURL: Literal("/admin/"),

		SaveAccessToken:      Literal(false),
		AlwaysUpdateUserData: Literal(false),
		LogoURL:              Literal(DefaultLogoURL),
		Text:                 Literal(DefaultText),

		SaveBasicGoogleInfo:    Literal(true),
		DefaultLocale:          Literal("en"),
		EnableLogs:             Literal(true),
		EnableMessages:         Literal(true),
		ShowFailedLoginMessage: Literal(false),
		AuthorizationPrompt:    Literal("consent"),

		AdminRoute:          Literal("/admin/"),
		ShowFormOnAdminPage: Literal(true),
	}
}

type option struct {
	name     string
	computed bool
	callable bool
}

func (s Settings) options() []option {
	return []option{
		{"GOOGLE_SSO_ENABLED", s.Enabled.IsComputed(), false},
		{"GOOGLE_SSO_ADMIN_ENABLED", s.AdminEnabled.IsComputed(), true},
		{"GOOGLE_SSO_PAGES_ENABLED", s.PagesEnabled.IsComputed(), true},
		{"GOOGLE_SSO_CLIENT_ID", s.ClientID.IsComputed(), false},
		{"GOOGLE_SSO_PROJECT_ID", s.ProjectID.IsComputed(), false},
		{"GOOGLE_SSO_CLIENT_SECRET", s.ClientSecret.IsComputed(), false},
		{"GOOGLE_SSO_SCOPES", s.Scopes.IsComputed(), true},
		{"GOOGLE_SSO_TIMEOUT", s.Timeout.IsComputed(), true},
		{"GOOGLE_SSO_ALLOWABLE_DOMAINS", s.AllowableDomains.IsComputed(), true},
		{"GOOGLE_SSO_AUTO_CREATE_FIRST_SUPERUSER", s.AutoCreateFirstSuperuser.IsComputed(), true},
		{"GOOGLE_SSO_SESSION_COOKIE_AGE", s.SessionCookieAge.IsComputed(), true},
		{"GOOGLE_SSO_SUPERUSER_LIST", s.SuperuserList.IsComputed(), true},
		{"GOOGLE_SSO_STAFF_LIST", s.StaffList.IsComputed(), true},
		{"GOOGLE_SSO_CALLBACK_DOMAIN", s.CallbackDomain.IsComputed(), true},
		{"GOOGLE_SSO_SITE_DOMAIN", s.SiteDomain.IsComputed(), true},
		{"GOOGLE_SSO_AUTO_CREATE_USERS", s.AutoCreateUsers.IsComputed(), true},
		{"GOOGLE_SSO_NEXT_URL", s.NextURL.IsComputed(), true},
		{"GOOGLE_SSO_LOGIN_FAILED_URL", s.LoginFailedURL.IsComputed(), true},
		{"GOOGLE_SSO_LOGOUT_REDIRECT_URL", s.LogoutRedirectURL.IsComputed(), true},
		{"GOOGLE_SSO_SAVE_ACCESS_TOKEN", s.SaveAccessToken.IsComputed(), true},
		{"GOOGLE_SSO_ALWAYS_UPDATE_USER_DATA", s.AlwaysUpdateUserData.IsComputed(), true},
		{"GOOGLE_SSO_LOGO_URL", s.LogoURL.IsComputed(), true},
		{"GOOGLE_SSO_TEXT", s.Text.IsComputed(), true},
		{"GOOGLE_SSO_AUTHENTICATION_BACKEND", s.AuthenticationBackend.IsComputed(), false},
		{"GOOGLE_SSO_PRE_VALIDATE_CALLBACK", s.PreValidateCallback.IsComputed(), false},
		{"GOOGLE_SSO_PRE_CREATE_CALLBACK", s.PreCreateCallback.IsComputed(), false},
		{"GOOGLE_SSO_PRE_LOGIN_CALLBACK", s.PreLoginCallback.IsComputed(), false},
		{"GOOGLE_SSO_SAVE_BASIC_GOOGLE_INFO", s.SaveBasicGoogleInfo.IsComputed(), true},
		{"GOOGLE_SSO_DEFAULT_LOCALE", s.DefaultLocale.IsComputed(), true},
		{"GOOGLE_SSO_ENABLE_LOGS", s.EnableLogs.IsComputed(), false},
		{"GOOGLE_SSO_ENABLE_MESSAGES", s.EnableMessages.IsComputed(), true},
		{"GOOGLE_SSO_SHOW_FAILED_LOGIN_MESSAGE", s.ShowFailedLoginMessage.IsComputed(), true},
		{"GOOGLE_SSO_AUTHORIZATION_PROMPT", s.AuthorizationPrompt.IsComputed(), true},
		{"SSO_ADMIN_ROUTE", s.AdminRoute.IsComputed(), true},
		{"SSO_SHOW_FORM_ON_ADMIN_PAGE", s.ShowFormOnAdminPage.IsComputed(), true},
	}
}

// Validate 檢查設定是否合法
// 不允許以函數計算的設定項目若被設為 Computed，視為設定錯誤
func (s Settings) Validate() error {
	var errs []error
	for _, o := range s.options() {
		if o.computed && !o.callable {
			errs = append(errs, &ConfigError{Option: o.name, Reason: "option cannot be computed per request"})
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	// 以下的項目都保證為固定值
	if s.Enabled.Resolve(nil) {
		if s.ClientID.Resolve(nil) == "" {
			errs = append(errs, &ConfigError{Option: "GOOGLE_SSO_CLIENT_ID", Reason: "option is required"})
		}
		if s.ClientSecret.Resolve(nil) == "" {
			errs = append(errs, &ConfigError{Option: "GOOGLE_SSO_CLIENT_SECRET", Reason: "option is required"})
		}
	}
	return errors.Join(errs...)
}

// Resolve 解析當前請求下的所有設定
func (s Settings) Resolve(r *http.Request) Resolved {
	resolved := Resolved{
		Enabled:      s.Enabled.Resolve(r),
		AdminEnabled: s.AdminEnabled.Resolve(r),
		PagesEnabled: s.PagesEnabled.Resolve(r),

		ClientID:     s.ClientID.Resolve(r),
		ProjectID:    s.ProjectID.Resolve(r),
		ClientSecret: s.ClientSecret.Resolve(r),
		Scopes:       s.Scopes.Resolve(r),
		Timeout:      s.Timeout.Resolve(r),

		AllowableDomains:         s.AllowableDomains.Resolve(r),
		AutoCreateFirstSuperuser: s.AutoCreateFirstSuperuser.Resolve(r),
		SessionCookieAge:         s.SessionCookieAge.Resolve(r),
		SuperuserList:            s.SuperuserList.Resolve(r),
		StaffList:                s.StaffList.Resolve(r),
		CallbackDomain:           s.CallbackDomain.Resolve(r),
		SiteDomain:               s.SiteDomain.Resolve(r),
		AutoCreateUsers:          s.AutoCreateUsers.Resolve(r),

		NextURL:           s.NextURL.Resolve(r),
		LoginFailedURL:    s.LoginFailedURL.Resolve(r),
		LogoutRedirectURL: s.LogoutRedirectURL.Resolve(r),

		SaveAccessToken:      s.SaveAccessToken.Resolve(r),
		AlwaysUpdateUserData: s.AlwaysUpdateUserData.Resolve(r),
		LogoURL:              s.LogoURL.Resolve(r),
		Text:                 s.Text.Resolve(r),

		AuthenticationBackend: s.AuthenticationBackend.Resolve(r),
		PreValidateCallback:   s.PreValidateCallback.Resolve(r),
		PreCreateCallback:     s.PreCreateCallback.Resolve(r),
		PreLoginCallback:      s.PreLoginCallback.Resolve(r),

		SaveBasicGoogleInfo:    s.SaveBasicGoogleInfo.Resolve(r),
		DefaultLocale:          s.DefaultLocale.Resolve(r),
		EnableLogs:             s.EnableLogs.Resolve(r),
		EnableMessages:         s.EnableMessages.Resolve(r),
		ShowFailedLoginMessage: s.ShowFailedLoginMessage.Resolve(r),
		AuthorizationPrompt:    s.AuthorizationPrompt.Resolve(r),

		AdminRoute:          s.AdminRoute.Resolve(r),
		ShowFormOnAdminPage: s.ShowFormOnAdminPage.Resolve(r),
	}
	if resolved.SiteDomain == "" && r != nil {
		resolved.SiteDomain = r.Host
	}
	return resolved
}

// Logger 依照 GOOGLE_SSO_ENABLE_LOGS 回傳可用的 logger
func (s Settings) Logger(base *slog.Logger) *slog.Logger {
	if !s.EnableLogs.Resolve(nil) {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if base == nil {
		return slog.Default()
	}
	return base
}
