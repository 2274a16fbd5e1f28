package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"googlesso/api"
	"googlesso/conf"
)

func ParseArgs() Args {
	args, err := parseArgs(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	return args
}

func parseArgs(arguments []string) (Args, error) {
	flags := pflag.NewFlagSet("googlesso", pflag.ContinueOnError)
	v := viper.New()

	// server config
	flags.String("server-url", "0.0.0.0:8080", "")
	flags.String("env-file", ".env", "path of the .env file, loaded when it exists")
	flags.String("log-level", "info", "debug, info, warn or error")

	// google sso config
	flags.Bool("google-sso-enabled", true, "")
	flags.String("google-sso-client-id", "", "")
	flags.String("google-sso-project-id", "", "")
	flags.String("google-sso-client-secret", "", "")
	flags.StringSlice("google-sso-scopes", conf.DefaultScopes, "")
	flags.Duration("google-sso-timeout", 10*time.Minute, "")
	flags.StringSlice("google-sso-allowable-domains", nil, "")
	flags.Bool("google-sso-auto-create-first-superuser", false, "")
	flags.Duration("google-sso-session-cookie-age", time.Hour, "")
	flags.StringSlice("google-sso-superuser-list", nil, "")
	flags.StringSlice("google-sso-staff-list", nil, "")
	flags.String("google-sso-callback-domain", "", "")
	flags.String("google-sso-site-domain", "", "")
	flags.Bool("google-sso-auto-create-users", true, "")
	flags.String("google-sso-next-url", "/admin/", "")
	flags.String("google-sso-login-failed-url", "/accounts/login/", "")
	flags.String("google-sso-logout-redirect-url", "/accounts/login/", "")
	flags.Bool("google-sso-save-access-token", false, "")
	flags.Bool("google-sso-always-update-user-data", false, "")
	flags.String("google-sso-logo-url", conf.DefaultLogoURL, "")
	flags.String("google-sso-text", conf.DefaultText, "")
	flags.String("google-sso-authentication-backend", "", "")
	flags.String("google-sso-pre-validate-callback", "", "")
	flags.String("google-sso-pre-create-callback", "", "")
	flags.String("google-sso-pre-login-callback", "", "")
	flags.Bool("google-sso-save-basic-google-info", true, "")
	flags.String("google-sso-default-locale", "en", "")
	flags.Bool("google-sso-enable-logs", true, "")
	flags.Bool("google-sso-enable-messages", true, "")
	flags.Bool("google-sso-show-failed-login-message", false, "")
	flags.String("google-sso-authorization-prompt", "consent", "")
	flags.String("google-sso-admin-route", "/admin/", "")
	flags.Bool("sso-show-form-on-admin-page", true, "")

	// db config
	flags.String("db-driver", "postgres", "postgres or sqlite")
	flags.String("db-dsn", "", "sqlite database file")
	flags.String("db-user", "", "")
	flags.String("db-password", "", "")
	flags.String("db-host", "", "")
	flags.Int("db-port", 5432, "")
	flags.String("db-database", "", "")
	flags.String("db-schema", "", "")

	// redis config
	flags.String("redis-addr", "", "sessions are kept in memory when empty")
	flags.String("redis-password", "", "")
	flags.Int("redis-db", 15, "")
	flags.String("redis-key-prefix", "googlesso:", "")

	// session config
	flags.String("session-key-for-cookie", "sessionid", "")
	flags.Duration("session-cookie-max-age", 14*24*time.Hour, "")
	flags.Bool("session-cookie-secure", true, "")

	// bind pflag to viper
	if err := flags.Parse(arguments); err != nil {
		return Args{}, err
	}
	v.BindPFlags(flags)
	v.AutomaticEnv()
	v.SetEnvPrefix("GSSO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// .env 只補上尚未設定的環境變數
	if envFile := v.GetString("env-file"); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				slog.Warn("Fail to load env file", slog.String("file", envFile), slog.Any("error", err))
			}
		}
	}

	sso := conf.Default()
	sso.Enabled = conf.Literal(v.GetBool("google-sso-enabled"))
	sso.ClientID = conf.Literal(v.GetString("google-sso-client-id"))
	sso.ProjectID = conf.Literal(v.GetString("google-sso-project-id"))
	sso.ClientSecret = conf.Literal(v.GetString("google-sso-client-secret"))
	sso.Scopes = conf.Literal(getList(v, "google-sso-scopes"))
	sso.Timeout = conf.Literal(v.GetDuration("google-sso-timeout"))
	sso.AllowableDomains = conf.Literal(getList(v, "google-sso-allowable-domains"))
	sso.AutoCreateFirstSuperuser = conf.Literal(v.GetBool("google-sso-auto-create-first-superuser"))
	sso.SessionCookieAge = conf.Literal(v.GetDuration("google-sso-session-cookie-age"))
	sso.SuperuserList = conf.Literal(getList(v, "google-sso-superuser-list"))
	sso.StaffList = conf.Literal(getList(v, "google-sso-staff-list"))
	sso.CallbackDomain = conf.Literal(v.GetString("google-sso-callback-domain"))
	sso.SiteDomain = conf.Literal(v.GetString("google-sso-site-domain"))
	sso.AutoCreateUsers = conf.Literal(v.GetBool("google-sso-auto-create-users"))
	sso.NextURL = conf.Literal(v.GetString("google-sso-next-url"))
	sso.LoginFailedURL = conf.Literal(v.GetString("google-sso-login-failed-url"))
	sso.LogoutRedirectURL = conf.Literal(v.GetString("google-sso-logout-redirect-url"))
	sso.SaveAccessToken = conf.Literal(v.GetBool("google-sso-save-access-token"))
	sso.AlwaysUpdateUserData = conf.Literal(v.GetBool("google-sso-always-update-user-data"))
	sso.LogoURL = conf.Literal(v.GetString("google-sso-logo-url"))
	sso.Text = conf.Literal(v.GetString("google-sso-text"))
	sso.AuthenticationBackend = conf.Literal(v.GetString("google-sso-authentication-backend"))
	sso.PreValidateCallback = conf.Literal(v.GetString("google-sso-pre-validate-callback"))
	sso.PreCreateCallback = conf.Literal(v.GetString("google-sso-pre-create-callback"))
	sso.PreLoginCallback = conf.Literal(v.GetString("google-sso-pre-login-callback"))
	sso.SaveBasicGoogleInfo = conf.Literal(v.GetBool("google-sso-save-basic-google-info"))
	sso.DefaultLocale = conf.Literal(v.GetString("google-sso-default-locale"))
	sso.EnableLogs = conf.Literal(v.GetBool("google-sso-enable-logs"))
	sso.EnableMessages = conf.Literal(v.GetBool("google-sso-enable-messages"))
	sso.ShowFailedLoginMessage = conf.Literal(v.GetBool("google-sso-show-failed-login-message"))
	sso.AuthorizationPrompt = conf.Literal(v.GetString("google-sso-authorization-prompt"))
	sso.AdminRoute = conf.Literal(v.GetString("google-sso-admin-route"))
	sso.ShowFormOnAdminPage = conf.Literal(v.GetBool("sso-show-form-on-admin-page"))

	config := api.DefaultServerConfig()
	config.SSO = sso
	config.DB = api.DBConfig{
		Driver:   v.GetString("db-driver"),
		DSN:      v.GetString("db-dsn"),
		User:     v.GetString("db-user"),
		Password: v.GetString("db-password"),
		Host:     v.GetString("db-host"),
		Port:     v.GetInt("db-port"),
		Database: v.GetString("db-database"),
		Schema:   v.GetString("db-schema"),
	}
	config.Redis = api.RedisConfig{
		Addr:      v.GetString("redis-addr"),
		Password:  v.GetString("redis-password"),
		DB:        v.GetInt("redis-db"),
		KeyPrefix: v.GetString("redis-key-prefix"),
	}
	config.Session = api.SessionConfig{
		KeyForCookie: v.GetString("session-key-for-cookie"),
		CookieMaxAge: v.GetDuration("session-cookie-max-age"),
		CookieSecure: v.GetBool("session-cookie-secure"),
	}

	// initial arguments
	return Args{
		ServerURL:    v.GetString("server-url"),
		LogLevel:     v.GetString("log-level"),
		ServerConfig: config,
	}, nil
}

// getList 讀取清單設定，環境變數以逗號分隔，例如 GSSO_GOOGLE_SSO_STAFF_LIST=a@example.com,b@example.com
func getList(v *viper.Viper, key string) []string {
	var items []string
	for _, raw := range v.GetStringSlice(key) {
		items = append(items, strings.Split(raw, ",")...)
	}
	return lo.Compact(lo.Map(items, func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

type Args struct {
	ServerURL    string
	LogLevel     string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && args.ServerConfig.SSO.Validate() == nil
}

func (args Args) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
