package api

import (
	"time"

	"googlesso/conf"
)

type ServerConfig struct {
	SSO     conf.Settings
	DB      DBConfig
	Redis   RedisConfig
	Session SessionConfig

	// RoutePrefix 是 login/callback/logout 路由的前綴
	RoutePrefix string
	// LoginPagePath 是 HTML 登入頁面的路徑
	LoginPagePath string
}

type DBConfig struct {
	// Driver 為 postgres 或 sqlite
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
	// DSN 在 sqlite 時是檔案路徑
	DSN string
}

type RedisConfig struct {
	// Addr 為空時使用記憶體儲存 session，也不使用分散式鎖
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type SessionConfig struct {
	KeyForCookie string
	CookieMaxAge time.Duration
	CookieSecure bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SSO: conf.Default(),
		DB: DBConfig{
			Driver: "postgres",
			Port:   5432,
		},
		Redis: RedisConfig{
			KeyPrefix: "googlesso:",
		},
		Session: SessionConfig{
			KeyForCookie: "sessionid",
			CookieMaxAge: 14 * 24 * time.Hour,
			CookieSecure: true,
		},
		RoutePrefix:   "/google_sso",
		LoginPagePath: "/accounts/login/",
	}
}
