package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"googlesso/adapters/memory"
	"googlesso/adapters/oidc"
	redisAdapter "googlesso/adapters/redis"
	"googlesso/adapters/session"
	"googlesso/auth"
	"googlesso/hooks"
	"googlesso/models"
	"googlesso/resolver"
)

type ServerImpl struct {
	provider    oidc.IProvider
	db          *gorm.DB
	redisClient *redis.Client
	store       session.IStore
	locker      resolver.Locker
	hooks       *hooks.Registry
	backends    *auth.Backends
	htmlChecker *bluemonday.Policy
	metrics     *loginMetrics
	logger      *slog.Logger

	ownDB  bool
	config ServerConfig
}

type serverOptions struct {
	provider oidc.IProvider
	db       *gorm.DB
	store    session.IStore
	locker   resolver.Locker
	hooks    *hooks.Registry
	backends *auth.Backends
	registry prometheus.Registerer
	logger   *slog.Logger
}

type ServerOption func(*serverOptions)

// WithProvider 使用指定的 Google provider，不會以設定建立 provider
func WithProvider(provider oidc.IProvider) ServerOption {
	return func(o *serverOptions) {
		o.provider = provider
	}
}

// WithDB 使用指定的資料庫連線，不會以設定建立連線
func WithDB(db *gorm.DB) ServerOption {
	return func(o *serverOptions) {
		o.db = db
	}
}

// WithSessionStore 使用指定的 session 儲存
func WithSessionStore(store session.IStore) ServerOption {
	return func(o *serverOptions) {
		o.store = store
	}
}

// WithLocker 使用指定的鎖序列化使用者建立
func WithLocker(locker resolver.Locker) ServerOption {
	return func(o *serverOptions) {
		o.locker = locker
	}
}

// WithHooks 使用指定的 hook registry，預設為 hooks.Default()
func WithHooks(registry *hooks.Registry) ServerOption {
	return func(o *serverOptions) {
		o.hooks = registry
	}
}

// WithBackends 使用指定的驗證 backend，預設只有 auth.ModelBackend
func WithBackends(backends *auth.Backends) ServerOption {
	return func(o *serverOptions) {
		o.backends = backends
	}
}

// WithRegisterer 指定 prometheus 的 registry，nil 代表不註冊
func WithRegisterer(registry prometheus.Registerer) ServerOption {
	return func(o *serverOptions) {
		o.registry = registry
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

func NewServer(ctx context.Context, config ServerConfig, opts ...ServerOption) (*ServerImpl, error) {
	const op = "NewServer"
	options := serverOptions{
		registry: prometheus.DefaultRegisterer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	// 檢查設定，設定錯誤時不啟動
	if err := config.SSO.Validate(); err != nil {
		return nil, fmt.Errorf("[%s] Invalid configuration, err=%w", op, err)
	}
	startup := config.SSO.Resolve(nil)
	if options.hooks == nil {
		options.hooks = hooks.Default()
	}
	if err := options.hooks.Check(startup.PreValidateCallback, startup.PreCreateCallback, startup.PreLoginCallback); err != nil {
		return nil, fmt.Errorf("[%s] Invalid hook configuration, err=%w", op, err)
	}
	logger := config.SSO.Logger(options.logger).With(slog.String("component", "google_sso"))

	impl := &ServerImpl{
		hooks:       options.hooks,
		htmlChecker: bluemonday.UGCPolicy(),
		logger:      logger,
		config:      config,
	}

	// 初始化資料庫連線
	impl.db = options.db
	if impl.db == nil {
		db, err := openDB(config.DB)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
		impl.db = db
		impl.ownDB = true
	}

	// 初始化Redis連線，沒有設定時使用記憶體儲存 session
	if config.Redis.Addr != "" {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	}
	impl.store = options.store
	if impl.store == nil {
		if impl.redisClient != nil {
			impl.store = redisAdapter.NewStore(impl.redisClient, redisAdapter.WithStorePrefix(config.Redis.KeyPrefix+"session:"))
		} else {
			impl.store = memory.NewStore(config.Session.CookieMaxAge)
		}
	}
	impl.locker = options.locker
	if impl.locker == nil && impl.redisClient != nil {
		impl.locker = redisAdapter.NewLocker(
			impl.redisClient,
			redisAdapter.WithLockerPrefix(config.Redis.KeyPrefix+"lock:"),
			redisAdapter.WithLockerLogger(logger),
		)
	}

	// 初始化 Google provider
	impl.provider = options.provider
	if impl.provider == nil {
		provider, err := oidc.NewProvider(ctx, oidc.ProvideClientInfo{
			ID:        startup.ClientID,
			Secret:    startup.ClientSecret,
			ProjectID: startup.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to initial Google provider, err=%w", op, err)
		}
		impl.provider = provider
	}
	logger.Debug("Google provider ready",
		slog.String("clientID", startup.ClientID),
		slog.String("clientSecret", oidc.ShowCredential(startup.ClientSecret)),
	)

	impl.backends = options.backends
	if impl.backends == nil {
		impl.backends = auth.NewBackends(auth.NewModelBackend(impl.db))
	}
	// backend 名稱不能由請求決定，啟動時就能確認
	if _, err := impl.backends.Resolve(startup.AuthenticationBackend); err != nil {
		return nil, fmt.Errorf("[%s] Invalid authentication backend, err=%w", op, err)
	}

	metrics, err := newLoginMetrics(options.registry)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create metrics, err=%w", op, err)
	}
	impl.metrics = metrics

	return impl, nil
}

func openDB(config DBConfig) (*gorm.DB, error) {
	const op = "openDB"
	gormConfig := &gorm.Config{TranslateError: true}
	switch strings.ToLower(config.Driver) {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(config.DSN), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to open sqlite, err=%w", op, err)
		}
		// sqlite 只用於開發環境，直接建立資料表
		if err := models.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate sqlite, err=%w", op, err)
		}
		return db, nil
	case "", "postgres":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", config.User, config.Password, config.Host, config.Port, config.Database)
		if config.Schema != "" {
			dsn += "&search_path=" + config.Schema
			gormConfig.NamingStrategy = schema.NamingStrategy{
				TablePrefix: config.Schema + ".",
			}
		}
		db, err := gorm.Open(postgres.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to open postgres, err=%w", op, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("[%s] Unsupported database driver: %s", op, config.Driver)
	}
}

// RegisterHandlers 在 router 上註冊 session、登入狀態與 Google 登入的路由
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.Use(impl.SessionMiddleware(), auth.Middleware(impl.backends, impl.logger))

	group := router.Group(impl.config.RoutePrefix)
	group.GET("/login/", impl.StartLogin)
	group.GET("/callback/", impl.Callback)
	group.GET("/logout/", impl.Logout)
	group.GET("/providers/", impl.Providers)
	group.GET("/static/google_button.css", impl.ButtonCSS)

	router.GET(impl.config.LoginPagePath, impl.LoginPage)
}

// LoginURL 是未登入時導向的登入頁面
func (impl *ServerImpl) LoginURL() string {
	return impl.config.LoginPagePath
}

func (impl *ServerImpl) Close() {
	const op = "Close"
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil {
			impl.logger.Warn("Fail to close redis client", slog.String("op", op), slog.Any("error", err))
		}
	}
	if impl.ownDB {
		if sqlDB, err := impl.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func (impl *ServerImpl) route(name string) string {
	return strings.TrimSuffix(impl.config.RoutePrefix, "/") + "/" + name + "/"
}

func generateID(prefix string) (string, error) {
	const op = "generateID"
	bytes := make([]byte, 20)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("[%s] Fail to generate unique id, err=%w", op, err)
	}
	return prefix + "_" + base64.URLEncoding.EncodeToString(bytes), nil
}
