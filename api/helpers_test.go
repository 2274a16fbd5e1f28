package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"googlesso/adapters/memory"
	"googlesso/adapters/oidc"
	"googlesso/adapters/session"
	"googlesso/auth"
	"googlesso/conf"
	"googlesso/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	server    *ServerImpl
	router    *gin.Engine
	db        *gorm.DB
	store     session.IStore
	sessionID string
}

func setupDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func testConfig(modify func(*conf.Settings)) ServerConfig {
	config := DefaultServerConfig()
	config.SSO.ClientID = conf.Literal("client-id")
	config.SSO.ClientSecret = conf.Literal("client-secret")
	config.SSO.AllowableDomains = conf.Literal([]string{"example.com"})
	config.SSO.NextURL = conf.Literal("/admin/")
	config.SSO.LoginFailedURL = conf.Literal("/accounts/login/")
	config.SSO.LogoutRedirectURL = conf.Literal("/accounts/login/")
	config.Session.CookieSecure = false
	if modify != nil {
		modify(&config.SSO)
	}
	return config
}

func newTestEnv(t *testing.T, provider oidc.IProvider, modify func(*conf.Settings), opts ...ServerOption) *testEnv {
	db := setupDB(t)
	store := memory.NewStore(time.Hour)
	opts = append([]ServerOption{
		WithProvider(provider),
		WithDB(db),
		WithSessionStore(store),
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(discardLogger),
	}, opts...)
	server, err := NewServer(context.Background(), testConfig(modify), opts...)
	require.NoError(t, err)

	router := gin.New()
	server.RegisterHandlers(router)
	router.GET("/secret/", auth.RequireLogin(server.LoginURL()), func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		c.String(http.StatusOK, user.Email)
	})
	return &testEnv{server: server, router: router, db: db, store: store}
}

// get 送出請求並沿用 session cookie
func (env *testEnv) get(target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://example.com"+target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if env.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: env.sessionID})
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "sessionid" {
			env.sessionID = cookie.Value
		}
	}
	return rec
}

// seedLogin 模擬已經開始登入流程的 session
func (env *testEnv) seedLogin(t *testing.T, state, nonce, next string, expiresAt time.Time) {
	env.sessionID = uuid.NewString()
	data := map[string]string{
		SESSION_KEY_SSO_STATE:            state,
		SESSION_KEY_SSO_NONCE:            nonce,
		SESSION_KEY_SSO_STATE_EXPIRES_AT: strconv.FormatInt(expiresAt.Unix(), 10),
	}
	if next != "" {
		data[SESSION_KEY_SSO_NEXT_URL] = next
	}
	require.NoError(t, env.store.Save(context.Background(), env.sessionID, data, time.Hour))
}

func (env *testEnv) session(t *testing.T) session.ISession {
	sess := session.NewSession(context.Background(), env.sessionID, env.store)
	require.NoError(t, sess.Load())
	return sess
}

func (env *testEnv) messages(t *testing.T) []string {
	messages, err := session.PopMessages(env.session(t))
	require.NoError(t, err)
	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Text
	}
	return texts
}

func (env *testEnv) countUsers(t *testing.T) int64 {
	var count int64
	require.NoError(t, env.db.Model(&models.User{}).Count(&count).Error)
	return count
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
