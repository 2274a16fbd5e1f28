package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/oauth2"

	"googlesso/adapters/oidc"
	"googlesso/auth"
	"googlesso/conf"
	"googlesso/hooks"
	"googlesso/models"
)

const callbackRedirectURI = "http://example.com/google_sso/callback/"

func fooIdentity() *oidc.Identity {
	return &oidc.Identity{
		Subject:       "1234567890",
		Email:         "foo@example.com",
		EmailVerified: lo.ToPtr(true),
		GivenName:     "Foo",
		FamilyName:    "Bar",
		Locale:        lo.ToPtr("en"),
		AccessToken:   "ya29.access-token",
	}
}

// expectExchange 設定 state 通過後的 token 交換與 userinfo
func expectExchange(provider *oidc.MockIProvider, identity *oidc.Identity) {
	provider.EXPECT().NewExchangeVerifier("st_1", "n_1").Return(&oidc.ExchangeVerifier{})
	provider.EXPECT().
		Exchange(gomock.Any(), gomock.Any(), "code-1", "st_1", callbackRedirectURI).
		Return(&oidc.ExchangeToken{OAuth2Token: &oauth2.Token{AccessToken: identity.AccessToken}}, nil)
	provider.EXPECT().
		FetchIdentity(gomock.Any(), gomock.Any()).
		Return(identity, nil)
}

func TestServerImpl_Callback_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		modify       func(*conf.Settings)
		next         string
		expiresAt    time.Duration
		query        string
		setupMocks   func(provider *oidc.MockIProvider)
		setupDB      func(t *testing.T, env *testEnv)
		wantReason   string
		wantMessages []string
	}{
		{
			name:         "disabled",
			modify:       func(s *conf.Settings) { s.Enabled = conf.Literal(false) },
			query:        "?code=code-1&state=st_1",
			wantReason:   ReasonDisabled,
			wantMessages: []string{"Google SSO not enabled."},
		},
		{
			name:         "disabled for admin",
			modify:       func(s *conf.Settings) { s.AdminEnabled = conf.Literal(lo.ToPtr(false)) },
			next:         "/admin/users/",
			query:        "?code=code-1&state=st_1",
			wantReason:   ReasonAdminDisabled,
			wantMessages: []string{"Google SSO not enabled for Admin."},
		},
		{
			name:         "disabled for pages",
			modify:       func(s *conf.Settings) { s.PagesEnabled = conf.Literal(lo.ToPtr(false)) },
			next:         "/secret/",
			query:        "?code=code-1&state=st_1",
			wantReason:   ReasonPagesDisabled,
			wantMessages: []string{"Google SSO not enabled for Pages."},
		},
		{
			name:         "missing code",
			query:        "?state=st_1&error=access_denied",
			wantReason:   ReasonMissingCode,
			wantMessages: []string{"Authorization Code not received from SSO."},
		},
		{
			name:         "expired state",
			expiresAt:    -time.Minute,
			query:        "?code=code-1&state=st_1",
			wantReason:   ReasonStateMismatch,
			wantMessages: []string{"State Mismatch. Time expired?"},
		},
		{
			name:  "state mismatch",
			query: "?code=code-1&state=forged",
			setupMocks: func(provider *oidc.MockIProvider) {
				provider.EXPECT().NewExchangeVerifier("st_1", "n_1").Return(&oidc.ExchangeVerifier{})
				provider.EXPECT().
					Exchange(gomock.Any(), gomock.Any(), "code-1", "forged", callbackRedirectURI).
					Return(nil, oidc.ErrStateMismatch)
			},
			wantReason:   ReasonStateMismatch,
			wantMessages: []string{"State Mismatch. Time expired?"},
		},
		{
			name:  "provider error",
			query: "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				provider.EXPECT().NewExchangeVerifier("st_1", "n_1").Return(&oidc.ExchangeVerifier{})
				provider.EXPECT().
					Exchange(gomock.Any(), gomock.Any(), "code-1", "st_1", callbackRedirectURI).
					Return(nil, fmt.Errorf("[Exchange] %w: (invalid_grant) Bad Request", oidc.ErrProvider))
			},
			wantReason:   ReasonProviderError,
			wantMessages: []string{"(invalid_grant) Bad Request"},
		},
		{
			name:  "email not allowed",
			query: "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				identity := fooIdentity()
				identity.Email = "foo@other.com"
				expectExchange(provider, identity)
			},
			wantReason:   ReasonNotAllowed,
			wantMessages: []string{"Email address not allowed: foo@other.com. Please contact your administrator."},
		},
		{
			name:   "empty allow list",
			modify: func(s *conf.Settings) { s.AllowableDomains = conf.Literal([]string{}) },
			query:  "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				expectExchange(provider, fooIdentity())
			},
			wantReason:   ReasonNotAllowed,
			wantMessages: []string{"Email address not allowed: foo@example.com. Please contact your administrator."},
		},
		{
			name:   "user not found is only logged",
			modify: func(s *conf.Settings) { s.AutoCreateUsers = conf.Literal(false) },
			query:  "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				expectExchange(provider, fooIdentity())
			},
			wantReason: ReasonUserNotFound,
		},
		{
			name: "user not found with message",
			modify: func(s *conf.Settings) {
				s.AutoCreateUsers = conf.Literal(false)
				s.ShowFailedLoginMessage = conf.Literal(true)
			},
			query: "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				expectExchange(provider, fooIdentity())
			},
			wantReason:   ReasonUserNotFound,
			wantMessages: []string{"User not found: foo@example.com."},
		},
		{
			name:   "inactive user",
			modify: func(s *conf.Settings) { s.ShowFailedLoginMessage = conf.Literal(true) },
			query:  "?code=code-1&state=st_1",
			setupMocks: func(provider *oidc.MockIProvider) {
				expectExchange(provider, fooIdentity())
			},
			setupDB: func(t *testing.T, env *testEnv) {
				user := models.User{Email: "foo@example.com", Username: "foo", IsActive: false}
				require.NoError(t, env.db.Create(&user).Error)
			},
			wantReason:   ReasonUserInactive,
			wantMessages: []string{"User is not active: foo@example.com."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := oidc.NewMockIProvider(ctrl)
			if tt.setupMocks != nil {
				tt.setupMocks(provider)
			}
			env := newTestEnv(t, provider, tt.modify)
			if tt.setupDB != nil {
				tt.setupDB(t, env)
			}
			usersBefore := env.countUsers(t)
			expiresAt := lo.Ternary(tt.expiresAt != 0, tt.expiresAt, 10*time.Minute)
			env.seedLogin(t, "st_1", "n_1", tt.next, time.Now().Add(expiresAt))

			rec := env.get("/google_sso/callback/" + tt.query)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/accounts/login/", rec.Header().Get("Location"))

			sess := env.session(t)
			assert.Empty(t, sess.Get(auth.SESSION_KEY_USER_ID))
			assert.Empty(t, sess.Get(SESSION_KEY_SSO_STATE))
			if len(tt.wantMessages) == 0 {
				assert.Empty(t, env.messages(t))
			} else {
				assert.Equal(t, tt.wantMessages, env.messages(t))
			}
			assert.Equal(t, usersBefore, env.countUsers(t))
			assert.Equal(t, float64(1), counterValue(t, env.server.metrics.callbacksTotal.WithLabelValues(outcomeRejected, tt.wantReason)))
		})
	}
}

func TestServerImpl_Callback_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := oidc.NewMockIProvider(ctrl)
	expectExchange(provider, fooIdentity())
	env := newTestEnv(t, provider, func(s *conf.Settings) {
		s.StaffList = conf.Literal([]string{"*"})
		s.SessionCookieAge = conf.Literal(2 * time.Hour)
	})
	env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))
	loginSessionID := env.sessionID

	rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/secret/", rec.Header().Get("Location"))

	// session ID 在登入後更換
	assert.NotEqual(t, loginSessionID, env.sessionID)
	old, err := env.store.Load(context.Background(), loginSessionID)
	require.NoError(t, err)
	assert.Empty(t, old)

	var user models.User
	require.NoError(t, env.db.Preload("GoogleSSO").First(&user, "email = ?", "foo@example.com").Error)
	assert.True(t, user.IsActive)
	assert.True(t, user.IsStaff)
	assert.NotNil(t, user.LastLogin)
	require.NotNil(t, user.GoogleSSO)
	assert.Equal(t, "1234567890", user.GoogleSSO.GoogleID)

	sess := env.session(t)
	assert.Equal(t, user.ID.String(), sess.Get(auth.SESSION_KEY_USER_ID))
	assert.Equal(t, auth.DefaultBackendName, sess.Get(auth.SESSION_KEY_BACKEND))
	assert.Equal(t, 2*time.Hour, sess.Expiry())
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_STATE))
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_NONCE))
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_NEXT_URL))
	assert.Empty(t, sess.Get(SESSION_KEY_ACCESS_TOKEN))
	assert.Equal(t, []string{"User email: foo@example.com in GOOGLE_SSO_STAFF_LIST. Added Staff Permission."}, env.messages(t))

	assert.Equal(t, float64(1), counterValue(t, env.server.metrics.callbacksTotal.WithLabelValues(outcomeAuthorized, "")))
	assert.Equal(t, float64(1), counterValue(t, env.server.metrics.usersCreated))

	rec = env.get("/secret/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "foo@example.com", rec.Body.String())
}

func TestServerImpl_Callback_DefaultNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := oidc.NewMockIProvider(ctrl)
	expectExchange(provider, fooIdentity())
	env := newTestEnv(t, provider, nil)
	env.seedLogin(t, "st_1", "n_1", "", time.Now().Add(10*time.Minute))

	rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/", rec.Header().Get("Location"))
}

func TestServerImpl_Callback_AdminDisabledPageAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := oidc.NewMockIProvider(ctrl)
	expectExchange(provider, fooIdentity())
	env := newTestEnv(t, provider, func(s *conf.Settings) {
		s.AdminEnabled = conf.Literal(lo.ToPtr(false))
	})
	env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

	rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/secret/", rec.Header().Get("Location"))
}

func TestServerImpl_Callback_Hooks(t *testing.T) {
	registry := hooks.Default()
	registry.RegisterPreValidate("test.only_verified", func(identity *oidc.Identity, r *http.Request) bool {
		return identity.EmailVerified != nil && *identity.EmailVerified
	})
	registry.RegisterPreCreate("test.username", func(identity *oidc.Identity, r *http.Request) *models.UserDefaults {
		return &models.UserDefaults{Username: lo.ToPtr("foo")}
	})
	registry.RegisterPreLogin("test.mark", func(user *models.User, r *http.Request) error {
		user.FirstName = "Hooked"
		return nil
	})
	registry.RegisterPreLogin("test.deny", func(user *models.User, r *http.Request) error {
		return errors.New("Login is closed.")
	})
	modify := func(preLogin string) func(*conf.Settings) {
		return func(s *conf.Settings) {
			s.PreValidateCallback = conf.Literal("test.only_verified")
			s.PreCreateCallback = conf.Literal("test.username")
			s.PreLoginCallback = conf.Literal(preLogin)
		}
	}

	t.Run("pre validate rejects", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := oidc.NewMockIProvider(ctrl)
		identity := fooIdentity()
		identity.EmailVerified = nil
		expectExchange(provider, identity)
		env := newTestEnv(t, provider, modify("test.mark"), WithHooks(registry))
		env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

		rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
		assert.Equal(t, "/accounts/login/", rec.Header().Get("Location"))
		assert.Equal(t, []string{"Email address not allowed: foo@example.com. Please contact your administrator."}, env.messages(t))
		assert.Zero(t, env.countUsers(t))
	})

	t.Run("pre create and pre login", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := oidc.NewMockIProvider(ctrl)
		expectExchange(provider, fooIdentity())
		env := newTestEnv(t, provider, modify("test.mark"), WithHooks(registry))
		env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

		rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
		assert.Equal(t, "/secret/", rec.Header().Get("Location"))

		var user models.User
		require.NoError(t, env.db.First(&user, "email = ?", "foo@example.com").Error)
		assert.Equal(t, "foo", user.Username)
		assert.Equal(t, "Hooked", user.FirstName)
	})

	t.Run("pre login denies", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		provider := oidc.NewMockIProvider(ctrl)
		expectExchange(provider, fooIdentity())
		env := newTestEnv(t, provider, modify("test.deny"), WithHooks(registry))
		env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

		rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
		assert.Equal(t, "/accounts/login/", rec.Header().Get("Location"))
		assert.Equal(t, []string{"Login is closed."}, env.messages(t))
		assert.Empty(t, env.session(t).Get(auth.SESSION_KEY_USER_ID))
	})
}

func TestServerImpl_Callback_InternalError(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := oidc.NewMockIProvider(ctrl)
	expectExchange(provider, fooIdentity())
	env := newTestEnv(t, provider, nil)
	// 寫入使用者時資料庫出錯
	require.NoError(t, env.db.Migrator().DropTable(&models.GoogleSSOUser{}, &models.User{}))
	env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

	rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	sess := env.session(t)
	assert.Empty(t, sess.Get(auth.SESSION_KEY_USER_ID))
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_STATE))
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_NONCE))
	assert.Empty(t, sess.Get(SESSION_KEY_SSO_NEXT_URL))
	assert.Equal(t, 1.0, counterValue(t, env.server.metrics.callbacksTotal.WithLabelValues(outcomeError, "internal")))
}

func TestNewServer_InvalidConfiguration(t *testing.T) {
	t.Run("computed option that must be literal", func(t *testing.T) {
		config := testConfig(func(s *conf.Settings) {
			s.ClientSecret = conf.Computed(func(r *http.Request) string { return "secret" })
		})
		_, err := NewServer(context.Background(), config, WithDB(setupDB(t)), WithLogger(discardLogger), WithRegisterer(nil))
		assert.ErrorIs(t, err, conf.ErrConfiguration)
	})

	t.Run("unknown authentication backend", func(t *testing.T) {
		config := testConfig(func(s *conf.Settings) {
			s.AuthenticationBackend = conf.Literal("auth.MissingBackend")
		})
		_, err := NewServer(context.Background(), config, WithDB(setupDB(t)), WithLogger(discardLogger), WithRegisterer(nil))
		assert.ErrorIs(t, err, auth.ErrBackendNotFound)
		assert.ErrorIs(t, err, conf.ErrConfiguration)
	})

	t.Run("unknown hook", func(t *testing.T) {
		config := testConfig(func(s *conf.Settings) {
			s.PreLoginCallback = conf.Literal("hooks.missing")
		})
		_, err := NewServer(context.Background(), config, WithDB(setupDB(t)), WithLogger(discardLogger), WithRegisterer(nil))
		assert.ErrorIs(t, err, hooks.ErrHookNotFound)
	})
}

func TestServerImpl_StartLogin(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, oidc.NewMockIProvider(gomock.NewController(t)), func(s *conf.Settings) {
			s.Enabled = conf.Literal(false)
		})
		rec := env.get("/google_sso/login/")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	disabledTests := []struct {
		name        string
		target      string
		modify      func(*conf.Settings)
		wantMessage string
	}{
		{
			name:   "admin disabled",
			target: "/google_sso/login/",
			modify: func(s *conf.Settings) {
				s.AdminEnabled = conf.Literal(lo.ToPtr(false))
			},
			wantMessage: "Google SSO not enabled for Admin.",
		},
		{
			name:   "admin disabled with admin next",
			target: "/google_sso/login/?next=/admin/users/",
			modify: func(s *conf.Settings) {
				s.AdminEnabled = conf.Literal(lo.ToPtr(false))
			},
			wantMessage: "Google SSO not enabled for Admin.",
		},
		{
			name:   "pages disabled",
			target: "/google_sso/login/?next=/secret/",
			modify: func(s *conf.Settings) {
				s.PagesEnabled = conf.Literal(lo.ToPtr(false))
			},
			wantMessage: "Google SSO not enabled for Pages.",
		},
	}

	for _, tt := range disabledTests {
		t.Run(tt.name, func(t *testing.T) {
			// 沒有設定 AuthURL，導向 Google 時 gomock 會失敗
			env := newTestEnv(t, oidc.NewMockIProvider(gomock.NewController(t)), tt.modify)

			rec := env.get(tt.target)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/accounts/login/", rec.Header().Get("Location"))
			assert.Equal(t, []string{tt.wantMessage}, env.messages(t))
			assert.Empty(t, env.session(t).Get(SESSION_KEY_SSO_STATE))
			assert.Zero(t, counterValue(t, env.server.metrics.loginStarted))
		})
	}

	tests := []struct {
		name     string
		target   string
		headers  []string
		modify   func(*conf.Settings)
		wantNext string
		wantURI  string
	}{
		{
			name:     "default next",
			target:   "/google_sso/login/",
			wantNext: "/admin/",
			wantURI:  callbackRedirectURI,
		},
		{
			name:     "external next is stripped",
			target:   "/google_sso/login/?next=bad-domain.com/secret/",
			wantNext: "/secret/",
			wantURI:  callbackRedirectURI,
		},
		{
			name:     "behind proxy",
			target:   "/google_sso/login/?next=/secret/",
			headers:  []string{"X-Forwarded-Proto", "https"},
			wantNext: "/secret/",
			wantURI:  "https://example.com/google_sso/callback/",
		},
		{
			name:   "admin disabled but page allowed",
			target: "/google_sso/login/?next=/secret/",
			modify: func(s *conf.Settings) {
				s.AdminEnabled = conf.Literal(lo.ToPtr(false))
			},
			wantNext: "/secret/",
			wantURI:  callbackRedirectURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := oidc.NewMockIProvider(ctrl)
			var gotState, gotNonce string
			provider.EXPECT().
				AuthURL(gomock.Any(), gomock.Any(), tt.wantURI, conf.DefaultScopes, gomock.Any()).
				DoAndReturn(func(state, nonce, redirectURL string, scopes []string, opts ...oauth2.AuthCodeOption) string {
					gotState, gotNonce = state, nonce
					return "https://accounts.google.com/o/oauth2/auth?state=" + state
				})
			env := newTestEnv(t, provider, tt.modify)

			rec := env.get(tt.target, tt.headers...)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "https://accounts.google.com/o/oauth2/auth?state="+gotState, rec.Header().Get("Location"))
			assert.Regexp(t, `^st_`, gotState)
			assert.Regexp(t, `^n_`, gotNonce)

			sess := env.session(t)
			assert.Equal(t, gotState, sess.Get(SESSION_KEY_SSO_STATE))
			assert.Equal(t, gotNonce, sess.Get(SESSION_KEY_SSO_NONCE))
			assert.Equal(t, tt.wantNext, sess.Get(SESSION_KEY_SSO_NEXT_URL))
			assert.Equal(t, 10*time.Minute, sess.Expiry())
			assert.False(t, stateExpired(sess.Get(SESSION_KEY_SSO_STATE_EXPIRES_AT)))
		})
	}
}

func TestServerImpl_Logout(t *testing.T) {
	tests := []struct {
		name      string
		revokeErr error
	}{
		{name: "revoked"},
		{name: "revoke failed", revokeErr: errors.New("network down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := oidc.NewMockIProvider(ctrl)
			expectExchange(provider, fooIdentity())
			provider.EXPECT().Revoke(gomock.Any(), "ya29.access-token").Return(tt.revokeErr)
			env := newTestEnv(t, provider, func(s *conf.Settings) {
				s.SaveAccessToken = conf.Literal(true)
			})
			env.seedLogin(t, "st_1", "n_1", "/secret/", time.Now().Add(10*time.Minute))

			rec := env.get("/google_sso/callback/?code=code-1&state=st_1")
			require.Equal(t, "/secret/", rec.Header().Get("Location"))
			assert.Equal(t, "ya29.access-token", env.session(t).Get(SESSION_KEY_ACCESS_TOKEN))

			rec = env.get("/google_sso/logout/")
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/accounts/login/", rec.Header().Get("Location"))
			sess := env.session(t)
			assert.Empty(t, sess.Get(auth.SESSION_KEY_USER_ID))
			assert.Empty(t, sess.Get(SESSION_KEY_ACCESS_TOKEN))

			rec = env.get("/secret/")
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/accounts/login/?next=%2Fsecret%2F", rec.Header().Get("Location"))
		})
	}
}

func TestProviderMessage(t *testing.T) {
	err := fmt.Errorf("[Exchange] %w: (invalid_grant) Bad Request", oidc.ErrProvider)
	assert.Equal(t, "(invalid_grant) Bad Request", providerMessage(err))
	assert.Equal(t, "network down", providerMessage(errors.New("network down")))
}
