package conf

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() Settings {
	s := Default()
	s.ClientID = Literal("client-id")
	s.ClientSecret = Literal("client-secret")
	return s
}

func TestValue_Resolve(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/admin/", nil)

	literal := Literal("static")
	assert.False(t, literal.IsComputed())
	assert.Equal(t, "static", literal.Resolve(r))

	computed := Computed(func(r *http.Request) string { return r.URL.Path })
	assert.True(t, computed.IsComputed())
	assert.Equal(t, "/admin/", computed.Resolve(r))
}

func TestSettings_Default(t *testing.T) {
	resolved := Default().Resolve(nil)

	assert.True(t, resolved.Enabled)
	assert.Nil(t, resolved.AdminEnabled)
	assert.Nil(t, resolved.PagesEnabled)
	assert.Equal(t, DefaultScopes, resolved.Scopes)
	assert.Equal(t, 10*time.Minute, resolved.Timeout)
	assert.Empty(t, resolved.AllowableDomains)
	assert.Equal(t, time.Hour, resolved.SessionCookieAge)
	assert.True(t, resolved.AutoCreateUsers)
	assert.Equal(t, "/admin/", resolved.NextURL)
	assert.Equal(t, "/admin/", resolved.LoginFailedURL)
	assert.Equal(t, "en", resolved.DefaultLocale)
	assert.Equal(t, "consent", resolved.AuthorizationPrompt)
	assert.True(t, resolved.SaveBasicGoogleInfo)
	assert.False(t, resolved.ShowFailedLoginMessage)
	assert.Equal(t, DefaultText, resolved.Text)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Settings)
		wantErr    bool
		wantOption string
	}{
		{
			name:   "valid",
			modify: func(s *Settings) {},
		},
		{
			name: "computed callable option",
			modify: func(s *Settings) {
				s.NextURL = Computed(func(r *http.Request) string { return "/" })
				s.AdminEnabled = Computed(func(r *http.Request) *bool { return lo.ToPtr(true) })
			},
		},
		{
			name: "computed enabled flag",
			modify: func(s *Settings) {
				s.Enabled = Computed(func(r *http.Request) bool { return true })
			},
			wantErr:    true,
			wantOption: "GOOGLE_SSO_ENABLED",
		},
		{
			name: "computed client secret",
			modify: func(s *Settings) {
				s.ClientSecret = Computed(func(r *http.Request) string { return "secret" })
			},
			wantErr:    true,
			wantOption: "GOOGLE_SSO_CLIENT_SECRET",
		},
		{
			name: "computed pre login hook",
			modify: func(s *Settings) {
				s.PreLoginCallback = Computed(func(r *http.Request) string { return "hooks.pre_login_user" })
			},
			wantErr:    true,
			wantOption: "GOOGLE_SSO_PRE_LOGIN_CALLBACK",
		},
		{
			name: "missing client id",
			modify: func(s *Settings) {
				s.ClientID = Literal("")
			},
			wantErr:    true,
			wantOption: "GOOGLE_SSO_CLIENT_ID",
		},
		{
			name: "missing client id while disabled",
			modify: func(s *Settings) {
				s.Enabled = Literal(false)
				s.ClientID = Literal("")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(&s)
			err := s.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr))
			assert.Equal(t, tt.wantOption, configErr.Option)
		})
	}
}

func TestSettings_Resolve(t *testing.T) {
	s := validSettings()
	s.LoginFailedURL = Computed(func(r *http.Request) string {
		if r.Header.Get("X-Tenant") == "acme" {
			return "/acme/login/"
		}
		return "/login/"
	})

	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.Header.Set("X-Tenant", "acme")
	resolved := s.Resolve(r)
	assert.Equal(t, "/acme/login/", resolved.LoginFailedURL)
	assert.Equal(t, "example.com", resolved.SiteDomain)

	s.SiteDomain = Literal("site.example.com")
	assert.Equal(t, "site.example.com", s.Resolve(r).SiteDomain)
}

func TestSettings_Logger(t *testing.T) {
	s := validSettings()
	assert.NotNil(t, s.Logger(nil))

	s.EnableLogs = Literal(false)
	logger := s.Logger(nil)
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("discarded") })
}
