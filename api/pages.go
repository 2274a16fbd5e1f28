package api

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/samber/lo"

	"googlesso/adapters/session"
	"googlesso/auth"
	"googlesso/conf"
	"googlesso/models"
)

//go:embed templates
var templateFS embed.FS

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

// ProviderButton 是登入頁面上的 SSO 按鈕
type ProviderButton struct {
	Name     string `json:"name"`
	LogoURL  string `json:"logo_url"`
	Text     string `json:"text"`
	LoginURL string `json:"login_url"`
	CSSURL   string `json:"css_url"`
}

type ProvidersResponse struct {
	Providers []ProviderButton `json:"providers"`
	ShowForm  bool             `json:"show_form"`
}

type loginPageMessage struct {
	Level session.MessageLevel
	// 寫入 session 前已經過濾過
	Text template.HTML
}

type loginPageData struct {
	Providers []ProviderButton
	Messages  []loginPageMessage
	ShowForm  bool
	User      *models.User
	LogoutURL string
}

// providerButtons 回傳啟用中的 SSO 按鈕，登入網址帶上 next
func (impl *ServerImpl) providerButtons(settings conf.Resolved, next string) []ProviderButton {
	if !settings.Enabled {
		return []ProviderButton{}
	}
	loginURL := impl.route("login")
	if next != "" {
		loginURL += "?" + url.Values{"next": {next}}.Encode()
	}
	return []ProviderButton{{
		Name:     "google",
		LogoURL:  settings.LogoURL,
		Text:     settings.Text,
		LoginURL: loginURL,
		CSSURL:   impl.config.RoutePrefix + "/static/google_button.css",
	}}
}

// Providers 回傳登入頁面需要顯示的 SSO 按鈕
// (GET <prefix>/providers/)
func (impl *ServerImpl) Providers(c *gin.Context) {
	settings := impl.config.SSO.Resolve(c.Request)
	c.JSON(http.StatusOK, ProvidersResponse{
		Providers: impl.providerButtons(settings, c.Query("next")),
		ShowForm:  settings.ShowFormOnAdminPage,
	})
}

// LoginPage 顯示登入按鈕與登入流程留下的訊息
// (GET /accounts/login/)
func (impl *ServerImpl) LoginPage(c *gin.Context) {
	const op = "LoginPage"
	settings := impl.config.SSO.Resolve(c.Request)
	sess, err := session.GetSession(c)
	if err != nil {
		impl.logger.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	messages, err := session.PopMessages(sess)
	if err != nil {
		impl.logger.Warn("Fail to read messages", slog.String("op", op), slog.Any("error", err))
	}
	if len(messages) > 0 {
		if err := sess.Save(); err != nil {
			impl.logger.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
		}
	}
	user, _ := auth.CurrentUser(c)

	c.Render(http.StatusOK, render.HTML{
		Template: loginTemplate,
		Name:     "login.html",
		Data: loginPageData{
			Providers: impl.providerButtons(settings, c.Query("next")),
			Messages: lo.Map(messages, func(m session.Message, _ int) loginPageMessage {
				return loginPageMessage{Level: m.Level, Text: template.HTML(m.Text)}
			}),
			ShowForm:  settings.ShowFormOnAdminPage,
			User:      user,
			LogoutURL: impl.route("logout"),
		},
	})
}

// ButtonCSS 回傳 Google 按鈕的樣式
func (impl *ServerImpl) ButtonCSS(c *gin.Context) {
	c.FileFromFS("templates/google_button.css", http.FS(templateFS))
}
