// 參考 https://developers.google.com/identity/openid-connect/openid-connect#obtainuserinfo
package oidc

// Identity 是 Google userinfo 端點回傳的使用者資料
// EmailVerified 與 Locale 可能不存在，以指標區分
type Identity struct {
	Subject       string  `json:"sub"`
	LegacyID      string  `json:"id"`
	Email         string  `json:"email"`
	EmailVerified *bool   `json:"email_verified"`
	Name          string  `json:"name"`
	GivenName     string  `json:"given_name"`
	FamilyName    string  `json:"family_name"`
	Picture       string  `json:"picture"`
	Locale        *string `json:"locale"`
	HostedDomain  string  `json:"hd"`

	AccessToken string `json:"-"`
}

// LocaleOr 回傳 locale，不存在或為空時回傳 fallback
func (i *Identity) LocaleOr(fallback string) string {
	if i.Locale == nil || *i.Locale == "" {
		return fallback
	}
	return *i.Locale
}
