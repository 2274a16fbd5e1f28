package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"googlesso/conf"
)

// redirectURI 產生 Google 導回的 callback 網址
// 反向代理後方以 X-Forwarded-Proto 判斷 scheme
func redirectURI(r *http.Request, settings conf.Resolved, callbackPath string) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	} else if r.TLS != nil {
		scheme = "https"
	}
	host, _ := lo.Coalesce(settings.CallbackDomain, settings.SiteDomain, r.Host)
	return scheme + "://" + host + callbackPath
}

// normalizeNext 將登入後的導向目標限制在同一個網站
// 只保留路徑，外部網址的 host 會被丟棄
func normalizeNext(raw, fallback string) string {
	next := strings.TrimSpace(raw)
	if next == "" {
		return fallback
	}
	if !strings.HasPrefix(next, "http") && !strings.HasPrefix(next, "/") {
		next = "//" + next
	}
	u, err := url.Parse(next)
	if err != nil || u.Path == "" {
		return "/"
	}
	// "//host" 或 "/\host" 會被瀏覽器當成其他網站
	return "/" + strings.TrimLeft(u.Path, "/\\")
}

// isAdminTarget 檢查任一個導向目標是否在管理介面底下
func isAdminTarget(adminRoute string, targets ...string) bool {
	if adminRoute == "" {
		return false
	}
	return lo.SomeBy(targets, func(target string) bool {
		return target != "" && strings.HasPrefix(target, adminRoute)
	})
}
