package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersConfig はセキュリティヘッダーの設定。
type SecurityHeadersConfig struct {
	// HSTS はStrict-Transport-Securityを付与するか。HTTPS配信時のみ有効にする。
	HSTS bool
	// NoStorePrefix に前方一致するパスのレスポンスはキャッシュさせない。
	NoStorePrefix string
}

// NewSecurityHeadersMiddleware はJSON APIとして配信するレスポンスにセキュリティヘッダーを付与する。
// APIはHTMLを返さないため、CSPはすべてのリソース読み込みとフレーム埋め込みを禁止する。
func NewSecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			// 認証状態によって内容が変わるため共有キャッシュに載せない
			if cfg.NoStorePrefix != "" && strings.HasPrefix(r.URL.Path, cfg.NoStorePrefix) {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
