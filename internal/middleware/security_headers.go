package middleware

import "net/http"

// NewSecurityHeadersMiddleware は全レスポンスに防御的なHTTPヘッダーを付与するミドルウェアを返す。
// このサーバーはJSONのみを返すため、ブラウザ機能はすべて不許可にする。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			// JSON APIにリファラー情報は不要
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// セッショントークンを含むレスポンスを中間キャッシュに残さない
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
