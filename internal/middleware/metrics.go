package middleware

import (
	"net/http"
	"time"
)

// NewMetricsMiddleware はレスポンスのステータスコードとレイテンシを
// recordコールバックに通知するミドルウェアを返す。
func NewMetricsMiddleware(record func(statusCode int, duration time.Duration)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			record(rec.statusCode, time.Since(start))
		})
	}
}
