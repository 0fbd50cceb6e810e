package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysaito/authman/internal/metrics"
	"github.com/ysaito/authman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	Quota             middleware.QuotaChecker
	Logger            *slog.Logger

	// サービス
	AuthService    AuthServiceInterface
	ResetService   ResetServiceInterface
	LicenseService LicenseServiceInterface
	AuthConfig     AuthHandlerConfig

	// メトリクス（いずれもnil可）
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer

	// ヘルスチェック（nilの場合は常にOK）
	HealthCheck func() error
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Metrics → Recovery
//
// レート制限ゲートは/auth配下にのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.Collector != nil {
		r.Use(middleware.NewMetricsMiddleware(func(statusCode int, duration time.Duration) {
			deps.Collector.RecordHTTPStatus(statusCode)
			deps.Collector.RecordRequestLatency(duration)
		}))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.ResetService, deps.Collector, deps.AuthConfig)
	licenseHandler := NewLicenseHandler(deps.LicenseService)

	// 認証ルート。レート制限ゲートはハンドラーより前、パース前に効く
	r.Route("/auth", func(r chi.Router) {
		var onReject func()
		if deps.Collector != nil {
			onReject = deps.Collector.RecordRateLimitRejection
		}
		r.Use(middleware.NewRateLimitMiddleware(deps.Quota, onReject))

		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Get("/session", authHandler.GetSession)
		r.Get("/user", authHandler.GetUser)
		r.Patch("/user", authHandler.UpdateUser)
		r.Post("/signout", authHandler.SignOut)
		r.Post("/reset-password", authHandler.RequestReset)
		r.Post("/reset-password/confirm", authHandler.ConfirmReset)
	})

	// ライセンス作成（サービスロール向け）
	r.Post("/license", licenseHandler.Create)

	// 運用エンドポイント
	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// healthHandler はヘルスチェックエンドポイントのハンドラーを返す。
func healthHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
