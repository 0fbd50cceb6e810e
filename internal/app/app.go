// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysaito/authman/internal/auth"
	"github.com/ysaito/authman/internal/config"
	"github.com/ysaito/authman/internal/database"
	"github.com/ysaito/authman/internal/handler"
	"github.com/ysaito/authman/internal/license"
	"github.com/ysaito/authman/internal/logger"
	"github.com/ysaito/authman/internal/mailer"
	"github.com/ysaito/authman/internal/metrics"
	"github.com/ysaito/authman/internal/middleware"
	"github.com/ysaito/authman/internal/repository"
	"github.com/ysaito/authman/internal/security"
	"github.com/ysaito/authman/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		// 設定読み込み前でもログは使えるようにする
		logger.SetupDefault(w, "info")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newMailer は設定に応じてメール送信プロバイダーを選択する。
// MAIL_WEBHOOK_URLが未設定ならNoop、設定済みならSSRFガード付きWebhook送信。
func newMailer(cfg *config.Config) (mailer.Provider, error) {
	if cfg.MailWebhookURL == "" {
		slog.Info("mail webhook not configured, password reset mails are disabled")
		return mailer.NewNoopProvider(), nil
	}

	guard := security.NewWebhookGuard()
	if err := guard.ValidateURL(cfg.MailWebhookURL); err != nil {
		return nil, fmt.Errorf("invalid mail webhook URL: %w", err)
	}

	client := guard.NewSafeClient(10 * time.Second)
	return mailer.NewWebhookProvider(client, cfg.MailWebhookURL, cfg.BaseURL), nil
}

// newQuotaChecker は設定に応じてレート制限方式を選択する。
// RATE_LIMIT_AUTHが0の場合はゲートを無効化する（フェイルオープン）。
func newQuotaChecker(cfg *config.Config) middleware.QuotaChecker {
	if cfg.RateLimitAuth <= 0 {
		slog.Info("auth rate limit disabled")
		return middleware.AllowAll{}
	}

	slog.Info("auth rate limit enabled",
		slog.Int("limit", cfg.RateLimitAuth),
		slog.Duration("window", cfg.RateLimitWindow),
	)
	return middleware.NewSlidingWindowChecker(cfg.RateLimitAuth, cfg.RateLimitWindow)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	resetRepo := repository.NewPostgresResetRepo(db)
	licenseRepo := repository.NewPostgresLicenseRepo(db)

	// 3. メール送信の初期化
	mail, err := newMailer(cfg)
	if err != nil {
		return err
	}

	// 4. ドメインサービスの初期化
	hasher := auth.NewBcryptHasher()
	authService := auth.NewService(
		userRepo, sessionRepo, hasher,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	resetService := auth.NewResetService(
		userRepo, resetRepo, hasher, mail,
		auth.ResetConfig{TokenTTL: cfg.ResetTokenTTL},
	)
	licenseService := license.NewService(
		licenseRepo,
		license.ServiceConfig{TrialPeriodDays: cfg.TrialPeriodDays},
	)

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. ルーターの構築
	quota := newQuotaChecker(cfg)
	if sw, ok := quota.(*middleware.SlidingWindowChecker); ok {
		defer sw.Stop()
	}

	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Quota:             quota,
		Logger:            slog.Default(),

		AuthService:    authService,
		ResetService:   resetService,
		LicenseService: licenseService,
		AuthConfig: handler.AuthHandlerConfig{
			Production: cfg.IsProduction(),
		},

		Collector: collector,
		Gatherer:  registry,

		HealthCheck: db.Ping,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと不要になったパスワードリセットを定期削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	sessionRepo := repository.NewPostgresSessionRepo(db)
	resetRepo := repository.NewPostgresResetRepo(db)

	job := cleanup.NewCleanupJob(sessionRepo, resetRepo, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting")

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.RunLoop(ctx, time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
