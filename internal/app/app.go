// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
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
	"golang.org/x/time/rate"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/config"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/handler"
	"github.com/hitoshi/buildia/internal/identity"
	"github.com/hitoshi/buildia/internal/logger"
	"github.com/hitoshi/buildia/internal/metrics"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/payment"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/role"
	"github.com/hitoshi/buildia/internal/security"
	"github.com/hitoshi/buildia/internal/session"
)

// signInPath はセッションガードが未サインイン時にリダイレクトするパス。
const signInPath = "/signin"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.String("base_url", cfg.BaseURL),
	)

	return runServe(cfg)
}

// runServe はBFFサーバーモードで起動する。
// IDプロバイダー・バックエンド・決済プロセッサーへのクライアントと
// セッションストア・キャッシュを含む全依存関係をワイヤリングし、
// HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()
	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}

	// 1. メトリクスコレクター
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 2. IDプロバイダークライアントとセッションストア
	oauth := identity.NewGoogleOAuthExchanger(identity.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	provider := identity.NewClient(upstreamClient, identity.ClientConfig{
		BaseURL: cfg.IdentityBaseURL,
		APIKey:  cfg.IdentityAPIKey,
	}, oauth, log)

	store := session.NewStore(provider, log)
	if err := store.Start(); err != nil {
		return fmt.Errorf("failed to start session store: %w", err)
	}
	defer store.Close()

	// 3. バックエンドクライアントとクエリキャッシュ
	backend := api.NewClient(upstreamClient, cfg.BackendBaseURL, log, collector)
	secure := api.NewSecureClient(backend, store)
	cache := querycache.New(log, collector, cfg.CacheRetryDelay)

	// 4. ロール解決とセッションガード
	resolver := role.NewResolver(secure, store, cache, log, cfg.RoleStaleFor)
	g := guard.New(store, resolver, log, signInPath, cfg.CookieSecure)

	// 5. 決済プロセッサー
	processor := payment.NewProcessorClient(upstreamClient, cfg.PaymentBaseURL, cfg.PaymentSecretKey, log)

	// 6. レート制限（ユーザー単位。req/min -> req/sec に変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.PaymentRate = rate.Limit(float64(cfg.RateLimitPayment) / 60.0)
	rateLimiterCfg.PaymentBurst = cfg.RateLimitPayment
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg, middleware.RemoteIPKey)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusObserver:    collector,
		MetricsHandler:    metrics.Handler(prometheus.DefaultGatherer),

		Store: store,
		Guard: g,
		Roles: resolver,

		Backend: backend,
		Secure:  secure,
		Cache:   cache,

		OAuth:      oauth,
		PhotoGuard: security.NewPhotoURLGuard(true, cfg.UpstreamTimeout),
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},

		Processor: processor,
		PaymentConfig: handler.PaymentHandlerConfig{
			PublicKey: cfg.PaymentPublicKey,
			StaleFor:  cfg.CacheStaleDefault,
		},

		Sanitizer: security.NewAnnouncementSanitizer(),

		StaleFor:     cfg.CacheStaleDefault,
		CookieSecure: cfg.CookieSecure,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
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
		slog.Info("BFF server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down BFF server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("BFF server stopped gracefully")
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
