package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/retinaseo/internal/auth"
	"github.com/hitoshi/retinaseo/internal/billing"
	"github.com/hitoshi/retinaseo/internal/channel"
	"github.com/hitoshi/retinaseo/internal/config"
	"github.com/hitoshi/retinaseo/internal/database"
	"github.com/hitoshi/retinaseo/internal/generation"
	"github.com/hitoshi/retinaseo/internal/handler"
	"github.com/hitoshi/retinaseo/internal/logger"
	"github.com/hitoshi/retinaseo/internal/metrics"
	"github.com/hitoshi/retinaseo/internal/middleware"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/repository"
	"github.com/hitoshi/retinaseo/internal/security"
	"github.com/hitoshi/retinaseo/internal/session"
	"github.com/hitoshi/retinaseo/internal/user"
	"github.com/hitoshi/retinaseo/internal/worker/cleanup"
)

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

	// 3. LOG_LEVELを反映
	logger.SetLevel(w, cfg.LogLevel)

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

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		action, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, action)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, closeDeps, err := buildHandler(cfg, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer closeDeps()

	// 生成APIの応答を待つため、WriteTimeoutは生成タイムアウトより長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// buildHandler は設定に従って全サービスを組み立て、ルーターを返す。
// 返り値のcloseはサーバー停止時にRedis接続とレートリミッターを解放する。
func buildHandler(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, func(), error) {
	log := slog.Default()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	genRepo := repository.NewPostgresGenerationRepo(db)

	// 2. メトリクスとセキュリティ
	collector := metrics.NewCollector(reg)
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. 認証
	signupCredits := 0
	if free, ok := billing.Lookup(model.PlanFree); ok {
		signupCredits = free.Credits
	}
	authService := auth.NewService(oauthProviders(cfg), userRepo, identRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		SignupCredits: signupCredits,
	})

	// 4. 生成
	var locker generation.Locker = generation.NewMemoryLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { client.Close() })
		locker = generation.NewRedisLocker(client)
		log.Info("using redis generation lock")
	}

	generator := newGenerator(cfg, log)
	// ロックはプロセスが落ちても生成タイムアウト後に必ず外れる
	genService := generation.NewService(generator, locker, genRepo, sanitizer, collector, log, generation.ServiceConfig{
		Timeout: cfg.GenerationTimeout,
		LockTTL: cfg.GenerationTimeout + 30*time.Second,
	})

	// 5. 課金
	gateway, err := newGateway(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	billingService := billing.NewService(userRepo, gateway, collector, log)

	// 6. プロフィールとチャンネル
	userService := user.NewService(userRepo, sessionRepo, genRepo, authService)
	channelReader := channel.NewReader(ssrfGuard, collector, log, cfg.ChannelFetchTimeout)

	// 7. ビューとミドルウェア
	renderer, err := handler.NewRenderer(log)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     middleware.PerMinute(cfg.RateLimitGeneral),
		GeneralBurst:    cfg.RateLimitGeneral,
		AuthRate:        middleware.PerMinute(cfg.RateLimitAuth),
		AuthBurst:       cfg.RateLimitAuth,
		GenerationRate:  middleware.PerMinute(cfg.RateLimitGeneration),
		GenerationBurst: cfg.RateLimitGeneration,
	})
	closers = append(closers, limiter.Stop)

	corsOrigin := ""
	if cfg.CORSAllowedOrigin != "" && !sameOrigin(cfg.CORSAllowedOrigin, cfg.BaseURL) {
		corsOrigin = cfg.CORSAllowedOrigin
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  db,

		Sessions: &session.Factory{
			Auth:  authService,
			Codec: session.NewTokenCodec(cfg.SessionSecret),
			Cookie: session.CookieOptions{
				MaxAge: cfg.SessionMaxAge,
				Secure: cfg.CookieSecure,
				Domain: cfg.CookieDomain,
			},
			InitTimeout: cfg.InitTimeout,
			Logger:      log,
		},
		RateLimiter:       limiter,
		CORSAllowedOrigin: corsOrigin,
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		TrustProxyHeaders: cfg.TrustedProxy,

		Renderer: renderer,

		OAuth:       authService,
		Generations: genService,
		Channels:    channelReader,
		Billing:     billingService,
		Users:       userService,
	})

	return router, closeAll, nil
}

// newGenerator はGENERATION_API_URLが設定されていればHTTP生成器を、なければモック生成器を返す。
func newGenerator(cfg *config.Config, log *slog.Logger) generation.Generator {
	if cfg.GenerationAPIURL == "" {
		log.Warn("GENERATION_API_URL is not set; using the mock generator",
			slog.Duration("delay", cfg.MockGenerationDelay),
		)
		return &generation.MockGenerator{Delay: cfg.MockGenerationDelay}
	}
	return generation.NewHTTPGenerator(&http.Client{Timeout: cfg.GenerationTimeout}, log, generation.HTTPConfig{
		BaseURL: cfg.GenerationAPIURL,
		APIKey:  cfg.GenerationAPIKey,
		Model:   cfg.GenerationModel,
	})
}

// newGateway はSTRIPE_SECRET_KEYが設定されていればStripe決済を、なければモック決済を返す。
func newGateway(cfg *config.Config) (billing.Gateway, error) {
	if cfg.StripeSecretKey == "" {
		return &billing.MockGateway{Delay: cfg.MockPaymentDelay}, nil
	}
	return billing.NewStripeGateway(cfg.StripeSecretKey)
}

// oauthProviders は資格情報が設定されたソーシャルログインのみを有効にする。
func oauthProviders(cfg *config.Config) map[string]auth.OAuthProvider {
	providers := map[string]auth.OAuthProvider{}
	if cfg.GoogleEnabled() {
		providers[auth.ProviderGoogle] = auth.NewGoogleOAuthProvider(auth.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}
	if cfg.FacebookEnabled() {
		providers[auth.ProviderFacebook] = auth.NewFacebookOAuthProvider(auth.OAuthConfig{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			RedirectURL:  cfg.FacebookRedirectURL,
		})
	}
	return providers
}

// sameOrigin は2つのURLのスキームとホストが一致するかを返す。
// 同一オリジンの場合はCORSヘッダーを付けない。
func sameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}

// runWorker はワーカーモードで起動する。
// 起動直後と以降24時間ごとにクリーンアップジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.HistoryRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Int("history_retention_days", cfg.HistoryRetentionDays),
	)

	runDaily(ctx, 24*time.Hour, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	slog.Info("worker stopped gracefully")
	return nil
}

// runDaily はjobを即時に1回実行し、以降intervalごとにctxが終了するまで繰り返す。
func runDaily(ctx context.Context, interval time.Duration, job func(context.Context)) {
	job(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// runMigrate はactionに従ってマイグレーションを適用・取り消し・確認する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", action.Name),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		version uint
		err     error
	)
	switch action.Name {
	case "down":
		version, err = database.RollbackMigrations(cfg.DatabaseURL, action.Steps)
	case "version":
		version, err = database.MigrationVersion(cfg.DatabaseURL)
	default:
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.String("action", action.Name),
		slog.Uint64("version", uint64(version)),
	)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	u.RawQuery = ""
	return u.String()
}
