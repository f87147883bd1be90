package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/supply/internal/auth"
	"github.com/hitoshi/supply/internal/config"
	"github.com/hitoshi/supply/internal/database"
	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/handler"
	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/logger"
	"github.com/hitoshi/supply/internal/metrics"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/product"
	"github.com/hitoshi/supply/internal/repository"
	"github.com/hitoshi/supply/internal/route"
	"github.com/hitoshi/supply/internal/security"
	"github.com/hitoshi/supply/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
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
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// 軽量サブコマンドはフル初期化をスキップする
	if cmd == CommandRoutes {
		return runRoutes(w)
	}
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	return database.Connect(ctx, cfg.DatabaseURL, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) database.PoolConfig {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns
	return pool
}

// checkSchema はAPIサーバーの起動前にスキーマの状態を確認する。
// 途中で失敗したマイグレーションが残っている場合は起動しない。
// 未適用のマイグレーションがある場合は警告のみとし、migrateコマンドの完了を待たない。
func checkSchema(ctx context.Context, db *sql.DB) error {
	version, err := database.CheckSchema(ctx, db)
	switch {
	case errors.Is(err, database.ErrDirtySchema):
		return fmt.Errorf("refusing to serve: %w", err)
	case err != nil:
		slog.Warn("database schema is not up to date, run the migrate command",
			slog.String("error", err.Error()),
		)
	default:
		slog.Info("database schema verified", slog.Uint64("version", uint64(version)))
	}
	return nil
}

// Server はワイヤリング済みのHTTPハンドラーと、停止時に解放するリソースを保持する。
type Server struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのgoroutineを停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// dbへの接続はリクエスト処理時まで行わない。
// regにはガードとHTTPのメトリクスを登録し、/metricsで公開する。
func NewServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) (*Server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	productRepo := repository.NewPostgresProductRepo(db)

	// 2. IDプロバイダーの初期化（セッションCookieを優先し、次にBearerトークン）
	keys := identity.NewJWKSKeySource(identity.JWKSKeySourceConfig{
		URL:             cfg.FirebaseJWKSURL,
		RefreshInterval: cfg.JWKSRefreshInterval,
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
	})
	verifier := identity.NewTokenVerifier(identity.TokenVerifierConfig{
		ProjectID: cfg.FirebaseProjectID,
		Keys:      keys,
	})
	provider := identity.Chain{
		identity.NewSessionProvider(sessionRepo, userRepo),
		identity.NewTokenProvider(verifier, log),
	}

	// 3. メトリクスとアクセスガード
	collector := metrics.NewCollector(reg)

	table, err := route.DefaultTable()
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}
	g, err := guard.New(guard.Config{
		AdminUID:        cfg.AdminUID,
		IdentityTimeout: cfg.IdentityTimeout,
	}, provider, collector, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create access guard: %w", err)
	}

	// 4. ドメインサービスの初期化
	authService := auth.NewService(verifier, userRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})
	productService := product.NewService(productRepo, userRepo, security.NewProductSanitizer())

	// 5. ルーターの構築（設定はreq/min単位）
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HealthChecker: db,

		Metrics:  collector,
		Gatherer: reg,

		Routes:           table,
		Guard:            g,
		Navigator:        guard.NewNavigator(g),
		IdentityProvider: provider,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:    cfg.CookieDomain,
			CookieSecure:    cfg.CookieSecure,
			SessionMaxAge:   cfg.SessionMaxAge,
			IdentityTimeout: cfg.IdentityTimeout,
		},

		ProductService: productService,
	})

	return &Server{Handler: router, rateLimiter: rl}, nil
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバーと期限切れセッションのクリーンアップを同じerrgroupで管理し、
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	if err := checkSchema(ctx, db); err != nil {
		return err
	}

	srv, err := NewServer(cfg, db, newRegistry(), slog.Default())
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default()).Start(gctx, cfg.SessionCleanupInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、ctxがキャンセルされると停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	if err := cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default()).Start(ctx, cfg.SessionCleanupInterval); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.RedactURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(result.From)),
		slog.Uint64("to_version", uint64(result.To)),
		slog.Bool("applied", result.Applied()),
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
