// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/snapboard/internal/auth"
	"github.com/hitoshi/snapboard/internal/config"
	"github.com/hitoshi/snapboard/internal/database"
	"github.com/hitoshi/snapboard/internal/handler"
	"github.com/hitoshi/snapboard/internal/interaction"
	"github.com/hitoshi/snapboard/internal/logger"
	"github.com/hitoshi/snapboard/internal/member"
	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/repository"
	"github.com/hitoshi/snapboard/internal/security"
	"github.com/hitoshi/snapboard/internal/storage"
	"github.com/hitoshi/snapboard/internal/token"
	"github.com/hitoshi/snapboard/internal/worker/cleanup"
)

const (
	dbConnectAttempts = 10
	dbConnectWait     = 2 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, cmd Command) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo, string(cmd))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel), string(cmd))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMでキャンセルされるコンテキストを用意し、サブコマンドを実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck("http://localhost:" + port + "/health")
	}

	cfg, err := Init(w, cmd)
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
		return runWorker(ctx, cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// components はAPIサーバーとワーカーで共有する依存関係一式。
type components struct {
	store        *repository.PostgresStore
	objects      storage.ObjectStore
	registry     *prometheus.Registry
	collector    *metrics.Collector
	auth         *auth.Service
	members      *member.Service
	interactions *interaction.Service
}

// buildComponents はDB接続とオブジェクトストアからサービス層までを組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB, objects storage.ObjectStore) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. 永続化層
	store := repository.NewPostgresStore(db)

	// 3. トークン
	codec, err := token.NewCodec([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	// 4. ドメインサービス
	authService := auth.NewService(store.Members(), codec, auth.ServiceConfig{
		TokenTTL: cfg.TokenTTL,
	})
	memberService := member.NewService(store.Members(), objects, member.Config{
		BcryptCost: cfg.BcryptCost,
		PresignTTL: cfg.PresignTTL,
	})
	interactionService := interaction.NewService(store, objects, security.NewTextSanitizer(), collector, interaction.Config{
		PresignTTL: cfg.PresignTTL,
	})

	return &components{
		store:        store,
		objects:      objects,
		registry:     registry,
		collector:    collector,
		auth:         authService,
		members:      memberService,
		interactions: interactionService,
	}, nil
}

// newAPIRouter はAPIサーバーのルーターを構築する。
func newAPIRouter(cfg *config.Config, c *components, health handler.HealthChecker) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		IdentityResolver:  c.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		Metrics:           c.collector,
		MetricsHandler:    metrics.Handler(c.registry),
		HealthChecker:     health,

		AuthService:   c.auth,
		MemberService: c.members,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			MaxUploadSize: cfg.MaxUploadSize,
		},

		InteractionService: c.interactions,
	})
}

// openDependencies はDB接続とS3クライアントを開く。
func openDependencies(ctx context.Context, cfg *config.Config) (*sql.DB, *storage.S3Store, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), dbConnectAttempts, dbConnectWait)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	objects, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create object store: %w", err)
	}
	return db, objects, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ctxがキャンセルされるまでHTTPサーバーを実行する。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続・オブジェクトストア
	db, objects, err := openDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. サービス層
	c, err := buildComponents(cfg, db, objects)
	if err != nil {
		return err
	}

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newAPIRouter(cfg, c, db),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server)
}

// runWorker はワーカーモードで起動する。
// 孤立オブジェクトの削除ジョブを定期実行し、/healthと/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続・オブジェクトストア
	db, objects, err := openDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, objects)
	if err != nil {
		return err
	}

	// 2. 孤立オブジェクト削除ジョブ
	sweeper := cleanup.NewOrphanSweeper(c.objects, c.store, c.collector, slog.Default())
	sweeper.GracePeriod = cfg.OrphanGracePeriod

	// 3. 運用エンドポイント
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler(c.registry))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.OrphanSweepInterval),
		slog.Duration("grace_period", cfg.OrphanGracePeriod),
	)

	err = superviseWorker(ctx, server, func(ctx context.Context) {
		sweeper.RunEvery(ctx, cfg.OrphanSweepInterval)
	})
	if err != nil {
		slog.Error("worker stopped", slog.String("error", err.Error()))
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// superviseWorker はジョブと運用サーバーを並行して実行する。
// サーバーが終了した場合（起動失敗を含む）はジョブも停止させ、ジョブの終了を待ってから戻る。
func superviseWorker(ctx context.Context, server *http.Server, job func(ctx context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job(ctx)
	}()

	err := serveUntilDone(ctx, server)
	cancel()
	<-jobDone
	return err
}

// serveUntilDone はctxがキャンセルされるまでサーバーを実行し、グレースフルシャットダウンを行う。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args []string) error {
	action, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("current schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
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
	return u.Redacted()
}
