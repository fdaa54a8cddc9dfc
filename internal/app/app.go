package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/newspipe/internal/classify"
	"github.com/hitoshi/newspipe/internal/config"
	"github.com/hitoshi/newspipe/internal/database"
	"github.com/hitoshi/newspipe/internal/dedup"
	"github.com/hitoshi/newspipe/internal/handler"
	"github.com/hitoshi/newspipe/internal/logger"
	"github.com/hitoshi/newspipe/internal/metrics"
	"github.com/hitoshi/newspipe/internal/middleware"
	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/monitor"
	"github.com/hitoshi/newspipe/internal/pipeline"
	"github.com/hitoshi/newspipe/internal/repository"
	"github.com/hitoshi/newspipe/internal/scrape"
	"github.com/hitoshi/newspipe/internal/security"
	"github.com/hitoshi/newspipe/internal/worker/cleanup"
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
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
	sourceRepo := repository.NewPostgresSourceRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)
	jobLogRepo := repository.NewPostgresJobLogRepo(db)
	contentRepo := repository.NewPostgresContentRepo(db)
	archiveRepo := repository.NewPostgresArchiveRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. スクレイピング層の初期化
	retryPolicy := scrape.DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		retryPolicy.BaseDelay = cfg.RetryBaseDelay
	}
	extractor := scrape.NewExtractor()
	fetcher := scrape.NewFetcher(
		ssrfGuard, extractor, slog.Default(),
		retryPolicy, cfg.ScrapeTimeout, cfg.ScrapeMaxSize,
	)

	// 5. メトリクスとリソースモニターの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	resMonitor := monitor.NewResourceMonitor(contentRepo, slog.Default(), monitor.Config{
		Interval:         cfg.MonitorInterval,
		MemorySoftLimit:  cfg.MemorySoftLimitBytes,
		StorageHighWater: cfg.StorageHighWaterBytes,
	})

	// 6. パイプラインの初期化
	classifier := classify.NewClassifier()
	detector := dedup.NewDetector(contentRepo)

	orch := pipeline.NewOrchestrator(
		sourceRepo, jobRepo, jobLogRepo, contentRepo,
		fetcher, classifier, sanitizer, detector,
		resMonitor, collector, slog.Default(),
		cfg.ScrapeMaxConcurrent, cfg.SourceFailureRatio,
	)
	jobService := pipeline.NewJobService(orch, jobRepo, jobLogRepo)

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitTriggerはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitTrigger > 0 {
		rateLimiterCfg.TriggerRate = rate.Limit(float64(cfg.RateLimitTrigger) / 60.0)
		rateLimiterCfg.TriggerBurst = cfg.RateLimitTrigger
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),

		JobService: jobService,

		ContentStore: contentRepo,
		ArchiveStore: archiveRepo,

		SourceRepo: sourceRepo,

		DB:       db,
		Gatherer: registry,
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

	// リソースモニターをバックグラウンドで起動
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go resMonitor.Start(monitorCtx)

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

	// 実行中のジョブの終了ステータスが永続化されるまで待つ
	orch.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップマネージャーとリソースモニターを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	contentRepo := repository.NewPostgresContentRepo(db)
	archiveRepo := repository.NewPostgresArchiveRepo(db)

	// 3. メトリクスとリソースモニターの初期化
	collector := metrics.NewCollector(prometheus.NewRegistry())

	resMonitor := monitor.NewResourceMonitor(contentRepo, slog.Default(), monitor.Config{
		Interval:         cfg.MonitorInterval,
		MemorySoftLimit:  cfg.MemorySoftLimitBytes,
		StorageHighWater: cfg.StorageHighWaterBytes,
	})

	// 4. クリーンアップマネージャーの初期化
	cleanupMgr := cleanup.NewCleanupManager(
		contentRepo, archiveRepo, resMonitor, collector, slog.Default(),
		cleanup.Config{
			RetentionDays: cfg.RetentionDays,
			VolumeCap:     cfg.VolumeCap,
			BatchSize:     cfg.CleanupBatchSize,
			Interval:      cfg.CleanupInterval,
		},
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("retention_days", cfg.RetentionDays),
		slog.Int("volume_cap", cfg.VolumeCap),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// リソースモニターをバックグラウンドで起動
	go resMonitor.Start(ctx)

	// クリーンアップマネージャーをメインgoroutineで実行（ブロッキング）
	cleanupMgr.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用し、SOURCES_FILEが指定されて
// いる場合はソース定義YAMLを冪等に投入する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")

	if cfg.SourcesFile != "" {
		if err := seedSources(cfg); err != nil {
			return fmt.Errorf("source seeding failed: %w", err)
		}
	}

	return nil
}

// seedSources はソース定義YAMLをデータベースに投入する。
// ドメインをキーとして冪等に動作し、既存ドメインのソースはスキップする。
func seedSources(cfg *config.Config) error {
	seeds, err := config.LoadSeedSources(cfg.SourcesFile)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	sourceRepo := repository.NewPostgresSourceRepo(db)
	ctx := context.Background()

	created := 0
	for _, seed := range seeds {
		domain := strings.ToLower(seed.Domain)

		existing, err := sourceRepo.FindByDomain(ctx, domain)
		if err != nil {
			return fmt.Errorf("failed to look up source %q: %w", domain, err)
		}
		if existing != nil {
			slog.Info("source already exists, skipping",
				slog.String("domain", domain),
			)
			continue
		}

		respectRobots := true
		if seed.RespectRobots != nil {
			respectRobots = *seed.RespectRobots
		}

		now := time.Now()
		src := &model.Source{
			ID:              uuid.NewString(),
			Name:            seed.Name,
			Domain:          domain,
			FeedURL:         seed.FeedURL,
			DefaultCategory: seed.DefaultCategory,
			RespectRobots:   respectRobots,
			DelayMs:         seed.DelayMs,
			UserAgent:       seed.UserAgent,
			TimeoutMs:       seed.TimeoutMs,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := sourceRepo.Create(ctx, src); err != nil {
			return fmt.Errorf("failed to create source %q: %w", domain, err)
		}
		created++
	}

	slog.Info("source seeding completed",
		slog.Int("created", created),
		slog.Int("total", len(seeds)),
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
