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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/impostor/internal/config"
	"github.com/hitoshi/impostor/internal/database"
	"github.com/hitoshi/impostor/internal/game"
	"github.com/hitoshi/impostor/internal/generator"
	"github.com/hitoshi/impostor/internal/handler"
	"github.com/hitoshi/impostor/internal/logger"
	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/middleware"
	"github.com/hitoshi/impostor/internal/repository"
	"github.com/hitoshi/impostor/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := cfg.SlogLevel()
	logger.SetupDefault(w, level)

	return cfg, nil
}

// store はストレージ種別ごとの依存関係をまとめたもの。
type store struct {
	repo   repository.GameRepository
	finder repository.StaleGameFinder
	pinger handler.Pinger
	close  func() error
}

// openStore はSTORE_DRIVERに応じてリポジトリを初期化する。
// postgresの場合は接続確認まで行う。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		repo := repository.NewMemoryGameRepo()
		slog.Warn("using in-memory store; games are lost on restart")
		return &store{
			repo:   repo,
			finder: repo,
			pinger: handler.PingerFunc(func(context.Context) error { return nil }),
			close:  func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")

	repo := repository.NewPostgresGameRepo(db)
	return &store{
		repo:   repo,
		finder: repo,
		pinger: dbPinger{db: db},
		close:  db.Close,
	}, nil
}

type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// newGenerator はAI回答の生成器を返す。APIキーが未設定の場合は常に失敗する生成器を返し、
// ゲームはフォールバック回答で進行する。
func newGenerator(cfg *config.Config) generator.Generator {
	if !cfg.GeneratorEnabled() {
		slog.Warn("OPENAI_API_KEY is not set; impostor answers use the fallback text")
		return generator.DisabledGenerator{}
	}
	return generator.NewOpenAIGenerator(generator.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}, slog.Default())
}

// gameConfig は環境変数の設定をゲーム進行の設定に変換する。
func gameConfig(cfg *config.Config) game.Config {
	gc := game.DefaultConfig()
	gc.MinPlayers = cfg.MinPlayers
	gc.MaxQuestionsPerPlayer = cfg.MaxQuestionsPerPlayer
	gc.CodeLength = cfg.GameCodeLength
	gc.GeneratorTimeout = cfg.GeneratorTimeout
	if gc.DefaultQuestionsPerPlayer > gc.MaxQuestionsPerPlayer {
		gc.DefaultQuestionsPerPlayer = gc.MaxQuestionsPerPlayer
	}
	return gc
}

// newCleanupJob はゲームクリーンアップジョブを構築する。
func newCleanupJob(cfg *config.Config, st *store, svc *game.Service, m metrics.MetricsCollector) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(st.finder, svc, slog.Default(), m)
	job.Retention = cfg.GameRetention
	return job
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ctxがキャンセルされるまでHTTPサーバーを動かす。
// メモリストアの場合は別プロセスのワーカーから見えないため、クリーンアップもこのプロセスで行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	svc := game.NewService(st.repo, newGenerator(cfg), gameConfig(cfg),
		game.WithLogger(slog.Default()),
		game.WithMetrics(collector),
	)

	rl := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCreate))
	defer rl.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rl,
		Metrics:            collector,
		Logger:             slog.Default(),
		GameService:        handler.NewGameServiceAdapter(svc),
		Pinger:             st.pinger,
		MetricsHandler:     metrics.Handler(reg),
	})

	if cfg.StoreDriver == config.StoreDriverMemory {
		go newCleanupJob(cfg, st, svc, collector).Start(ctx, cfg.CleanupInterval)
	}

	// AI回答の生成を待つリクエストがあるため、WriteTimeoutは生成タイムアウトより長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeneratorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
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

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// クリーンアップジョブをCLEANUP_INTERVALごとに実行し、ctxがキャンセルされると終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("worker requires STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.StoreDriver)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// ワーカーは削除のみ行うため、AI回答の生成器は使わない
	svc := game.NewService(st.repo, generator.DisabledGenerator{}, gameConfig(cfg),
		game.WithLogger(slog.Default()),
	)
	job := newCleanupJob(cfg, st, svc, metrics.Nop{})

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("retention", cfg.GameRetention),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを適用し、正の場合はその数だけロールバックする。
func runMigrate(cfg *config.Config, down int) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.StoreDriver)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", down))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
