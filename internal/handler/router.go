package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	Logger             *slog.Logger

	// ゲーム
	GameService GameServiceInterface

	// 運用
	Pinger         Pinger
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.Pinger, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	gameHandler := NewGameHandler(deps.GameService, logger)

	// --- ゲームAPI ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewMetricsMiddleware(collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/games", func(r chi.Router) {
			// ゲーム作成は専用のレート制限を追加
			r.With(deps.RateLimiter.CreateGameMiddleware()).Post("/create", gameHandler.CreateGame)
			r.Post("/join", gameHandler.JoinGame)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/state", gameHandler.GetState)
				r.Delete("/", gameHandler.DeleteGame)

				r.Post("/start", gameHandler.StartGame)
				r.Post("/set-question-count", gameHandler.SetQuestionCount)
				r.Post("/submit-question", gameHandler.SubmitQuestion)
				r.Post("/submit-answer", gameHandler.SubmitAnswer)
				r.Post("/submit-vote", gameHandler.SubmitVote)
				r.Post("/next-round", gameHandler.NextRound)
			})
		})
	})

	return r
}
