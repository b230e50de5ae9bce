package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/impostor/internal/middleware"
	"github.com/hitoshi/impostor/internal/model"
)

// healthTimeout はヘルスチェック1回あたりのタイムアウト。
const healthTimeout = 2 * time.Second

// Pinger はストレージの疎通確認を行う。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc は関数をPingerとして使うためのアダプタ。
type PingerFunc func(ctx context.Context) error

// Ping はf(ctx)を呼ぶ。
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler はストレージの疎通を確認して結果を返す。
// GET /health
func HealthHandler(pinger Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Error("health check failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
				Code:     "UNAVAILABLE",
				Message:  "ストレージに接続できません。",
				Category: "system",
				Action:   "しばらく待ってから再度お試しください。",
			})
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}
