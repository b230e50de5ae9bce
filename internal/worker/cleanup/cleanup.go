// Package cleanup は放置されたゲームの自動削除ジョブを提供する。
// 作成から保持期間（デフォルト24時間）を超過したゲームを、
// 所有するデータとあわせて定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/model"
	"github.com/hitoshi/impostor/internal/repository"
)

// defaultBatchSize は1回の実行で削除するゲーム数の上限。
const defaultBatchSize = 100

// GameDeleter はゲームを所有データごと削除する。game.Serviceが実装する。
type GameDeleter interface {
	DeleteGame(ctx context.Context, code string) error
}

// CleanupJob は保持期間を超過したゲームの自動削除ジョブ。
// 削除は他の操作と同じゲーム単位のロックを取って行うため、進行中の操作とは競合しない。
// 冪等: 削除対象がない場合や、既に削除済みのゲームがあってもエラーにならない。
type CleanupJob struct {
	finder    repository.StaleGameFinder
	deleter   GameDeleter
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	Retention time.Duration // ゲームの保持期間（デフォルト: 24時間）
	BatchSize int           // 1回の実行で削除する上限（デフォルト: 100）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(finder repository.StaleGameFinder, deleter GameDeleter, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		finder:    finder,
		deleter:   deleter,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		Retention: 24 * time.Hour,
		BatchSize: defaultBatchSize,
	}
}

// Run は保持期間を超過したゲームを削除し、削除した件数を返す。
// 1件の削除に失敗しても残りの削除は続け、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	codes, err := j.finder.ListStaleGameCodes(ctx, cutoff, j.BatchSize)
	if err != nil {
		j.logger.Error("削除対象ゲームの取得に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return 0, fmt.Errorf("削除対象ゲームの取得に失敗: %w", err)
	}

	deleted := 0
	var firstErr error
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		err := j.deleter.DeleteGame(ctx, code)
		switch {
		case err == nil:
			deleted++
		case model.ErrorCode(err) == model.ErrCodeGameNotFound:
			// 一覧取得後に別のリクエストで削除された
		default:
			j.logger.Error("ゲームの削除に失敗しました",
				slog.String("game_code", code),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("ゲーム %s の削除に失敗: %w", code, err)
			}
		}
	}

	if deleted > 0 {
		j.metrics.RecordGamesCleaned(deleted)
	}
	j.logger.Info("ゲームクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Int("candidates", len(codes)),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, firstErr
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
