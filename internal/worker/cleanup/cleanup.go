// Package cleanup は認証データの自動削除ジョブを提供する。
// 期限切れセッションと、期限切れまたは消費済みのパスワードリセットを
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ysaito/authman/internal/repository"
)

// CleanupJob は期限切れ認証データの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessionRepo repository.SessionRepository
	resetRepo   repository.PasswordResetRepository
	logger      *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	resetRepo repository.PasswordResetRepository,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo: sessionRepo,
		resetRepo:   resetRepo,
		logger:      logger,
	}
}

// Run は期限切れセッションと不要になったパスワードリセットを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	resets, err := j.resetRepo.DeleteStale(ctx)
	if err != nil {
		j.logger.Error("パスワードリセットの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("パスワードリセットの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_resets", resets),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunLoop はintervalごとにRunを繰り返し実行する。
// コンテキストのキャンセルで停止する。起動直後に1回実行する。
func (j *CleanupJob) RunLoop(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止します")
			return
		}
	}
}
