// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 失効したセッションと、保持期間を超過した生成履歴を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は生成履歴の既定の保持日数。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションと古い生成履歴の削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 生成履歴の保持日数。0以下の場合は履歴を削除しない
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は期限切れセッションを削除し、続けて保持期間を超過した生成履歴を削除する。
// セッションの削除に失敗した場合も履歴の削除は試みる。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.exec(ctx, "sessions",
		`DELETE FROM sessions WHERE expires_at < now()`)

	var generations int64
	var genErr error
	if j.RetentionDays > 0 {
		generations, genErr = j.exec(ctx, "generations",
			`DELETE FROM generations WHERE created_at < now() - $1::interval`,
			fmt.Sprintf("%d days", j.RetentionDays))
	}

	if sessErr != nil {
		return sessErr
	}
	if genErr != nil {
		return genErr
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_generations", generations),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("cleanup delete failed",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to clean up %s: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted row count",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to read deleted %s count: %w", table, err)
	}
	return n, nil
}
