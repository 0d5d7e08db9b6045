package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/retinaseo/internal/model"
)

// PostgresSessionRepo はsessionsテーブルへのアクセスを提供する。
// 期限切れの行は読み取り時に無視し、削除はクリーンアップワーカーに任せる。
type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションを返す。無い場合と期限切れの場合はnil, nil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	const q = `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1 AND expires_at > now()`

	var s model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.exec(ctx, "delete session", `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.exec(ctx, "delete user sessions", `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteOthers はパスワード変更時に、操作中の端末以外のセッションを無効化する。
func (r *PostgresSessionRepo) DeleteOthers(ctx context.Context, userID, keepID string) (int64, error) {
	return r.exec(ctx, "delete other sessions",
		`DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
}

func (r *PostgresSessionRepo) exec(ctx context.Context, op, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
