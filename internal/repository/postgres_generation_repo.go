package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/retinaseo/internal/model"
)

// PostgresGenerationRepo はPostgreSQLを使用した生成履歴リポジトリ。
type PostgresGenerationRepo struct {
	db *sql.DB
}

// NewPostgresGenerationRepo はPostgresGenerationRepoを生成する。
func NewPostgresGenerationRepo(db *sql.DB) *PostgresGenerationRepo {
	return &PostgresGenerationRepo{db: db}
}

// CreateWithDebit はクレジットの減算と生成履歴の記録を同一トランザクションで行う。
// 残高の判定はUPDATEの条件で行うため、同時実行されても負にならない。
// 残高不足の場合は、その時点の残高とErrInsufficientCreditsを返す。
func (r *PostgresGenerationRepo) CreateWithDebit(ctx context.Context, gen *model.Generation) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int
	err = tx.QueryRowContext(ctx,
		`UPDATE users SET credits = credits - $2, updated_at = now()
		 WHERE id = $1 AND credits >= $2
		 RETURNING credits`,
		gen.UserID, gen.Cost,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		var balance int
		err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, gen.UserID).Scan(&balance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to read credits: %w", err)
		}
		return balance, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO generations (id, user_id, topic, keywords, style, content_type, titles, description, tags, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		gen.ID, gen.UserID, gen.Topic, pq.Array(nonNil(gen.Keywords)), gen.Style, string(gen.ContentType),
		pq.Array(nonNil(gen.Result.Titles)), gen.Result.Description, pq.Array(nonNil(gen.Result.Tags)),
		gen.Cost, gen.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return remaining, nil
}

// ListByUser はユーザーの生成履歴を新しい順に返す。
func (r *PostgresGenerationRepo) ListByUser(ctx context.Context, userID, query string, limit int) ([]*model.Generation, error) {
	q := `SELECT id, user_id, topic, keywords, style, content_type, titles, description, tags, cost, created_at
	      FROM generations
	      WHERE user_id = $1`
	args := []any{userID}

	if query = strings.TrimSpace(query); query != "" {
		args = append(args, "%"+escapeLike(query)+"%")
		q += ` AND (topic ILIKE $2 OR EXISTS (SELECT 1 FROM unnest(titles) AS t WHERE t ILIKE $2))`
	}

	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var gens []*model.Generation
	for rows.Next() {
		g := &model.Generation{}
		var contentType string
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.Topic, pq.Array(&g.Keywords), &g.Style, &contentType,
			pq.Array(&g.Result.Titles), &g.Result.Description, pq.Array(&g.Result.Tags),
			&g.Cost, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		g.ContentType = model.ContentType(contentType)
		gens = append(gens, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generations: %w", err)
	}

	return gens, nil
}

// CountByUser はユーザーの生成総数を返す。
func (r *PostgresGenerationRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM generations WHERE user_id = $1`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return n, nil
}

// DeleteByUserID はユーザーの生成履歴を全て削除する。
func (r *PostgresGenerationRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM generations WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete generations: %w", err)
	}
	return nil
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// TEXT[]のNOT NULL制約のため、nilスライスは空配列として書き込む。
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var _ GenerationRepository = (*PostgresGenerationRepo)(nil)
