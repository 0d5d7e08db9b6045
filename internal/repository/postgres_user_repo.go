package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/retinaseo/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

const userColumns = `id, email, name, avatar_url, plan, credits, password_hash, channel_url, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var plan string
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL, &plan, &user.Credits,
		&user.PasswordHash, &user.ChannelURL, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Plan = model.Plan(plan)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := insertUser(ctx, r.db, user); err != nil {
		return err
	}
	return nil
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, ex execer, user *model.User) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar_url, plan, credits, password_hash, channel_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.Name, user.AvatarURL, string(user.Plan), user.Credits,
		user.PasswordHash, user.ChannelURL, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProfile は表示名とメールアドレスを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id, name, email string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = now() WHERE id = $1`,
		id, name, email,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireOneRow(result, id)
}

// UpdatePasswordHash はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireOneRow(result, id)
}

// UpdateChannelURL はYouTubeチャンネルURLを更新する。
func (r *PostgresUserRepo) UpdateChannelURL(ctx context.Context, id, channelURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET channel_url = $2, updated_at = now() WHERE id = $1`,
		id, channelURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update channel url: %w", err)
	}
	return requireOneRow(result, id)
}

// ChangePlan はプランとクレジットを更新し、変更履歴を記録する。
func (r *PostgresUserRepo) ChangePlan(ctx context.Context, change *model.PlanChange, minCredits int) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx,
		`UPDATE users
		 SET plan = $2, credits = GREATEST(credits, $3), updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		change.UserID, string(change.ToPlan), minCredits,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user not found: %s", change.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO plan_changes (id, user_id, from_plan, to_plan, billing_period, amount, payment_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		change.ID, change.UserID, string(change.FromPlan), string(change.ToPlan),
		string(change.Period), change.Amount, change.PaymentRef, change.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record plan change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}

// ListPlanChanges はプラン変更履歴を新しい順に返す。
func (r *PostgresUserRepo) ListPlanChanges(ctx context.Context, userID string, limit int) ([]*model.PlanChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, from_plan, to_plan, billing_period, amount, payment_ref, created_at
		 FROM plan_changes
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.PlanChange
	for rows.Next() {
		var c model.PlanChange
		var fromPlan, toPlan, period string
		if err := rows.Scan(&c.ID, &c.UserID, &fromPlan, &toPlan, &period, &c.Amount, &c.PaymentRef, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan change: %w", err)
		}
		c.FromPlan = model.Plan(fromPlan)
		c.ToPlan = model.Plan(toPlan)
		c.Period = model.BillingPeriod(period)
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan changes: %w", err)
	}
	return changes, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連データはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireOneRow(result, id)
}

func requireOneRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
