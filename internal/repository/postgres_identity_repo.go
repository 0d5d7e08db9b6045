package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/retinaseo/internal/model"
)

// PostgresIdentityRepo はソーシャルログインの紐付け（identities）を扱う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID は紐付け済みのidentityを返す。未登録ならnil, nil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	const q = `SELECT id, user_id, provider, provider_user_id, created_at
		FROM identities WHERE provider = $1 AND provider_user_id = $2`

	var id model.Identity
	err := r.db.QueryRowContext(ctx, q, provider, providerUserID).
		Scan(&id.ID, &id.UserID, &id.Provider, &id.ProviderUserID, &id.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &id, nil
}

// Create は既存ユーザーにidentityを紐付ける。
// 同じプロバイダーアカウントが紐付け済みの場合はErrIdentityLinkedを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, id *model.Identity) error {
	const q = `INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, q, id.ID, id.UserID, id.Provider, id.ProviderUserID, id.CreatedAt)
	if isUniqueViolation(err) {
		return ErrIdentityLinked
	}
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
