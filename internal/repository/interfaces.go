// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/retinaseo/internal/model"
)

// ErrInsufficientCredits は減算後の残高が負になるためクレジットを消費できないことを示す。
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrEmailTaken はメールアドレスが既に登録済みであることを示す。
var ErrEmailTaken = errors.New("email already registered")

// ErrIdentityLinked はプロバイダーアカウントが既に紐付け済みであることを示す。
var ErrIdentityLinked = errors.New("identity already linked")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はパスワードログイン用のユーザーを作成する。
	// メールアドレスが重複する場合はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile は表示名とメールアドレスを更新する。
	UpdateProfile(ctx context.Context, id, name, email string) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// UpdateChannelURL は連携するYouTubeチャンネルURLを更新する。空文字で連携解除。
	UpdateChannelURL(ctx context.Context, id, channelURL string) error

	// ChangePlan はプランを変更し、クレジットを max(現在値, minCredits) に引き上げ、
	// プラン変更履歴を同一トランザクションで記録する。更新後のユーザーを返す。
	ChangePlan(ctx context.Context, change *model.PlanChange, minCredits int) (*model.User, error)

	// ListPlanChanges はプラン変更履歴を新しい順に最大limit件返す。
	ListPlanChanges(ctx context.Context, userID string, limit int) ([]*model.PlanChange, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、generations、plan_changesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーに新しいidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteOthers はkeepID以外の指定ユーザーのセッションを削除し、削除件数を返す。
	DeleteOthers(ctx context.Context, userID, keepID string) (int64, error)
}

// GenerationRepository は生成履歴の永続化インターフェース。
type GenerationRepository interface {
	// CreateWithDebit はクレジットを減算し、生成履歴を同一トランザクションで記録する。
	// 残高が不足する場合は現在の残高とErrInsufficientCreditsを返し、何も記録しない。
	// 減算後の残クレジットを返す。
	CreateWithDebit(ctx context.Context, gen *model.Generation) (int, error)

	// ListByUser はユーザーの生成履歴を新しい順に返す。
	// queryが空でない場合はトピックまたはいずれかのタイトルに部分一致（大文字小文字無視）するもののみ返す。
	ListByUser(ctx context.Context, userID, query string, limit int) ([]*model.Generation, error)

	// CountByUser はユーザーの生成総数を返す。
	CountByUser(ctx context.Context, userID string) (int, error)

	// DeleteByUserID はユーザーの生成履歴を全て削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
