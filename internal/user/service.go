// Package user はプロフィール管理と退会のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) bool
}

// GenerationDeleter は生成履歴の一括削除インターフェース。
type GenerationDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	genDeleter  GenerationDeleter
	hasher      PasswordHasher
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	genDeleter GenerationDeleter,
	hasher PasswordHasher,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		genDeleter:  genDeleter,
		hasher:      hasher,
	}
}

// UpdateProfile は表示名とメールアドレスを更新し、更新後のユーザーを返す。
// 入力値の形式はハンドラーで検証済みとする。
func (s *Service) UpdateProfile(ctx context.Context, userID, name, email string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.userRepo.UpdateProfile(ctx, userID, name, email); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, model.NewValidationError("That email address is already in use.")
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return s.reload(ctx, userID)
}

// ChangePassword はパスワードを変更する。
// パスワード未設定（ソーシャルログインのみ）のユーザーは現在のパスワードなしで設定できる。
// 変更後はkeepSessionID以外のセッションを無効化する。
func (s *Service) ChangePassword(ctx context.Context, userID, keepSessionID, current, next string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if user.HasPassword() && !s.hasher.VerifyPassword(user.PasswordHash, current) {
		return &model.InvalidCredentialsError{Reason: "current password is incorrect"}
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	var revoked int64
	if s.sessionRepo != nil {
		revoked, err = s.sessionRepo.DeleteOthers(ctx, userID, keepSessionID)
		if err != nil {
			return fmt.Errorf("他のセッションの削除に失敗しました: %w", err)
		}
	}

	slog.Info("パスワードを変更しました",
		slog.String("user_id", userID),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}

// LinkChannel はYouTubeチャンネルURLを連携する。空文字で連携を解除する。
func (s *Service) LinkChannel(ctx context.Context, userID, channelURL string) (*model.User, error) {
	if err := s.userRepo.UpdateChannelURL(ctx, userID, strings.TrimSpace(channelURL)); err != nil {
		return nil, fmt.Errorf("チャンネルの連携に失敗しました: %w", err)
	}
	return s.reload(ctx, userID)
}

// billingHistoryLimit はプロフィール画面に表示する課金履歴の最大件数。
const billingHistoryLimit = 12

// BillingHistory はプラン変更の課金履歴を新しい順に返す。
func (s *Service) BillingHistory(ctx context.Context, userID string) ([]*model.PlanChange, error) {
	changes, err := s.userRepo.ListPlanChanges(ctx, userID, billingHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("課金履歴の取得に失敗しました: %w", err)
	}
	return changes, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: generations → sessions → user（+ CASCADE: identities, plan_changes）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 生成履歴を削除
	if s.genDeleter != nil {
		if err := s.genDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("生成履歴の削除に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

func (s *Service) reload(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
