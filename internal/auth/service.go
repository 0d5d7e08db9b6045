// Package auth はパスワード認証、OAuth認証、サーバー側セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/repository"
	"github.com/hitoshi/retinaseo/internal/session"
)

// MinPasswordLength は新規パスワードの最小文字数。
const MinPasswordLength = 8

// ErrUnknownProvider は未設定のOAuthプロバイダーが指定されたことを示す。
var ErrUnknownProvider = errors.New("unknown oauth provider")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	SignupCredits int // 新規登録時に付与するクレジット
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig

	// 存在しないユーザーでも比較時間を揃えるためのダミーハッシュ
	dummyHash []byte
}

// NewService はServiceを生成する。providersはプロバイダー名をキーとする。
func NewService(
	providers map[string]OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("retinaseo-dummy-password"), config.BcryptCost)
	if providers == nil {
		providers = map[string]OAuthProvider{}
	}
	return &Service{
		providers:   providers,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		dummyHash:   dummy,
	}
}

// Providers は設定済みのOAuthプロバイダー名を返す。
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLoginURL は指定プロバイダーのOAuth認証URLを生成する。
func (s *Service) GetLoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", &model.OAuthError{Provider: provider, Err: ErrUnknownProvider}
	}
	return p.GetLoginURL(state), nil
}

// Authenticate はメールアドレスとパスワードを検証してセッションを発行する。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*session.Grant, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !user.HasPassword() {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, &model.InvalidCredentialsError{}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, &model.InvalidCredentialsError{}
	}

	grant, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", "password"),
	)
	return grant, nil
}

// CreateAccount はパスワードログイン用のアカウントを作成してセッションを発行する。
// 新規ユーザーはfreeプランで、SignupCreditsのクレジットを持つ。
func (s *Service) CreateAccount(ctx context.Context, email, password, name string) (*session.Grant, error) {
	if len(password) < MinPasswordLength {
		return nil, &model.RegistrationError{Reason: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, &model.RegistrationError{Reason: "password cannot be used", Err: err}
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(email),
		Name:         name,
		Plan:         model.PlanFree,
		Credits:      s.config.SignupCredits,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, &model.RegistrationError{Reason: "email is already registered"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("method", "password"),
	)
	return s.issue(ctx, user)
}

// AuthenticateViaProvider はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 同じメールアドレスのユーザーが既に存在する場合はidentityを紐付ける。
func (s *Service) AuthenticateViaProvider(ctx context.Context, provider, code string) (*session.Grant, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, &model.OAuthError{Provider: provider, Err: ErrUnknownProvider}
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, &model.OAuthError{Provider: provider, Err: err}
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		user, err = s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, &model.OAuthError{Provider: provider, Err: errors.New("linked user no longer exists")}
		}
	} else {
		user, err = s.linkOrCreate(ctx, info)
		if err != nil {
			return nil, err
		}
	}

	grant, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", provider),
	)
	return grant, nil
}

func (s *Service) linkOrCreate(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	if info.Email == "" {
		return nil, &model.OAuthError{Provider: info.Provider, Err: errors.New("provider did not share an email address")}
	}

	now := time.Now()

	existing, err := s.userRepo.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		err := s.identRepo.Create(ctx, &model.Identity{
			ID:             uuid.New().String(),
			UserID:         existing.ID,
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			CreatedAt:      now,
		})
		// 同時に届いたコールバックが先に紐付けた場合はそのまま続行する
		if err != nil && !errors.Is(err, repository.ErrIdentityLinked) {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		return existing, nil
	}

	name := info.Name
	if name == "" {
		name = strings.SplitN(info.Email, "@", 2)[0]
	}
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     strings.ToLower(info.Email),
		Name:      name,
		AvatarURL: info.AvatarURL,
		Plan:      model.PlanFree,
		Credits:   s.config.SignupCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("method", info.Provider),
	)
	return user, nil
}

// Resume はセッションから現在のユーザーを取得する。
// セッションまたはユーザーが存在しない場合はnil, nilを返す。
func (s *Service) Resume(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Revoke はセッションを破棄する。
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("session revoked")
	return nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword はハッシュとパスワードが一致するかを返す。
func (s *Service) VerifyPassword(hash, password string) bool {
	return CheckPassword(hash, password)
}

// CheckPassword はハッシュとパスワードが一致するかを返す。
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// issue はセッションを作成し永続化する。
func (s *Service) issue(ctx context.Context, user *model.User) (*session.Grant, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &session.Grant{SessionID: sess.ID, User: user, ExpiresAt: sess.ExpiresAt}, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ session.Authenticator = (*Service)(nil)
