// Package session は閲覧者の認証状態を保持するセッションストアを提供する。
// ストアはリクエストごとに生成され、uninitialized → initializing → ready の順に遷移する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/retinaseo/internal/model"
)

// Phase はセッションストアのライフサイクル段階。
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ErrNotReady は初期化完了前に操作が呼ばれたことを示す。
var ErrNotReady = errors.New("session store is not ready")

// Grant は認証成功時に発行されるサーバー側セッション。
type Grant struct {
	SessionID string
	User      *model.User
	ExpiresAt time.Time
}

// Authenticator は認証サービスとの境界。
type Authenticator interface {
	// Authenticate はメールアドレスとパスワードで認証する。
	// 不一致の場合は*model.InvalidCredentialsErrorを返す。
	Authenticate(ctx context.Context, email, password string) (*Grant, error)
	// CreateAccount はアカウントを作成してセッションを発行する。
	CreateAccount(ctx context.Context, email, password, name string) (*Grant, error)
	// AuthenticateViaProvider は外部IdPの認可コードで認証する。
	AuthenticateViaProvider(ctx context.Context, provider, code string) (*Grant, error)
	// Resume はセッションIDからユーザーを復元する。
	// セッションが存在しないか期限切れの場合はnil, nilを返す。
	Resume(ctx context.Context, sessionID string) (*model.User, error)
	// Revoke はサーバー側セッションを破棄する。
	Revoke(ctx context.Context, sessionID string) error
}

// Change はストアの認証状態またはユーザー情報の変化を表す。
type Change struct {
	Before *model.User
	After  *model.User
}

// AuthChanged は認証状態（ログイン/ログアウト）が反転したかを返す。
func (c Change) AuthChanged() bool {
	return (c.Before == nil) != (c.After == nil)
}

// StoreConfig はStoreの設定。
type StoreConfig struct {
	InitTimeout time.Duration
	Logger      *slog.Logger
}

// Store はセッション状態の唯一の保持者。
// 全操作はmuの下で完結し、途中状態は外部から観測されない。
type Store struct {
	auth    Authenticator
	storage Storage
	codec   *TokenCodec
	config  StoreConfig
	logger  *slog.Logger

	mu        sync.Mutex
	phase     Phase
	user      *model.User
	sessionID string

	subMu     sync.Mutex
	subs      map[int]func(Change)
	nextSubID int
}

// NewStore はStoreを生成する。
func NewStore(auth Authenticator, storage Storage, codec *TokenCodec, config StoreConfig) *Store {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.InitTimeout <= 0 {
		config.InitTimeout = 3 * time.Second
	}
	return &Store{
		auth:    auth,
		storage: storage,
		codec:   codec,
		config:  config,
		logger:  logger,
		subs:    make(map[int]func(Change)),
	}
}

// Initialize は保存済みのトークンからセッションを復元する。
// 破損したトークンや失効したセッションは破棄して未認証で完了する。
// 認証サービスの一時的な障害ではInitializingのままエラーを返す。
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseReady {
		return nil
	}
	s.phase = PhaseInitializing

	raw, ok := s.storage.Get()
	if !ok {
		s.phase = PhaseReady
		return nil
	}

	claims, err := s.codec.Decode(raw)
	if err != nil {
		if !errors.Is(err, ErrTokenExpired) {
			corrupt := &model.StorageCorruptionError{Err: err}
			s.logger.Warn("discarding stored session",
				slog.String("error", corrupt.Error()),
			)
		}
		s.storage.Remove()
		s.phase = PhaseReady
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.InitTimeout)
	defer cancel()

	user, err := s.auth.Resume(ctx, claims.SessionID)
	if err != nil {
		return fmt.Errorf("failed to resume session: %w", err)
	}
	if user == nil || user.ID != claims.Subject {
		s.storage.Remove()
		s.phase = PhaseReady
		return nil
	}

	s.user = user
	s.sessionID = claims.SessionID
	s.phase = PhaseReady
	return nil
}

// Login はメールアドレスとパスワードでログインする。
// いずれかが空の場合は認証サービスを呼ばずにInvalidCredentialsErrorを返す。
func (s *Store) Login(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return &model.InvalidCredentialsError{Reason: "email and password are required"}
	}
	return s.signIn(ctx, func() (*Grant, error) {
		return s.auth.Authenticate(ctx, strings.TrimSpace(email), password)
	})
}

// Register はアカウントを作成してログインする。
func (s *Store) Register(ctx context.Context, email, password, name string) error {
	if strings.TrimSpace(email) == "" || password == "" || strings.TrimSpace(name) == "" {
		return &model.RegistrationError{Reason: "email, password and name are required"}
	}
	return s.signIn(ctx, func() (*Grant, error) {
		return s.auth.CreateAccount(ctx, strings.TrimSpace(email), password, strings.TrimSpace(name))
	})
}

// SocialLogin は外部IdPの認可コードでログインする。
func (s *Store) SocialLogin(ctx context.Context, provider, code string) error {
	if code == "" {
		return &model.OAuthError{Provider: provider, Err: errors.New("authorization code is missing")}
	}
	return s.signIn(ctx, func() (*Grant, error) {
		return s.auth.AuthenticateViaProvider(ctx, provider, code)
	})
}

// signIn は認証を行い、成功時に以前のセッションを破棄して新しいセッションを保存する。
// 失敗時は状態を変更しない。
func (s *Store) signIn(ctx context.Context, authenticate func() (*Grant, error)) error {
	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return ErrNotReady
	}

	grant, err := authenticate()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if grant == nil || grant.User == nil {
		s.mu.Unlock()
		return errors.New("authenticator returned an empty session")
	}

	token, err := s.codec.Encode(grant.SessionID, grant.User.ID, grant.ExpiresAt)
	if err != nil {
		s.mu.Unlock()
		s.revoke(ctx, grant.SessionID)
		return err
	}

	previous := s.sessionID
	before := s.user
	s.storage.Set(token)
	s.user = grant.User
	s.sessionID = grant.SessionID
	after := s.user
	s.mu.Unlock()

	if previous != "" && previous != grant.SessionID {
		s.revoke(ctx, previous)
	}

	s.emit(Change{Before: before, After: after})
	return nil
}

// Logout はセッションを破棄する。未ログイン時に呼んでも何もしない。
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return ErrNotReady
	}

	before := s.user
	sessionID := s.sessionID
	s.user = nil
	s.sessionID = ""
	if _, ok := s.storage.Get(); ok {
		s.storage.Remove()
	}
	s.mu.Unlock()

	if sessionID != "" {
		s.revoke(ctx, sessionID)
	}
	if before != nil {
		s.emit(Change{Before: before, After: nil})
	}
	return nil
}

// Replace はクレジットやプランの変更後にユーザー情報を差し替える。
// 未ログイン時やIDが異なる場合は何もしない。
func (s *Store) Replace(user *model.User) {
	if user == nil {
		return
	}
	s.mu.Lock()
	if s.user == nil || s.user.ID != user.ID {
		s.mu.Unlock()
		return
	}
	before := s.user
	updated := *user
	s.user = &updated
	s.mu.Unlock()

	s.emit(Change{Before: before, After: &updated})
}

// Refresh は認証サービスからユーザー情報を再取得する。
// サーバー側セッションが失われていた場合はログアウト状態にする。
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	user, err := s.auth.Resume(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if user == nil {
		return s.Logout(ctx)
	}
	s.Replace(user)
	return nil
}

// Subscribe は状態変化の通知先を登録し、解除関数を返す。
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Phase は現在のライフサイクル段階を返す。
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Ready は初期化が完了しているかを返す。
func (s *Store) Ready() bool {
	return s.Phase() == PhaseReady
}

// User は現在のユーザーのコピーを返す。未認証の場合はnil。
func (s *Store) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated は認証済みかを返す。
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

// SessionID はサーバー側セッションIDを返す。
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Store) emit(change Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

// revoke はサーバー側セッションを破棄する。失敗はログのみ。
func (s *Store) revoke(ctx context.Context, sessionID string) {
	if err := s.auth.Revoke(ctx, sessionID); err != nil {
		s.logger.Warn("failed to revoke session",
			slog.String("error", err.Error()),
		)
	}
}
