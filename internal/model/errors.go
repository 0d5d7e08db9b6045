package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, generation, billing, system
	Action   string // ユーザー向け対処方法

	// Fields は入力検証エラーのフィールド名ごとのメッセージ。検証エラー以外はnil。
	Fields map[string]string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeRegistrationFailed  = "REGISTRATION_FAILED"
	ErrCodeOAuthFailed         = "OAUTH_FAILED"
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeGenerationFailed    = "GENERATION_FAILED"
	ErrCodeGenerationBusy      = "GENERATION_IN_PROGRESS"
	ErrCodeBillingFailed       = "BILLING_FAILED"
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrGenerationInProgress は同一ユーザーの生成リクエストが処理中であることを示す。
// 2回目の送信はキューイングせず拒否する。
var ErrGenerationInProgress = errors.New("a generation request is already in progress")

// InvalidCredentialsError はメールアドレスまたはパスワードが不正な場合のエラー。
type InvalidCredentialsError struct {
	Reason string
}

func (e *InvalidCredentialsError) Error() string {
	if e.Reason == "" {
		return "invalid credentials"
	}
	return "invalid credentials: " + e.Reason
}

// RegistrationError はアカウント作成に失敗した場合のエラー。
type RegistrationError struct {
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registration failed: %s: %v", e.Reason, e.Err)
	}
	return "registration failed: " + e.Reason
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// OAuthError は外部IdPによる認証が拒否・失敗した場合のエラー。
type OAuthError struct {
	Provider string
	Err      error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth login with %s failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("oauth login with %s failed", e.Provider)
}

func (e *OAuthError) Unwrap() error { return e.Err }

// InsufficientCreditsError は残クレジットが生成コストに満たない場合のエラー。
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// GenerationError は生成サービスの呼び出しに失敗した場合のエラー。
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// BillingError はプラン変更に失敗した場合のエラー。
type BillingError struct {
	Reason string
	Err    error
}

func (e *BillingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("billing failed: %s: %v", e.Reason, e.Err)
	}
	return "billing failed: " + e.Reason
}

func (e *BillingError) Unwrap() error { return e.Err }

// StorageCorruptionError は保存済みセッションが読み取れない場合のエラー。
// セッションストア内部で回復され、利用者には表面化しない。
type StorageCorruptionError struct {
	Err error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("stored session is corrupt: %v", e.Err)
}

func (e *StorageCorruptionError) Unwrap() error { return e.Err }

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Please correct the highlighted fields and try again.",
	}
}

// NewFieldValidationError はフィールドごとのメッセージを持つ入力検証エラーを生成する。
// messageには画面上部に出す代表メッセージを渡す。
func NewFieldValidationError(message string, fields map[string]string) *APIError {
	err := NewValidationError(message)
	err.Fields = fields
	return err
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewUnauthorizedError は未認証アクセスのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "You need to sign in to continue.",
		Category: "auth",
		Action:   "Please sign in and try again.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// ToAPIError はドメインエラーを表示用のAPIErrorとHTTPステータスに変換する。
// 未知のエラーは内部エラーとして扱う。
func ToAPIError(err error) (*APIError, int) {
	var (
		apiErr   *APIError
		credErr  *InvalidCredentialsError
		regErr   *RegistrationError
		oauthErr *OAuthError
		credits  *InsufficientCreditsError
		genErr   *GenerationError
		billErr  *BillingError
	)

	switch {
	case errors.As(err, &apiErr):
		if apiErr.Category == "validation" {
			return apiErr, http.StatusUnprocessableEntity
		}
		if apiErr.Code == ErrCodeUserNotFound {
			return apiErr, http.StatusNotFound
		}
		return apiErr, http.StatusBadRequest
	case errors.As(err, &credErr):
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  "Invalid email or password.",
			Category: "auth",
			Action:   "Check your email and password and try again.",
		}, http.StatusUnauthorized
	case errors.As(err, &regErr):
		return &APIError{
			Code:     ErrCodeRegistrationFailed,
			Message:  "Registration failed: " + regErr.Reason + ".",
			Category: "auth",
			Action:   "Check the form and try again, or sign in if you already have an account.",
		}, http.StatusBadRequest
	case errors.As(err, &oauthErr):
		return &APIError{
			Code:     ErrCodeOAuthFailed,
			Message:  fmt.Sprintf("Sign in with %s failed.", oauthErr.Provider),
			Category: "auth",
			Action:   "Please try again or use email and password.",
		}, http.StatusUnauthorized
	case errors.As(err, &credits):
		return &APIError{
			Code:     ErrCodeInsufficientCredits,
			Message:  fmt.Sprintf("This generation needs %d credits but you have %d.", credits.Required, credits.Available),
			Category: "generation",
			Action:   "Choose a cheaper content type or upgrade your plan.",
		}, http.StatusPaymentRequired
	case errors.Is(err, ErrGenerationInProgress):
		return &APIError{
			Code:     ErrCodeGenerationBusy,
			Message:  "A generation is already running for your account.",
			Category: "generation",
			Action:   "Wait for the current request to finish.",
		}, http.StatusConflict
	case errors.As(err, &genErr):
		return &APIError{
			Code:     ErrCodeGenerationFailed,
			Message:  "Failed to generate content.",
			Category: "generation",
			Action:   "No credits were used. Please try again.",
		}, http.StatusBadGateway
	case errors.As(err, &billErr):
		return &APIError{
			Code:     ErrCodeBillingFailed,
			Message:  "Plan change failed: " + billErr.Reason + ".",
			Category: "billing",
			Action:   "Please try again or contact support.",
		}, http.StatusPaymentRequired
	default:
		return NewInternalError(), http.StatusInternalServerError
	}
}
