// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Plan はサブスクリプションプランの種別を表す。
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Plans は全プランを上位順に並べたもの。
var Plans = []Plan{PlanFree, PlanBasic, PlanPro, PlanEnterprise}

// ParsePlan は文字列をPlanに変換する。未知の値はエラーを返す。
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanFree, PlanBasic, PlanPro, PlanEnterprise:
		return Plan(s), nil
	default:
		return "", fmt.Errorf("unknown plan: %q", s)
	}
}

// Label は画面表示用のプラン名を返す。
func (p Plan) Label() string {
	switch p {
	case PlanFree:
		return "Free"
	case PlanBasic:
		return "Basic"
	case PlanPro:
		return "Pro"
	case PlanEnterprise:
		return "Enterprise"
	default:
		return string(p)
	}
}

// Rank はプランの序列を返す。アップグレード/ダウングレードの判定に使う。
func (p Plan) Rank() int {
	switch p {
	case PlanFree:
		return 0
	case PlanBasic:
		return 1
	case PlanPro:
		return 2
	case PlanEnterprise:
		return 3
	default:
		return -1
	}
}

// User はサービス利用ユーザーを表す。
// 認証済みビューアのセッション情報（プラン、残クレジット）も保持する。
type User struct {
	ID           string
	Email        string
	Name         string
	AvatarURL    string // 任意
	Plan         Plan
	Credits      int
	PasswordHash string // ソーシャルログインのみのユーザーは空
	ChannelURL   string // 連携済みYouTubeチャンネル（任意）
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワードログインが設定済みかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッション（サーバー側レコード）を表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
