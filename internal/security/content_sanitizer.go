// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は生成サービスや外部フィードから受け取ったテキストから
// HTMLを除去し、プレーンテキストとして表示・保存できる形に整える。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は外部由来テキストのサニタイズ機能のインターフェース。
type ContentSanitizerService interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 実体参照はデコードして返す（表示時にテンプレート側でエスケープする）。
	Sanitize(raw string) string
	// SanitizeList は各要素をSanitizeし、空になった要素を取り除く。
	SanitizeList(raw []string) []string
}

// contentSanitizer はbluemondayのStrictPolicyを使うContentSanitizerServiceの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストからHTMLを除去する。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeList は各要素をサニタイズする。nilにはnilを返す。
func (s *contentSanitizer) SanitizeList(raw []string) []string {
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = s.Sanitize(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)
