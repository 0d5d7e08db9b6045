package model

import (
	"fmt"
	"time"
)

// ContentType は生成対象（タイトル/説明文/タグ）の組み合わせを表す。
type ContentType string

const (
	ContentFull        ContentType = "full"
	ContentTitles      ContentType = "titles"
	ContentDescription ContentType = "description"
	ContentTags        ContentType = "tags"
)

// ContentTypes は選択肢の表示順。
var ContentTypes = []ContentType{ContentFull, ContentTitles, ContentDescription, ContentTags}

// ParseContentType は文字列をContentTypeに変換する。空文字はfullとして扱う。
func ParseContentType(s string) (ContentType, error) {
	if s == "" {
		return ContentFull, nil
	}
	switch ContentType(s) {
	case ContentFull, ContentTitles, ContentDescription, ContentTags:
		return ContentType(s), nil
	default:
		return "", fmt.Errorf("unknown content type: %q", s)
	}
}

// Cost は1回の生成で消費するクレジット数を返す。
func (c ContentType) Cost() int {
	switch c {
	case ContentFull:
		return 10
	case ContentTitles:
		return 3
	case ContentDescription:
		return 5
	case ContentTags:
		return 2
	default:
		return 0
	}
}

// Label は画面表示用の名称を返す。
func (c ContentType) Label() string {
	switch c {
	case ContentFull:
		return "Full SEO Pack"
	case ContentTitles:
		return "Titles Only"
	case ContentDescription:
		return "Description Only"
	case ContentTags:
		return "Tags Only"
	default:
		return string(c)
	}
}

// WantsTitles はタイトルを生成対象に含むかを返す。
func (c ContentType) WantsTitles() bool { return c == ContentFull || c == ContentTitles }

// WantsDescription は説明文を生成対象に含むかを返す。
func (c ContentType) WantsDescription() bool {
	return c == ContentFull || c == ContentDescription
}

// WantsTags はタグを生成対象に含むかを返す。
func (c ContentType) WantsTags() bool { return c == ContentFull || c == ContentTags }

// GenerationResult は生成サービスの出力。
type GenerationResult struct {
	Titles      []string `json:"titles,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Generation はダッシュボードに表示する生成履歴の1件。
type Generation struct {
	ID          string
	UserID      string
	Topic       string
	Keywords    []string
	Style       string
	ContentType ContentType
	Result      GenerationResult
	Cost        int
	CreatedAt   time.Time
}
