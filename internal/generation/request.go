// Package generation はSEOコンテンツ生成リクエストの検証、生成、クレジット消費を提供する。
package generation

import (
	"strings"

	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/validation"
)

// Request は生成フォームの入力値。
type Request struct {
	Topic       string            `form:"topic" json:"topic" validate:"required,min=10,max=500"`
	Keywords    []string          `form:"keywords" json:"keywords" validate:"max=20,dive,max=50"`
	ContentType model.ContentType `form:"content_type" json:"content_type" validate:"required,oneof=full titles description tags"`
	Style       string            `form:"style" json:"style" validate:"max=100"`
}

// NewRequest はフォームの生の値からRequestを組み立てる。
// トピックとスタイルは前後の空白を除去し、キーワードはカンマ区切りで分割する。
// content typeが空の場合はfull。
func NewRequest(topic, keywords, contentType, style string) Request {
	ct := model.ContentType(strings.TrimSpace(contentType))
	if ct == "" {
		ct = model.ContentFull
	}
	return Request{
		Topic:       strings.TrimSpace(topic),
		Keywords:    ParseKeywords(keywords),
		ContentType: ct,
		Style:       strings.TrimSpace(style),
	}
}

// ParseKeywords はカンマ区切りのキーワードを分割する。空要素は除く。
func ParseKeywords(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// KeywordsString はフォーム再表示用にキーワードをカンマ区切りで連結する。
func (r Request) KeywordsString() string {
	return strings.Join(r.Keywords, ", ")
}

// Validate は入力値を検証する。問題がなければnilを返す。
func (r Request) Validate() validation.FieldErrors {
	r.Topic = strings.TrimSpace(r.Topic)
	return validation.Struct(r)
}

// Cost はこのリクエストが消費するクレジット数を返す。
func (r Request) Cost() int {
	return r.ContentType.Cost()
}

// checkResult は生成結果がcontent typeの要求するフィールドを満たすかを検証する。
func checkResult(ct model.ContentType, res *model.GenerationResult) error {
	if res == nil {
		return errEmptyResult("result")
	}
	if ct.WantsTitles() && len(res.Titles) == 0 {
		return errEmptyResult("titles")
	}
	if ct.WantsDescription() && strings.TrimSpace(res.Description) == "" {
		return errEmptyResult("description")
	}
	if ct.WantsTags() && len(res.Tags) == 0 {
		return errEmptyResult("tags")
	}
	return nil
}

type errEmptyResult string

func (e errEmptyResult) Error() string {
	return "generator returned no " + string(e)
}
