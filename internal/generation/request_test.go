package generation

import (
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/retinaseo/internal/model"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"iphone, photography ,tips", []string{"iphone", "photography", "tips"}},
		{"single", []string{"single"}},
	}
	for _, tt := range tests {
		if got := ParseKeywords(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseKeywords(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNewRequest_TrimsAndDefaults(t *testing.T) {
	req := NewRequest("  iPhone photography tips  ", "a, b", "", "  casual ")

	if req.Topic != "iPhone photography tips" {
		t.Errorf("Topic = %q", req.Topic)
	}
	if req.ContentType != model.ContentFull {
		t.Errorf("ContentType = %q, want full", req.ContentType)
	}
	if req.Style != "casual" {
		t.Errorf("Style = %q", req.Style)
	}
	if req.KeywordsString() != "a, b" {
		t.Errorf("KeywordsString() = %q", req.KeywordsString())
	}
	if req.Cost() != 10 {
		t.Errorf("Cost() = %d, want 10", req.Cost())
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantField string
	}{
		{"valid", NewRequest("How to edit videos fast", "", "titles", ""), ""},
		{"empty topic", NewRequest("", "", "full", ""), "topic"},
		{"short topic after trim", NewRequest("   short    ", "", "full", ""), "topic"},
		{"unknown content type", NewRequest("How to edit videos fast", "", "thumbnails", ""), "content_type"},
		{"long style", NewRequest("How to edit videos fast", "", "full", strings.Repeat("x", 101)), "style"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.req.Validate()
			if tt.wantField == "" {
				if errs != nil {
					t.Errorf("Validate() = %v, want nil", errs)
				}
				return
			}
			if _, ok := errs[tt.wantField]; !ok {
				t.Errorf("Validate() = %v, want error on %q", errs, tt.wantField)
			}
		})
	}
}

func TestCheckResult(t *testing.T) {
	full := &model.GenerationResult{Titles: []string{"t"}, Description: "d", Tags: []string{"x"}}
	if err := checkResult(model.ContentFull, full); err != nil {
		t.Errorf("full result rejected: %v", err)
	}
	if err := checkResult(model.ContentTitles, &model.GenerationResult{Titles: []string{"t"}}); err != nil {
		t.Errorf("titles-only result rejected: %v", err)
	}
	if err := checkResult(model.ContentFull, &model.GenerationResult{Titles: []string{"t"}, Description: " "}); err == nil {
		t.Error("expected error for blank description")
	}
	if err := checkResult(model.ContentTags, &model.GenerationResult{}); err == nil {
		t.Error("expected error for missing tags")
	}
	if err := checkResult(model.ContentTags, nil); err == nil {
		t.Error("expected error for nil result")
	}
}
