package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/retinaseo/internal/model"
)

// Generator はSEOコンテンツを生成する外部サービスの境界。
// content typeが要求しないフィールドは空でよい。
type Generator interface {
	Generate(ctx context.Context, req Request) (*model.GenerationResult, error)
}

// MockGenerator はトピックを埋め込んだサンプルコンテンツを返す。
// 外部APIが設定されていない環境で使う。
type MockGenerator struct {
	// Delay は応答までの待ち時間。ctxがキャンセルされた場合は即座に戻る。
	Delay time.Duration
}

// Generate はサンプルコンテンツを返す。
func (g *MockGenerator) Generate(ctx context.Context, req Request) (*model.GenerationResult, error) {
	if g.Delay > 0 {
		timer := time.NewTimer(g.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	topic := strings.TrimSpace(req.Topic)
	res := &model.GenerationResult{}
	if req.ContentType.WantsTitles() {
		res.Titles = sampleTitles(topic)
	}
	if req.ContentType.WantsDescription() {
		res.Description = sampleDescription(topic, req.Keywords)
	}
	if req.ContentType.WantsTags() {
		res.Tags = sampleTags(topic, req.Keywords)
	}
	return res, nil
}

func sampleTitles(topic string) []string {
	return []string{
		fmt.Sprintf("%s: 10 Pro Tips You Need to Know (Beginners Guide)", topic),
		fmt.Sprintf("How I Mastered %s in 30 Days", topic),
		fmt.Sprintf("%s Explained: Everything You Need in One Video", topic),
		fmt.Sprintf("Stop Making These %s Mistakes!", topic),
		fmt.Sprintf("The Ultimate %s Tutorial for %d", topic, time.Now().Year()),
	}
}

func sampleDescription(topic string, keywords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Want to get better at %s? In this video I walk you through the techniques that made the biggest difference for me.\n\n", topic)
	b.WriteString("You'll learn:\n")
	b.WriteString("- The fundamentals most people skip\n")
	b.WriteString("- Simple habits that give better results right away\n")
	b.WriteString("- Common mistakes and how to avoid them\n")
	b.WriteString("- My favorite tools and settings\n\n")
	b.WriteString("If this helped, subscribe for more tutorials and leave a comment with your questions.\n\n")
	for _, tag := range hashtags(topic, keywords) {
		b.WriteString(tag)
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

func hashtags(topic string, keywords []string) []string {
	words := append([]string{topic}, keywords...)
	var out []string
	for _, w := range words {
		w = strings.ReplaceAll(strings.ToLower(w), " ", "")
		if w != "" {
			out = append(out, "#"+w)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

func sampleTags(topic string, keywords []string) []string {
	t := strings.ToLower(topic)
	tags := []string{
		t,
		t + " tips",
		t + " tutorial",
		t + " for beginners",
		t + " guide",
		"how to " + t,
		"best " + t,
		t + " mistakes",
	}
	for _, k := range keywords {
		tags = append(tags, strings.ToLower(k))
	}
	return tags
}

// compile-time interface check
var _ Generator = (*MockGenerator)(nil)
