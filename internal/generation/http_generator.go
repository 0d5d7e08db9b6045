package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hitoshi/retinaseo/internal/model"
)

// maxResponseBytes は生成APIのレスポンスボディの読み取り上限。
const maxResponseBytes = 1 << 20

const systemPrompt = "You are a YouTube SEO assistant. You must output valid JSON only, " +
	`with the keys "titles" (array of strings), "description" (string) and "tags" (array of strings). ` +
	"Omit keys that were not requested."

// HTTPConfig はHTTPGeneratorの設定。
type HTTPConfig struct {
	BaseURL string // 例: https://api.openai.com
	APIKey  string
	Model   string

	// 連続失敗がBreakerThresholdに達するとBreakerCooldownの間は呼び出さずに失敗する。
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// HTTPGenerator はOpenAI互換のchat completions APIで生成する。
type HTTPGenerator struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     HTTPConfig
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPGenerator はHTTPGeneratorを生成する。
func NewHTTPGenerator(httpClient *http.Client, logger *slog.Logger, config HTTPConfig) *HTTPGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = 30 * time.Second
	}
	threshold := config.BreakerThreshold
	return &HTTPGenerator{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "generation-api",
			MaxRequests: 1,
			Timeout:     config.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// 利用者のキャンセルはAPI障害として数えない
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("generation API circuit state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float32           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate はプロンプトを送信し、JSONで返された生成結果をデコードする。
// サーキットが開いている間はgobreaker.ErrOpenStateを返す。
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*model.GenerationResult, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*model.GenerationResult), nil
}

func (g *HTTPGenerator) complete(ctx context.Context, req Request) (*model.GenerationResult, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := strings.TrimRight(g.config.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		g.logger.Error("generation API call failed",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Error("generation API returned an error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("generation API returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("generation API returned no choices")
	}

	var result model.GenerationResult
	content := stripCodeFence(chat.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to decode generated content: %w", err)
	}
	return &result, nil
}

// buildPrompt はcontent typeに応じたユーザープロンプトを組み立てる。
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video topic: %s\n", req.Topic)
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Target keywords: %s\n", strings.Join(req.Keywords, ", "))
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Tone and style: %s\n", req.Style)
	}

	b.WriteString("\nGenerate:\n")
	if req.ContentType.WantsTitles() {
		b.WriteString("- \"titles\": 5 click-worthy titles under 70 characters each\n")
	}
	if req.ContentType.WantsDescription() {
		b.WriteString("- \"description\": a video description of 150-300 words with a short bullet list and 3 hashtags\n")
	}
	if req.ContentType.WantsTags() {
		b.WriteString("- \"tags\": 10-15 search tags in lowercase\n")
	}
	return b.String()
}

// stripCodeFence はモデルが```json ... ```で囲んで返した場合に中身を取り出す。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// compile-time interface check
var _ Generator = (*HTTPGenerator)(nil)
