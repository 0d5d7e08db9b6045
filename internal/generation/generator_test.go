package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hitoshi/retinaseo/internal/model"
)

func TestMockGenerator_RespectsContentType(t *testing.T) {
	g := &MockGenerator{}

	res, err := g.Generate(context.Background(), NewRequest("iPhone photography", "camera", "titles", ""))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Titles) != 5 {
		t.Errorf("len(Titles) = %d, want 5", len(res.Titles))
	}
	if res.Description != "" || len(res.Tags) != 0 {
		t.Errorf("unexpected fields for titles-only: %+v", res)
	}
	if !strings.Contains(res.Titles[0], "iPhone photography") {
		t.Errorf("title should contain the topic: %q", res.Titles[0])
	}
}

func TestMockGenerator_Full(t *testing.T) {
	res, err := (&MockGenerator{}).Generate(context.Background(), NewRequest("Sourdough baking", "bread, starter", "full", ""))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := checkResult(model.ContentFull, res); err != nil {
		t.Errorf("mock full result is incomplete: %v", err)
	}
	if !strings.Contains(res.Description, "You'll learn:") {
		t.Errorf("description = %q", res.Description)
	}
	if res.Tags[len(res.Tags)-1] != "starter" {
		t.Errorf("keywords should be appended to tags: %v", res.Tags)
	}
}

func TestMockGenerator_DelayHonorsContext(t *testing.T) {
	g := &MockGenerator{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, NewRequest("Sourdough baking", "", "tags", ""))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
}

func newTestGenerator(url string) *HTTPGenerator {
	return NewHTTPGenerator(http.DefaultClient, slog.New(slog.NewJSONHandler(io.Discard, nil)), HTTPConfig{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "test-model",
	})
}

func TestHTTPGenerator_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if body.Model != "test-model" || len(body.Messages) != 2 {
			t.Errorf("unexpected request: %+v", body)
		}
		if !strings.Contains(body.Messages[1].Content, "Video topic: Sourdough baking") {
			t.Errorf("prompt = %q", body.Messages[1].Content)
		}

		content := "```json\n{\"titles\":[\"A\",\"B\"],\"description\":\"Desc\",\"tags\":[\"x\"]}\n```"
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	defer server.Close()

	res, err := newTestGenerator(server.URL).Generate(context.Background(), NewRequest("Sourdough baking", "", "full", ""))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Titles) != 2 || res.Description != "Desc" || res.Tags[0] != "x" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHTTPGenerator_Generate_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	if _, err := newTestGenerator(server.URL).Generate(context.Background(), NewRequest("Sourdough baking", "", "full", "")); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestHTTPGenerator_Generate_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	if _, err := newTestGenerator(server.URL).Generate(context.Background(), NewRequest("Sourdough baking", "", "full", "")); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestHTTPGenerator_Generate_InvalidContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"not json"}}]}`))
	}))
	defer server.Close()

	if _, err := newTestGenerator(server.URL).Generate(context.Background(), NewRequest("Sourdough baking", "", "full", "")); err == nil {
		t.Fatal("expected error for non-JSON content")
	}
}

func TestHTTPGenerator_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewHTTPGenerator(http.DefaultClient, slog.New(slog.NewJSONHandler(io.Discard, nil)), HTTPConfig{
		BaseURL:          server.URL,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})
	req := NewRequest("Sourdough baking", "", "full", "")

	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), req); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	_, err := g.Generate(context.Background(), req)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want ErrOpenState", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestHTTPGenerator_CanceledCallsDoNotTripCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"tags\":[\"a\"]}"}}]}`))
	}))
	defer server.Close()

	g := NewHTTPGenerator(http.DefaultClient, nil, HTTPConfig{BaseURL: server.URL, BreakerThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, NewRequest("Sourdough baking", "", "tags", "")); err == nil {
		t.Fatal("expected error for canceled context")
	}

	res, err := g.Generate(context.Background(), NewRequest("Sourdough baking", "", "tags", ""))
	if err != nil {
		t.Fatalf("Generate() after cancel error = %v", err)
	}
	if len(res.Tags) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBuildPrompt_OnlyRequestedFields(t *testing.T) {
	p := buildPrompt(NewRequest("Sourdough baking", "bread", "tags", "funny"))
	if !strings.Contains(p, `"tags"`) || strings.Contains(p, `"titles"`) || strings.Contains(p, `"description"`) {
		t.Errorf("prompt = %q", p)
	}
	if !strings.Contains(p, "Target keywords: bread") || !strings.Contains(p, "Tone and style: funny") {
		t.Errorf("prompt = %q", p)
	}
}
