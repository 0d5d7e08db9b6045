package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/retinaseo/internal/generation"
	"github.com/hitoshi/retinaseo/internal/model"
)

func apiPost(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	return req
}

func TestAPIHandler_Session_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Authenticated || body.User != nil {
		t.Errorf("body = %+v, want anonymous", body)
	}
}

func TestAPIHandler_Session_Authenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/api/session", nil)))

	var body sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Authenticated || body.User == nil {
		t.Fatalf("body = %+v, want authenticated", body)
	}
	if body.User.ID != "user-1" || body.User.Credits != 25 || body.User.Plan != "free" {
		t.Errorf("user = %+v", body.User)
	}
}

func TestAPIHandler_CSRFToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	c := findCookie(rec, "csrf_token")
	if c == nil || body["token"] == "" || body["token"] != c.Value {
		t.Errorf("token = %q, cookie = %+v", body["token"], c)
	}
}

func TestAPIHandler_Generations_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/generations", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
}

func TestAPIHandler_ListGenerations(t *testing.T) {
	env := newTestEnv(t)
	env.gens.historyFn = func(ctx context.Context, userID, query string, limit int) ([]*model.Generation, error) {
		if userID != "user-1" || query != "cats" {
			t.Errorf("History(%q, %q)", userID, query)
		}
		return []*model.Generation{{
			ID:          "gen-1",
			Topic:       "Cats vs cucumbers",
			ContentType: model.ContentTags,
			Result:      model.GenerationResult{Tags: []string{"cats"}},
			Cost:        2,
			CreatedAt:   time.Now(),
		}}, nil
	}

	rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/api/generations?q=cats", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Generations []generationResponse `json:"generations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Generations) != 1 || body.Generations[0].ContentType != "tags" {
		t.Errorf("generations = %+v", body.Generations)
	}
}

func TestAPIHandler_CreateGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.gens.submitFn = func(ctx context.Context, user *model.User, req generation.Request) (*generation.Outcome, error) {
		if len(req.Keywords) != 2 || req.ContentType != model.ContentTitles {
			t.Errorf("request = %+v", req)
		}
		return &generation.Outcome{
			Generation: &model.Generation{
				ID:          "gen-2",
				Topic:       req.Topic,
				ContentType: req.ContentType,
				Result:      model.GenerationResult{Titles: []string{"A title"}},
				Cost:        3,
			},
			Credits: 22,
		}, nil
	}

	req := env.signIn(t, apiPost("/api/generations",
		`{"topic":"Morning routine for productivity","keywords":["routine","productivity"],"content_type":"titles"}`))
	rec := env.serve(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", rec.Code, rec.Body.String())
	}
	var body submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Credits != 22 || body.Generation.ID != "gen-2" || len(body.Generation.Result.Titles) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestAPIHandler_CreateGeneration_FieldErrors(t *testing.T) {
	env := newTestEnv(t)
	env.gens.submitFn = func(ctx context.Context, user *model.User, req generation.Request) (*generation.Outcome, error) {
		return nil, model.NewFieldValidationError("Topic is required.", map[string]string{"topic": "Topic is required."})
	}

	rec := env.serve(env.signIn(t, apiPost("/api/generations", `{"topic":""}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Message != "Topic is required." || body.Fields["topic"] != "Topic is required." {
		t.Errorf("body = %+v", body)
	}
}

func TestAPIHandler_CreateGeneration_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"topic":`, nil, http.StatusUnprocessableEntity, model.ErrCodeValidation},
		{"insufficient credits", `{"topic":"Morning routine for productivity"}`, &model.InsufficientCreditsError{Required: 10, Available: 1}, http.StatusPaymentRequired, model.ErrCodeInsufficientCredits},
		{"in progress", `{"topic":"Morning routine for productivity"}`, model.ErrGenerationInProgress, http.StatusConflict, model.ErrCodeGenerationBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gens.submitFn = func(ctx context.Context, user *model.User, req generation.Request) (*generation.Outcome, error) {
				return nil, tt.err
			}

			rec := env.serve(env.signIn(t, apiPost("/api/generations", tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}
