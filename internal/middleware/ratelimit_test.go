package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    3,
		AuthRate:        PerMinute(1),
		AuthBurst:       2,
		GenerationRate:  PerMinute(1),
		GenerationBurst: 1,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":1234"
	return req
}

func TestPerMinute(t *testing.T) {
	if got := PerMinute(120); float64(got) != 2 {
		t.Errorf("PerMinute(120) = %v, want 2", got)
	}
}

func TestGeneralRateLimit_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GeneralMiddleware(ByIP)(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("198.51.100.1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("198.51.100.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "rate_limit_exceeded" || body.Category != "system" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestAuthRateLimit_PerIP(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("198.51.100.2"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("198.51.100.2"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	// 別IPは独立
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("198.51.100.3"))
	if rec.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", rec.Code)
	}
	if got := rl.LimiterCount("auth"); got != 2 {
		t.Errorf("auth limiter count = %d, want 2", got)
	}
}

func TestGenerationRateLimit_PerUser(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GenerationMiddleware()(okHandler())

	serve := func(userID string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, withUser(t, requestFrom("198.51.100.4"), userID))
		return rec.Code
	}

	if code := serve("user-A"); code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
	if code := serve("user-A"); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", code)
	}
	if code := serve("user-B"); code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", code)
	}
}

func TestRateLimit_IndependentBuckets(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	gen := rl.GenerationMiddleware()(okHandler())
	general := rl.GeneralMiddleware(ByUser)(okHandler())

	req := withUser(t, requestFrom("198.51.100.5"), "user-C")
	gen.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	general.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("general limit should not be consumed by generation limit, got %d", rec.Code)
	}
}

func TestRateLimit_EmptyKeyPassesThrough(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GeneralMiddleware(func(r *http.Request) string { return "" })(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("198.51.100.6"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
	if rl.LimiterCount("general") != 0 {
		t.Error("no limiter should be created for empty keys")
	}
}

func TestRateLimit_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.AuthMiddleware()(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.7"))

	rl.cleanup(time.Now())
	if rl.LimiterCount("auth") != 1 {
		t.Fatal("recent entry should survive cleanup")
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.LimiterCount("auth") != 0 {
		t.Error("idle entry should be evicted")
	}
}

func TestByUser_FallsBackToIP(t *testing.T) {
	req := withUser(t, requestFrom("198.51.100.8"), "")
	if got := ByUser(req); got != "ip:198.51.100.8" {
		t.Errorf("ByUser() = %q", got)
	}
	req = withUser(t, requestFrom("198.51.100.8"), "user-D")
	if got := ByUser(req); got != "user:user-D" {
		t.Errorf("ByUser() = %q", got)
	}
}

