package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/session"
)

func TestProfileHandler_ProfilePage_Tabs(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query string
		want  string
	}{
		{"", `action="/profile"`},
		{"?tab=password", `name="current_password"`},
		{"?tab=billing", "Credits remaining"},
		{"?tab=security", `action="/profile/delete"`},
		{"?tab=unknown", `action="/profile/channel"`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile"+tt.query, nil)))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			assertContains(t, rec, tt.want)
		})
	}
}

func TestProfileHandler_BillingTab_ShowsHistory(t *testing.T) {
	env := newTestEnv(t)
	var gotUser string
	env.users.billingHistoryFn = func(ctx context.Context, userID string) ([]*model.PlanChange, error) {
		gotUser = userID
		return []*model.PlanChange{
			{
				FromPlan:   model.PlanBasic,
				ToPlan:     model.PlanPro,
				Period:     model.BillingAnnual,
				Amount:     decimal.RequireFromString("191.9"),
				PaymentRef: "pi_123",
				CreatedAt:  time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
			},
			{
				FromPlan:  model.PlanPro,
				ToPlan:    model.PlanFree,
				Period:    model.BillingMonthly,
				Amount:    decimal.Zero,
				CreatedAt: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
			},
		}, nil
	}

	rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile?tab=billing", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser != env.user.ID {
		t.Errorf("BillingHistory(userID=%q), want %q", gotUser, env.user.ID)
	}
	assertContains(t, rec, "Billing history", "Apr 12, 2026", "Basic → Pro", "Annual", "$191.90", "Paid",
		"Mar 12, 2026", "$0.00", "No charge")
}

func TestProfileHandler_BillingTab_EmptyAndFailure(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile?tab=billing", nil)))
	assertContains(t, rec, "No plan changes yet.")

	env.users.billingHistoryFn = func(ctx context.Context, userID string) ([]*model.PlanChange, error) {
		return nil, errors.New("db down")
	}
	rec = env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile?tab=billing", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	assertContains(t, rec, "Credits remaining", "We couldn&#39;t load your billing history right now.")
}

func TestProfileHandler_OtherTabs_SkipBillingHistory(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.users.billingHistoryFn = func(ctx context.Context, userID string) ([]*model.PlanChange, error) {
		called = true
		return nil, nil
	}

	env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile?tab=security", nil)))

	if called {
		t.Error("billing history should only load on the billing tab")
	}
}

func TestProfileHandler_PasswordTab_SocialAccount(t *testing.T) {
	env := newTestEnv(t)
	env.user.PasswordHash = ""

	rec := env.serve(env.signIn(t, httptest.NewRequest(http.MethodGet, "/profile?tab=password", nil)))

	assertContains(t, rec, "Set a password")
	if strings.Contains(rec.Body.String(), `name="current_password"`) {
		t.Error("current password field should be hidden for accounts without a password")
	}
}

func TestProfileHandler_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	env.users.updateProfileFn = func(ctx context.Context, userID, name, email string) (*model.User, error) {
		if userID != "user-1" || name != "Renamed" || email != "renamed@example.com" {
			t.Errorf("UpdateProfile(%q, %q, %q)", userID, name, email)
		}
		updated := *env.user
		updated.Name, updated.Email = name, email
		return &updated, nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile", url.Values{
		"name":  {"Renamed"},
		"email": {"renamed@example.com"},
	})))

	assertRedirect(t, rec, "/profile")
	if findCookie(rec, flashCookieName) == nil {
		t.Error("flash cookie should be set")
	}
}

func TestProfileHandler_UpdateProfile_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.serve(env.signIn(t, postForm("/profile", url.Values{
		"name":  {"R"},
		"email": {"renamed@example.com"},
	})))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	assertContains(t, rec, "Name must be at least 2 characters.", `value="renamed@example.com"`)
}

func TestProfileHandler_ChangePassword_RequiresCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.users.changePasswordFn = func(ctx context.Context, userID, keepSessionID, current, next string) error {
		t.Error("ChangePassword should not be called without the current password")
		return nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/password", url.Values{
		"new_password":     {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	})))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	assertContains(t, rec, "Current password is required.")
}

func TestProfileHandler_ChangePassword_Success(t *testing.T) {
	env := newTestEnv(t)
	env.users.changePasswordFn = func(ctx context.Context, userID, keepSessionID, current, next string) error {
		if current != "old-password" || next != "brand-new-pass" {
			t.Errorf("ChangePassword(%q, %q)", current, next)
		}
		if keepSessionID != testSessionID {
			t.Errorf("keepSessionID = %q, want the current session %q", keepSessionID, testSessionID)
		}
		return nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/password", url.Values{
		"current_password": {"old-password"},
		"new_password":     {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	})))

	assertRedirect(t, rec, "/profile?tab=password")
}

func TestProfileHandler_ChangePassword_WrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.users.changePasswordFn = func(ctx context.Context, userID, keepSessionID, current, next string) error {
		return &model.InvalidCredentialsError{Reason: "current password does not match"}
	}

	rec := env.serve(env.signIn(t, postForm("/profile/password", url.Values{
		"current_password": {"nope-nope"},
		"new_password":     {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	})))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProfileHandler_LinkChannel(t *testing.T) {
	env := newTestEnv(t)
	var got string
	env.users.linkChannelFn = func(ctx context.Context, userID, channelURL string) (*model.User, error) {
		got = channelURL
		updated := *env.user
		updated.ChannelURL = channelURL
		return &updated, nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/channel", url.Values{
		"channel_url": {"https://www.youtube.com/@creator"},
	})))

	assertRedirect(t, rec, "/profile")
	if got != "https://www.youtube.com/@creator" {
		t.Errorf("LinkChannel(%q)", got)
	}
}

func TestProfileHandler_LinkChannel_RejectsNonYouTube(t *testing.T) {
	env := newTestEnv(t)
	env.users.linkChannelFn = func(ctx context.Context, userID, channelURL string) (*model.User, error) {
		t.Error("LinkChannel should not be called for a non-YouTube URL")
		return nil, nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/channel", url.Values{
		"channel_url": {"https://example.com/@creator"},
	})))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestProfileHandler_DeleteAccount_RequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.users.withdrawFn = func(ctx context.Context, userID string) error {
		t.Error("Withdraw should not be called without confirmation")
		return nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/delete", nil)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	assertContains(t, rec, "Please confirm that you want to delete your account.")
}

func TestProfileHandler_DeleteAccount_LogsOutAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	var withdrawn string
	env.users.withdrawFn = func(ctx context.Context, userID string) error {
		withdrawn = userID
		return nil
	}

	rec := env.serve(env.signIn(t, postForm("/profile/delete", url.Values{"confirm": {"on"}})))

	assertRedirect(t, rec, "/login")
	if withdrawn != "user-1" {
		t.Errorf("Withdraw(%q)", withdrawn)
	}
	if c := findCookie(rec, session.CookieName); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie should be cleared")
	}
	if findCookie(rec, flashCookieName) == nil {
		t.Error("flash cookie should be set for the login page")
	}
}
