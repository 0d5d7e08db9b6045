// Package handler はビューとJSON APIのHTTPハンドラーを提供する。
package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/retinaseo/internal/metrics"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/session"
)

const oauthStateCookie = "oauth_state"

// OAuthLinks は認証ハンドラーが必要とするOAuthプロバイダー情報。
type OAuthLinks interface {
	Providers() []string
	GetLoginURL(provider, state string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はログイン・登録・ログアウトのHTTPハンドラー。
// 認証状態の変更はリクエストのセッションストアを通して行い、
// 成功時のリダイレクトはguardに任せる。
type AuthHandler struct {
	links    OAuthLinks
	renderer *Renderer
	metrics  metrics.MetricsCollector
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(links OAuthLinks, renderer *Renderer, collector metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		links:    links,
		renderer: renderer,
		metrics:  collector,
		config:   config,
	}
}

type authView struct {
	Email     string
	Name      string
	Providers []string
}

func (h *AuthHandler) view(email, name string) authView {
	v := authView{Email: email, Name: name}
	if h.links != nil {
		v.Providers = h.links.Providers()
	}
	return v
}

// LoginPage はログイン画面を表示する。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "login", &page{
		Title: "Sign in",
		Flash: popFlash(w, r),
		Data:  h.view("", ""),
	})
}

// Login はメールアドレスとパスワードでログインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	p := &page{Title: "Sign in"}
	if errs := bindForm(w, r, &form); errs != nil {
		p.Fields = errs
		p.Data = h.view(form.Email, "")
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "login", p)
		return
	}

	store := storeFrom(r)
	if err := store.Login(r.Context(), form.Email, form.Password); err != nil {
		h.metrics.RecordLogin("password", metrics.OutcomeFailure)
		p.Data = h.view(form.Email, "")
		h.renderer.renderError(w, r, "login", p, err)
		return
	}
	h.metrics.RecordLogin("password", metrics.OutcomeSuccess)
}

// RegisterPage は登録画面を表示する。
// GET /register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "register", &page{
		Title: "Create account",
		Data:  h.view("", ""),
	})
}

// Register はアカウントを作成してログインする。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var form registerForm
	p := &page{Title: "Create account"}
	if errs := bindForm(w, r, &form); errs != nil {
		p.Fields = errs
		p.Data = h.view(form.Email, form.Name)
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "register", p)
		return
	}

	store := storeFrom(r)
	if err := store.Register(r.Context(), form.Email, form.Password, form.Name); err != nil {
		p.Data = h.view(form.Email, form.Name)
		h.renderer.renderError(w, r, "register", p, err)
		return
	}
	h.metrics.RecordRegistration("password")
}

// OAuthLogin は外部IdPの認可フローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	loginURL, err := h.links.GetLoginURL(provider, state)
	if err != nil {
		h.renderer.renderError(w, r, "login", &page{Title: "Sign in", Data: h.view("", "")}, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// OAuthCallback は外部IdPからのコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	p := &page{Title: "Sign in", Data: h.view("", "")}

	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		h.metrics.RecordLogin(provider, metrics.OutcomeRejected)
		h.renderer.renderError(w, r, "login", p, &model.OAuthError{Provider: provider})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. IdPがエラーを返した場合（利用者による拒否を含む）
	code := r.URL.Query().Get("code")
	if code == "" {
		h.metrics.RecordLogin(provider, metrics.OutcomeFailure)
		h.renderer.renderError(w, r, "login", p, &model.OAuthError{Provider: provider})
		return
	}

	// 3. 認証してセッションを発行
	if err := storeFrom(r).SocialLogin(r.Context(), provider, code); err != nil {
		h.metrics.RecordLogin(provider, metrics.OutcomeFailure)
		h.renderer.renderError(w, r, "login", p, err)
		return
	}
	h.metrics.RecordLogin(provider, metrics.OutcomeSuccess)
}

// Logout はセッションを破棄する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := storeFrom(r).Logout(r.Context()); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// storeFrom はリクエストのセッションストアを返す。
// ルーターはセッションミドルウェアの内側でのみハンドラーを呼ぶ。
func storeFrom(r *http.Request) *session.Store {
	store, _ := session.FromContext(r.Context())
	return store
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

