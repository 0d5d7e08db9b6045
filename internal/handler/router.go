package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/retinaseo/internal/guard"
	"github.com/hitoshi/retinaseo/internal/metrics"
	"github.com/hitoshi/retinaseo/internal/middleware"
	"github.com/hitoshi/retinaseo/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ミドルウェア依存
	Sessions          *session.Factory
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string

	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを復元する。
	// 信頼できるリバースプロキシを経由しない構成で有効にすると、IP単位のレート制限を回避される。
	TrustProxyHeaders bool

	Renderer *Renderer

	OAuth       OAuthLinks
	Generations GenerationService
	Channels    ChannelReader
	Billing     BillingService
	Users       UserService
}

// NewRouter はビューとAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP（TrustProxyHeaders時のみ） → Recovery → Logging → SecurityHeaders → RateLimit(General) → CSRF → Session → UserTag → Guard
//
// /health、/metrics、/static/* はセッション層の外に配置する。
// セッションの初期化が完了しないリクエストはルーティングせずloading画面を返す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rn := deps.Renderer

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(rn.ErrorPageHandler()))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- セッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", StaticHandler())

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
		MaxBodyBytes: maxFormBytes,
	}

	authHandler := NewAuthHandler(deps.OAuth, rn, deps.Metrics, AuthHandlerConfig{CookieSecure: deps.CookieSecure})
	dashboardHandler := NewDashboardHandler(deps.Generations, deps.Channels, rn)
	generatorHandler := NewGeneratorHandler(deps.Generations, rn)
	plansHandler := NewPlansHandler(deps.Billing, rn, deps.CookieSecure)
	profileHandler := NewProfileHandler(deps.Users, rn, deps.CookieSecure)
	apiHandler := NewAPIHandler(deps.Generations)

	// --- セッション層 ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware(middleware.ByIP))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))
		r.Use(session.Middleware(deps.Sessions, rn.LoadingHandler()))
		r.Use(middleware.NewUserTagMiddleware())

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			rn.Render(w, req, http.StatusOK, "landing", &page{Title: "Boost your YouTube reach"})
		})

		// 未認証のみ
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(guard.Anonymous))

			r.Get("/login", authHandler.LoginPage)
			r.Get("/register", authHandler.RegisterPage)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)

			r.Get("/auth/{provider}/login", authHandler.OAuthLogin)
			r.Get("/auth/{provider}/callback", authHandler.OAuthCallback)
		})

		// 認証済みのみ
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(guard.Authenticated))

			r.Get("/dashboard", dashboardHandler.Dashboard)

			r.Get("/generator", generatorHandler.GeneratorPage)
			r.With(deps.RateLimiter.GenerationMiddleware()).Post("/generator", generatorHandler.Generate)

			r.Get("/plans", plansHandler.PlansPage)
			r.Post("/plans", plansHandler.ChangePlan)

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.ProfilePage)
				r.Post("/", profileHandler.UpdateProfile)
				r.Post("/password", profileHandler.ChangePassword)
				r.Post("/channel", profileHandler.LinkChannel)
				r.Post("/delete", profileHandler.DeleteAccount)
			})

			r.Post("/logout", authHandler.Logout)
		})

		// JSON API
		r.Route("/api", func(r chi.Router) {
			if deps.CORSAllowedOrigin != "" {
				r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			}

			r.Get("/session", apiHandler.Session)
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAPIUser())
				r.Get("/generations", apiHandler.ListGenerations)
				r.With(deps.RateLimiter.GenerationMiddleware()).Post("/generations", apiHandler.CreateGeneration)
			})
		})

		r.NotFound(rn.NotFound)
	})

	return r
}
