// Package guard はセッション状態に応じてビューへのアクセスを制御する。
package guard

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/hitoshi/retinaseo/internal/session"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Decision はガードの判定結果。
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Rule は認証状態から判定を返す純粋関数。
type Rule func(authenticated bool) Decision

// Authenticated は認証済みの閲覧者のみを通す。未認証はログイン画面へ。
func Authenticated(authenticated bool) Decision {
	if authenticated {
		return Decision{Allow: true}
	}
	return Decision{RedirectTo: LoginPath}
}

// Anonymous は未認証の閲覧者のみを通す。認証済みはダッシュボードへ。
func Anonymous(authenticated bool) Decision {
	if !authenticated {
		return Decision{Allow: true}
	}
	return Decision{RedirectTo: DashboardPath}
}

// Middleware はリクエストごとにruleを評価する。
// ハンドラー実行中にログイン/ログアウトで判定が反転し、かつ何も書き込まれていなければ、
// 新しい判定先へ303でリダイレクトする。判定が変わらず何も書き込まれていない場合は
// 同じパスへ303でリダイレクトする（Post/Redirect/Get）。
func Middleware(rule Rule) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, ok := session.FromContext(r.Context())
			if !ok || !store.Ready() {
				// ストア未初期化のまま判定はしない
				slog.Error("guard evaluated without a ready session store",
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				return
			}

			initial := rule(store.IsAuthenticated())
			if !initial.Allow {
				Redirect(w, r, initial.RedirectTo)
				return
			}

			var changed atomic.Bool
			unsubscribe := store.Subscribe(func(c session.Change) {
				if c.AuthChanged() {
					changed.Store(true)
				}
			})
			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r)
			unsubscribe()

			if tw.written {
				return
			}

			if changed.Load() {
				if after := rule(store.IsAuthenticated()); !after.Allow {
					Redirect(w, r, after.RedirectTo)
					return
				}
			}
			Redirect(w, r, r.URL.Path)
		})
	}
}

// Redirect は履歴に残らない303 See Otherでリダイレクトする。
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// trackingWriter はハンドラーがレスポンスを書き込んだかを記録する。
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
