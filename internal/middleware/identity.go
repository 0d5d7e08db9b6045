// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	requestInfoContextKey = contextKey("request_info")
	csrfTokenContextKey   = contextKey("csrf_token")
)

// requestInfo はログ出力用にリクエスト処理中に判明した情報を保持する。
// ロギングミドルウェアがセッション層より外側にあるため、ポインタで共有する。
type requestInfo struct {
	userID string
	plan   string
}

// UserIDFromContext はリクエストのセッションストアから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	store, ok := session.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("session store not found in context")
	}
	user := store.User()
	if user == nil {
		return "", fmt.Errorf("user is not authenticated")
	}
	return user.ID, nil
}

// NewUserTagMiddleware はリクエスト終了時点の認証ユーザーをログ用に記録する。
// セッションミドルウェアの内側に配置する。
func NewUserTagMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo)
			if !ok {
				return
			}
			store, ok := session.FromContext(r.Context())
			if !ok {
				return
			}
			if user := store.User(); user != nil {
				info.userID = user.ID
				info.plan = string(user.Plan)
			}
		})
	}
}

// RequireAPIUser は未認証のAPIリクエストに401を返す。
// ビューはguardでリダイレクトするが、JSON APIはリダイレクトしない。
func RequireAPIUser() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はRemoteAddrからIPアドレスを取り出す。
// TRUSTED_PROXY有効時のみchiのRealIPミドルウェアが事前に書き換える。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// wantsJSON はJSONで応答すべきリクエストかを判定する。
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
