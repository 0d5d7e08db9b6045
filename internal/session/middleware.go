package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type contextKey struct{}

// NewContext はストアをコンテキストに格納する。
func NewContext(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, store)
}

// FromContext はコンテキストからストアを取り出す。
func FromContext(ctx context.Context) (*Store, bool) {
	store, ok := ctx.Value(contextKey{}).(*Store)
	return store, ok && store != nil
}

// Factory はリクエストごとにCookieを永続化先とするStoreを生成する。
type Factory struct {
	Auth        Authenticator
	Codec       *TokenCodec
	Cookie      CookieOptions
	InitTimeout time.Duration
	Logger      *slog.Logger
}

// New はリクエストに紐づくStoreを生成する。
func (f *Factory) New(w http.ResponseWriter, r *http.Request) *Store {
	return NewStore(f.Auth, NewCookieStorage(w, r, f.Cookie), f.Codec, StoreConfig{
		InitTimeout: f.InitTimeout,
		Logger:      f.Logger,
	})
}

// Middleware はリクエストごとにStoreを生成・初期化してコンテキストに注入する。
// 初期化が完了しない間はloadingのみを返し、後続のルーティングは行わない。
func Middleware(f *Factory, loading http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := f.New(w, r)
			if err := store.Initialize(r.Context()); err != nil {
				slog.Error("session initialization incomplete",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				loading.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), store)))
		})
	}
}
