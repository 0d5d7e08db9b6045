package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/retinaseo/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit // API全般のレート（req/sec）
	GeneralBurst    int
	AuthRate        rate.Limit // ログイン・登録POSTのレート（IPごと）
	AuthBurst       int
	GenerationRate  rate.Limit // 生成リクエストのレート（ユーザーごと）
	GenerationBurst int
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// PerMinute は1分あたりの回数をrate.Limitに変換する。
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、認証 10 req/min/IP、生成 20 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     PerMinute(120),
		GeneralBurst:    120,
		AuthRate:        PerMinute(10),
		AuthBurst:       10,
		GenerationRate:  PerMinute(20),
		GenerationBurst: 20,
		CleanupInterval: 5 * time.Minute,
	}
}

// KeyFunc はリクエストからレート制限のキーを取り出す。空文字はキーなし。
type KeyFunc func(r *http.Request) string

// ByIP はクライアントIPをキーにする。
func ByIP(r *http.Request) string {
	return clientIP(r)
}

// ByUser は認証済みユーザーIDをキーにする。未認証の場合はIPにフォールバックする。
func ByUser(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

// keyedLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// bucketSet は同じレートを共有するキーごとのリミッター集合。
type bucketSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newBucketSet(name string, r rate.Limit, burst int) *bucketSet {
	return &bucketSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

func (b *bucketSet) allow(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	kl, ok := b.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(b.rate, b.burst)}
		b.limiters[key] = kl
	}
	kl.lastAccess = now
	return kl.limiter.AllowN(now, 1)
}

func (b *bucketSet) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

func (b *bucketSet) evict(olderThan time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, kl := range b.limiters {
		if kl.lastAccess.Before(olderThan) {
			delete(b.limiters, key)
		}
	}
}

// RateLimiter はキーごとのレート制限を管理する。
// API全般、認証、生成の3種類を独立に提供する。
type RateLimiter struct {
	config RateLimiterConfig

	general    *bucketSet
	auth       *bucketSet
	generation *bucketSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:     config,
		general:    newBucketSet("general", config.GeneralRate, config.GeneralBurst),
		auth:       newBucketSet("auth", config.AuthRate, config.AuthBurst),
		generation: newBucketSet("generation", config.GenerationRate, config.GenerationBurst),
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware(key KeyFunc) func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, key)
}

// AuthMiddleware はログイン・登録POSTのレート制限ミドルウェアを返す。
// 総当たりを抑えるため、IPごとに制限する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth, ByIP)
}

// GenerationMiddleware は生成リクエストのレート制限ミドルウェアを返す。
// セッションミドルウェアの内側に配置する。
func (rl *RateLimiter) GenerationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.generation, ByUser)
}

func (rl *RateLimiter) middleware(set *bucketSet, key KeyFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || set.allow(k, time.Now()) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("rate limit exceeded",
				slog.String("key", k),
				slog.String("limit_type", set.name),
				slog.String("path", r.URL.Path),
			)
			writeRateLimitResponse(w, set.rate)
		})
	}
}

// LimiterCount は指定種別で管理されているエントリ数を返す。テスト用。
func (rl *RateLimiter) LimiterCount(name string) int {
	switch name {
	case "general":
		return rl.general.len()
	case "auth":
		return rl.auth.len()
	case "generation":
		return rl.generation.len()
	default:
		return 0
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * rl.config.CleanupInterval)
	rl.general.evict(cutoff)
	rl.auth.evict(cutoff)
	rl.generation.evict(cutoff)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "rate_limit_exceeded",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	})
}
