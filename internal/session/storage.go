package session

import (
	"net/http"
	"sync"
)

// CookieName はセッショントークンを保持するCookieの名前。
const CookieName = "retinaseo_session"

// Storage はセッショントークン1件を保持する永続化先。
// エントリが存在しない状態を未認証として扱う。
type Storage interface {
	Get() (string, bool)
	Set(value string)
	Remove()
}

// CookieOptions はセッションCookieの属性。
type CookieOptions struct {
	MaxAge int // 秒
	Secure bool
	Domain string
}

// CookieStorage はHTTP Only CookieをStorageとして扱う。
// 同一リクエスト内で書き込んだ値はレスポンス送信前でもGetで読める。
type CookieStorage struct {
	r    *http.Request
	w    http.ResponseWriter
	opts CookieOptions

	written bool
	value   string
}

// NewCookieStorage はリクエストとレスポンスに紐づくCookieStorageを生成する。
func NewCookieStorage(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieStorage {
	return &CookieStorage{r: r, w: w, opts: opts}
}

// Get は保存済みのトークンを返す。
func (s *CookieStorage) Get() (string, bool) {
	if s.written {
		return s.value, s.value != ""
	}
	c, err := s.r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set はトークンをCookieに書き込む。
func (s *CookieStorage) Set(value string) {
	s.written = true
	s.value = value
	http.SetCookie(s.w, s.cookie(value, s.opts.MaxAge))
}

// Remove はCookieを削除する。
func (s *CookieStorage) Remove() {
	s.written = true
	s.value = ""
	http.SetCookie(s.w, s.cookie("", -1))
}

func (s *CookieStorage) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// MemoryStorage はメモリ上のStorage実装。テストで使う。
type MemoryStorage struct {
	mu    sync.Mutex
	value string
	ok    bool
}

// NewMemoryStorage は空のMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.ok
}

func (s *MemoryStorage) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.ok = value, true
}

func (s *MemoryStorage) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.ok = "", false
}

var (
	_ Storage = (*CookieStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
