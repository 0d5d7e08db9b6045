package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/retinaseo/internal/middleware"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/session"
	"github.com/hitoshi/retinaseo/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// page はレイアウトと各ビューに渡すデータ。
type page struct {
	Title     string
	Active    string // ナビゲーションの選択状態
	User      *model.User
	CSRFToken string
	Flash     string
	Error     string
	Fields    validation.FieldErrors
	Data      any
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"join": strings.Join,
	"words": func(s string) int {
		return len(strings.Fields(s))
	},
	"chars": utf8.RuneCountInString,
	"initial": func(name string) string {
		r, _ := utf8.DecodeRuneInString(name)
		if r == utf8.RuneError {
			return "?"
		}
		return strings.ToUpper(string(r))
	},
}

// Renderer は埋め込みテンプレートからビューを描画する。
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewRenderer はtemplates/配下の全ビューをlayout.htmlと組み合わせて解析する。
func NewRenderer(logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if name == "layout" {
			continue
		}
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Render はビューを描画する。書き込み前にバッファへ実行し、失敗時は500を返す。
func (rn *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, p *page) {
	t, ok := rn.pages[name]
	if !ok {
		rn.logger.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if p.CSRFToken == "" {
		p.CSRFToken = middleware.CSRFToken(r.Context())
	}
	if p.User == nil {
		if store, ok := session.FromContext(r.Context()); ok {
			p.User = store.User()
		}
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		rn.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError はドメインエラーを画面上部のバナーとして表示する。
func (rn *Renderer) renderError(w http.ResponseWriter, r *http.Request, name string, p *page, err error) {
	apiErr, status := model.ToAPIError(err)
	if status >= http.StatusInternalServerError {
		rn.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	p.Error = apiErr.Message
	rn.Render(w, r, status, name, p)
}

// LoadingHandler はセッション初期化が完了しない間に返す画面。
// ブラウザは1秒後に同じURLを再読み込みする。
func (rn *Renderer) LoadingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Refresh", "1")
		rn.Render(w, r, http.StatusServiceUnavailable, "loading", &page{Title: "Loading"})
	})
}

// ErrorPageHandler はpanic復旧時に返す500画面。
func (rn *Renderer) ErrorPageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rn.Render(w, r, http.StatusInternalServerError, "error", &page{Title: "Something went wrong"})
	})
}

// NotFound はどのルートにも一致しないリクエストに404画面を返す。
func (rn *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rn.Render(w, r, http.StatusNotFound, "notfound", &page{Title: "Page not found"})
}

// StaticHandler は埋め込みの静的ファイルを/static/配下で配信する。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
