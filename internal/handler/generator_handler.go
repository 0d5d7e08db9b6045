package handler

import (
	"net/http"

	"github.com/hitoshi/retinaseo/internal/generation"
	"github.com/hitoshi/retinaseo/internal/model"
)

// GeneratorHandler はSEOコンテンツ生成画面のHTTPハンドラー。
type GeneratorHandler struct {
	generations GenerationService
	renderer    *Renderer
}

// NewGeneratorHandler はGeneratorHandlerを生成する。
func NewGeneratorHandler(generations GenerationService, renderer *Renderer) *GeneratorHandler {
	return &GeneratorHandler{
		generations: generations,
		renderer:    renderer,
	}
}

type contentOption struct {
	Value      string
	Label      string
	Cost       int
	Selected   bool
	Affordable bool
}

type generatorView struct {
	Form       generatorForm
	Options    []contentOption
	Credits    int
	CanSubmit  bool
	Result     *model.GenerationResult
	ResultType model.ContentType
}

func newGeneratorView(form generatorForm, credits int) generatorView {
	selected, err := model.ParseContentType(form.ContentType)
	if err != nil {
		selected = model.ContentFull
	}
	form.ContentType = string(selected)

	view := generatorView{Form: form, Credits: credits}
	for _, ct := range model.ContentTypes {
		view.Options = append(view.Options, contentOption{
			Value:      string(ct),
			Label:      ct.Label(),
			Cost:       ct.Cost(),
			Selected:   ct == selected,
			Affordable: credits >= ct.Cost(),
		})
	}
	view.CanSubmit = credits >= selected.Cost()
	return view
}

// GeneratorPage は生成フォームを表示する。topicクエリで初期値を指定できる。
// GET /generator?topic=...
func (h *GeneratorHandler) GeneratorPage(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	form := generatorForm{
		Topic:       r.URL.Query().Get("topic"),
		ContentType: r.URL.Query().Get("type"),
	}
	h.renderer.Render(w, r, http.StatusOK, "generator", &page{
		Title:  "Generator",
		Active: "generator",
		Data:   newGeneratorView(form, user.Credits),
	})
}

// Generate は生成リクエストを処理し、結果を同じ画面に表示する。
// 失敗時は入力値を保持したままエラーを表示する。
// POST /generator
func (h *GeneratorHandler) Generate(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()
	p := &page{Title: "Generator", Active: "generator"}

	var form generatorForm
	if err := decodeForm(w, r, &form); err != nil {
		p.Data = newGeneratorView(form, user.Credits)
		h.renderer.renderError(w, r, "generator", p, model.NewValidationError("The form could not be read. Please try again."))
		return
	}

	req := generation.NewRequest(form.Topic, form.Keywords, form.ContentType, form.Style)
	if errs := req.Validate(); errs != nil {
		p.Fields = errs
		p.Data = newGeneratorView(form, user.Credits)
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "generator", p)
		return
	}

	outcome, err := h.generations.Submit(r.Context(), user, req)
	if err != nil {
		p.Data = newGeneratorView(form, user.Credits)
		h.renderer.renderError(w, r, "generator", p, err)
		return
	}

	updated := *user
	updated.Credits = outcome.Credits
	store.Replace(&updated)

	view := newGeneratorView(form, outcome.Credits)
	view.Result = &outcome.Generation.Result
	view.ResultType = outcome.Generation.ContentType
	p.User = store.User()
	p.Data = view
	h.renderer.Render(w, r, http.StatusOK, "generator", p)
}
