package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/retinaseo/internal/generation"
	"github.com/hitoshi/retinaseo/internal/middleware"
	"github.com/hitoshi/retinaseo/internal/model"
)

// maxJSONBytes はJSONリクエストボディの上限。
const maxJSONBytes = 64 << 10

// APIHandler はJSON APIのHTTPハンドラー。
type APIHandler struct {
	generations GenerationService
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(generations GenerationService) *APIHandler {
	return &APIHandler{generations: generations}
}

// userResponse はセッションのユーザー情報のJSONレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Plan      string    `json:"plan"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *userResponse `json:"user,omitempty"`
}

type generationRequest struct {
	Topic       string   `json:"topic"`
	Keywords    []string `json:"keywords"`
	ContentType string   `json:"content_type"`
	Style       string   `json:"style"`
}

type generationResponse struct {
	ID          string                 `json:"id"`
	Topic       string                 `json:"topic"`
	Keywords    []string               `json:"keywords,omitempty"`
	ContentType string                 `json:"content_type"`
	Result      model.GenerationResult `json:"result"`
	Cost        int                    `json:"cost"`
	CreatedAt   time.Time              `json:"created_at"`
}

type submitResponse struct {
	Generation generationResponse `json:"generation"`
	Credits    int                `json:"credits"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Plan:      string(u.Plan),
		Credits:   u.Credits,
		CreatedAt: u.CreatedAt,
	}
}

func toGenerationResponse(g *model.Generation) generationResponse {
	return generationResponse{
		ID:          g.ID,
		Topic:       g.Topic,
		Keywords:    g.Keywords,
		ContentType: string(g.ContentType),
		Result:      g.Result,
		Cost:        g.Cost,
		CreatedAt:   g.CreatedAt,
	}
}

// Session は現在のセッション状態を返す。未認証でも200を返す。
// GET /api/session
func (h *APIHandler) Session(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: user != nil,
		User:          toUserResponse(user),
	})
}

// ListGenerations は生成履歴を返す。
// GET /api/generations?q=検索語
func (h *APIHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	gens, err := h.generations.History(r.Context(), user.ID, strings.TrimSpace(r.URL.Query().Get("q")), historyLimit)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	out := make([]generationResponse, 0, len(gens))
	for _, g := range gens {
		out = append(out, toGenerationResponse(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": out})
}

// CreateGeneration は生成リクエストを処理する。
// POST /api/generations
func (h *APIHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()

	var body generationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, r, model.NewValidationError("Request body must be valid JSON."))
		return
	}

	req := generation.NewRequest(body.Topic, strings.Join(body.Keywords, ","), body.ContentType, body.Style)
	outcome, err := h.generations.Submit(r.Context(), user, req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	updated := *user
	updated.Credits = outcome.Credits
	store.Replace(&updated)

	writeJSON(w, http.StatusCreated, submitResponse{
		Generation: toGenerationResponse(outcome.Generation),
		Credits:    outcome.Credits,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
