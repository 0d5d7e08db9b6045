package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/retinaseo/internal/channel"
	"github.com/hitoshi/retinaseo/internal/generation"
	"github.com/hitoshi/retinaseo/internal/model"
)

const (
	historyLimit     = 20
	recentVideoLimit = 6
)

// GenerationService は生成関連ハンドラーが必要とするサービスインターフェース。
type GenerationService interface {
	Submit(ctx context.Context, user *model.User, req generation.Request) (*generation.Outcome, error)
	History(ctx context.Context, userID, query string, limit int) ([]*model.Generation, error)
	Count(ctx context.Context, userID string) (int, error)
}

// ChannelReader は連携チャンネルの最新動画を取得する。
type ChannelReader interface {
	RecentVideos(ctx context.Context, channelURL string, limit int) ([]channel.Video, error)
}

// DashboardHandler はダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	generations GenerationService
	channels    ChannelReader
	renderer    *Renderer
}

// NewDashboardHandler はDashboardHandlerを生成する。channelsはnil可。
func NewDashboardHandler(generations GenerationService, channels ChannelReader, renderer *Renderer) *DashboardHandler {
	return &DashboardHandler{
		generations: generations,
		channels:    channels,
		renderer:    renderer,
	}
}

type dashboardView struct {
	Credits      int
	PlanLabel    string
	Total        int
	Query        string
	History      []*model.Generation
	ChannelURL   string
	Videos       []videoView
	ChannelError string
}

type videoView struct {
	channel.Video
	OptimizeURL string
}

// Dashboard は統計、生成履歴、連携チャンネルの最新動画を表示する。
// GET /dashboard?q=検索語
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	total, err := h.generations.Count(r.Context(), user.ID)
	if err != nil {
		h.renderer.renderError(w, r, "dashboard", &page{Title: "Dashboard", Active: "dashboard", Data: dashboardView{}}, err)
		return
	}
	history, err := h.generations.History(r.Context(), user.ID, query, historyLimit)
	if err != nil {
		h.renderer.renderError(w, r, "dashboard", &page{Title: "Dashboard", Active: "dashboard", Data: dashboardView{}}, err)
		return
	}

	view := dashboardView{
		Credits:    user.Credits,
		PlanLabel:  user.Plan.Label(),
		Total:      total,
		Query:      query,
		History:    history,
		ChannelURL: user.ChannelURL,
	}
	if user.ChannelURL != "" && h.channels != nil {
		view.Videos, view.ChannelError = h.recentVideos(r.Context(), user.ChannelURL)
	}

	h.renderer.Render(w, r, http.StatusOK, "dashboard", &page{
		Title:  "Dashboard",
		Active: "dashboard",
		Flash:  popFlash(w, r),
		Data:   view,
	})
}

// recentVideos はチャンネルの最新動画を取得する。
// 取得に失敗してもダッシュボード全体は表示する。
// 取得時間の上限はReader側のCHANNEL_FETCH_TIMEOUTに従う。
func (h *DashboardHandler) recentVideos(ctx context.Context, channelURL string) ([]videoView, string) {
	videos, err := h.channels.RecentVideos(ctx, channelURL, recentVideoLimit)
	if err != nil {
		slog.Warn("failed to load channel videos", slog.String("error", err.Error()))
		return nil, "We couldn't load your latest uploads right now."
	}

	out := make([]videoView, 0, len(videos))
	for _, v := range videos {
		out = append(out, videoView{
			Video:       v,
			OptimizeURL: "/generator?topic=" + url.QueryEscape(v.Title),
		})
	}
	return out, ""
}
