package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/retinaseo/internal/channel"
	"github.com/hitoshi/retinaseo/internal/guard"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/validation"
)

// UserService はプロフィールハンドラーが必要とするサービスインターフェース。
type UserService interface {
	UpdateProfile(ctx context.Context, userID, name, email string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, keepSessionID, current, next string) error
	LinkChannel(ctx context.Context, userID, channelURL string) (*model.User, error)
	// BillingHistory はプラン変更の課金履歴を新しい順に返す。
	BillingHistory(ctx context.Context, userID string) ([]*model.PlanChange, error)
	// Withdraw はユーザーの退会処理を実行する。
	// generations、sessions、identities、userを一括削除する。
	Withdraw(ctx context.Context, userID string) error
}

// プロフィール画面のタブ
var profileTabs = []string{"profile", "password", "billing", "security"}

// ProfileHandler はプロフィール画面のHTTPハンドラー。
type ProfileHandler struct {
	users        UserService
	renderer     *Renderer
	cookieSecure bool
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(users UserService, renderer *Renderer, cookieSecure bool) *ProfileHandler {
	return &ProfileHandler{
		users:        users,
		renderer:     renderer,
		cookieSecure: cookieSecure,
	}
}

type profileView struct {
	Tab         string
	Tabs        []string
	Name        string
	Email       string
	ChannelURL  string
	HasPassword bool
	PlanLabel   string
	Credits     int

	Billing      []billingRow
	BillingError string
}

// billingRow は課金履歴テーブルの1行。
type billingRow struct {
	Date   time.Time
	Change string
	Period string
	Amount string
	Status string
}

func periodLabel(p model.BillingPeriod) string {
	switch p {
	case model.BillingMonthly:
		return "Monthly"
	case model.BillingAnnual:
		return "Annual"
	default:
		return string(p)
	}
}

func newBillingRows(changes []*model.PlanChange) []billingRow {
	rows := make([]billingRow, 0, len(changes))
	for _, c := range changes {
		status := "Paid"
		if !c.Amount.IsPositive() {
			status = "No charge"
		}
		rows = append(rows, billingRow{
			Date:   c.CreatedAt,
			Change: c.FromPlan.Label() + " → " + c.ToPlan.Label(),
			Period: periodLabel(c.Period),
			Amount: "$" + c.Amount.StringFixed(2),
			Status: status,
		})
	}
	return rows
}

func newProfileView(user *model.User, tab string) profileView {
	valid := false
	for _, t := range profileTabs {
		if t == tab {
			valid = true
		}
	}
	if !valid {
		tab = "profile"
	}
	return profileView{
		Tab:         tab,
		Tabs:        profileTabs,
		Name:        user.Name,
		Email:       user.Email,
		ChannelURL:  user.ChannelURL,
		HasPassword: user.HasPassword(),
		PlanLabel:   user.Plan.Label(),
		Credits:     user.Credits,
	}
}

// ProfilePage はプロフィール画面を表示する。
// GET /profile?tab=profile|password|billing|security
// 課金履歴はbillingタブでのみ読み込む。取得に失敗してもタブ自体は表示する。
func (h *ProfileHandler) ProfilePage(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	view := newProfileView(user, r.URL.Query().Get("tab"))

	if view.Tab == "billing" {
		changes, err := h.users.BillingHistory(r.Context(), user.ID)
		if err != nil {
			slog.Warn("failed to load billing history",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			view.BillingError = "We couldn't load your billing history right now."
		} else {
			view.Billing = newBillingRows(changes)
		}
	}

	h.renderer.Render(w, r, http.StatusOK, "profile", &page{
		Title:  "Profile",
		Active: "profile",
		Flash:  popFlash(w, r),
		Data:   view,
	})
}

// fail は入力値を保持したまま指定タブでエラーを表示する。
func (h *ProfileHandler) fail(w http.ResponseWriter, r *http.Request, view profileView, fields validation.FieldErrors, err error) {
	p := &page{Title: "Profile", Active: "profile", Fields: fields, Data: view}
	if err != nil {
		h.renderer.renderError(w, r, "profile", p, err)
		return
	}
	h.renderer.Render(w, r, http.StatusUnprocessableEntity, "profile", p)
}

// UpdateProfile は名前とメールアドレスを更新する。
// POST /profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()

	var form profileForm
	if errs := bindForm(w, r, &form); errs != nil {
		view := newProfileView(user, "profile")
		view.Name, view.Email = form.Name, form.Email
		h.fail(w, r, view, errs, nil)
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user.ID, form.Name, form.Email)
	if err != nil {
		view := newProfileView(user, "profile")
		view.Name, view.Email = form.Name, form.Email
		h.fail(w, r, view, nil, err)
		return
	}

	store.Replace(updated)
	setFlash(w, h.cookieSecure, "Your profile has been updated.")
	guard.Redirect(w, r, "/profile")
}

// ChangePassword はパスワードを変更する。パスワード未設定のユーザーは現在のパスワードを省略できる。
// POST /profile/password
func (h *ProfileHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := storeFrom(r).User()
	view := newProfileView(user, "password")

	var form passwordForm
	errs := bindForm(w, r, &form)
	if user.HasPassword() && form.CurrentPassword == "" {
		if errs == nil {
			errs = validation.FieldErrors{}
		}
		errs["current_password"] = "Current password is required."
	}
	if errs != nil {
		h.fail(w, r, view, errs, nil)
		return
	}

	err := h.users.ChangePassword(r.Context(), user.ID, storeFrom(r).SessionID(), form.CurrentPassword, form.NewPassword)
	if err != nil {
		h.fail(w, r, view, nil, err)
		return
	}

	if err := storeFrom(r).Refresh(r.Context()); err != nil {
		h.fail(w, r, view, nil, err)
		return
	}
	setFlash(w, h.cookieSecure, "Your password has been changed. Other devices have been signed out.")
	guard.Redirect(w, r, "/profile?tab=password")
}

// LinkChannel はYouTubeチャンネルを連携する。空欄で連携を解除する。
// POST /profile/channel
func (h *ProfileHandler) LinkChannel(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()

	var form channelForm
	errs := bindForm(w, r, &form)
	if errs == nil && form.ChannelURL != "" {
		if err := channel.ValidateChannelURL(form.ChannelURL); err != nil {
			errs = validation.FieldErrors{"channel_url": "Enter a YouTube channel URL such as https://www.youtube.com/@yourchannel."}
		}
	}
	if errs != nil {
		view := newProfileView(user, "profile")
		view.ChannelURL = form.ChannelURL
		h.fail(w, r, view, errs, nil)
		return
	}

	updated, err := h.users.LinkChannel(r.Context(), user.ID, form.ChannelURL)
	if err != nil {
		h.fail(w, r, newProfileView(user, "profile"), nil, err)
		return
	}

	store.Replace(updated)
	msg := "Your YouTube channel has been linked."
	if form.ChannelURL == "" {
		msg = "Your YouTube channel has been unlinked."
	}
	setFlash(w, h.cookieSecure, msg)
	guard.Redirect(w, r, "/profile")
}

// DeleteAccount は退会処理を行いログアウトする。
// 何も書き込まずに返し、ログアウトによる遷移はguardに任せる。
// POST /profile/delete
func (h *ProfileHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()
	view := newProfileView(user, "security")

	var form deleteForm
	if errs := bindForm(w, r, &form); errs != nil || !form.Confirm {
		h.fail(w, r, view, validation.FieldErrors{"confirm": "Please confirm that you want to delete your account."}, nil)
		return
	}

	if err := h.users.Withdraw(r.Context(), user.ID); err != nil {
		h.fail(w, r, view, nil, err)
		return
	}
	if err := store.Logout(r.Context()); err != nil {
		h.fail(w, r, view, nil, err)
		return
	}
	setFlash(w, h.cookieSecure, "Your account has been deleted.")
}
