package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/retinaseo/internal/billing"
	"github.com/hitoshi/retinaseo/internal/guard"
	"github.com/hitoshi/retinaseo/internal/model"
)

// BillingService はプランハンドラーが必要とするサービスインターフェース。
type BillingService interface {
	ChangePlan(ctx context.Context, user *model.User, planID, periodID string) (*model.User, error)
}

// PlansHandler はプラン一覧とプラン変更のHTTPハンドラー。
type PlansHandler struct {
	billing      BillingService
	renderer     *Renderer
	cookieSecure bool
}

// NewPlansHandler はPlansHandlerを生成する。
func NewPlansHandler(billing BillingService, renderer *Renderer, cookieSecure bool) *PlansHandler {
	return &PlansHandler{
		billing:      billing,
		renderer:     renderer,
		cookieSecure: cookieSecure,
	}
}

type planCard struct {
	billing.PlanInfo
	Label   string
	Price   string
	Savings string
	Current bool
	Upgrade bool
}

type plansView struct {
	Period   string
	Annual   bool
	Discount string
	Plans    []planCard
}

func newPlansView(user *model.User, period model.BillingPeriod) plansView {
	view := plansView{
		Period:   string(period),
		Annual:   period == model.BillingAnnual,
		Discount: billing.AnnualDiscountPercent.String(),
	}
	for _, info := range billing.Catalog() {
		card := planCard{
			PlanInfo: info,
			Label:    info.Plan.Label(),
			Price:    info.Price(period).StringFixed(2),
			Current:  info.Plan == user.Plan,
			Upgrade:  info.Plan.Rank() > user.Plan.Rank(),
		}
		if savings := info.AnnualSavings(); savings.GreaterThan(decimal.Zero) {
			card.Savings = savings.StringFixed(2)
		}
		view.Plans = append(view.Plans, card)
	}
	return view
}

// PlansPage はプラン一覧を表示する。
// GET /plans?period=monthly|annual
func (h *PlansHandler) PlansPage(w http.ResponseWriter, r *http.Request) {
	period, err := model.ParseBillingPeriod(r.URL.Query().Get("period"))
	if err != nil {
		period = model.BillingMonthly
	}
	h.renderer.Render(w, r, http.StatusOK, "plans", &page{
		Title:  "Plans",
		Active: "plans",
		Flash:  popFlash(w, r),
		Data:   newPlansView(storeFrom(r).User(), period),
	})
}

// ChangePlan はプランを変更する。成功時はPost/Redirect/Getで一覧に戻る。
// POST /plans
func (h *PlansHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)
	user := store.User()

	var form planForm
	if errs := bindForm(w, r, &form); errs != nil {
		period, _ := model.ParseBillingPeriod(form.Period)
		if period == "" {
			period = model.BillingMonthly
		}
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "plans", &page{
			Title: "Plans", Active: "plans", Error: errs.First(),
			Data: newPlansView(user, period),
		})
		return
	}

	updated, err := h.billing.ChangePlan(r.Context(), user, form.Plan, form.Period)
	if err != nil {
		period, _ := model.ParseBillingPeriod(form.Period)
		h.renderer.renderError(w, r, "plans", &page{
			Title: "Plans", Active: "plans",
			Data: newPlansView(user, period),
		}, err)
		return
	}

	store.Replace(updated)
	setFlash(w, h.cookieSecure, fmt.Sprintf("You're now on the %s plan. You have %d credits.", updated.Plan.Label(), updated.Credits))
	guard.Redirect(w, r, "/plans")
}
