// Package billing はプランカタログとプラン変更（決済を含む）を提供する。
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/hitoshi/retinaseo/internal/model"
)

// AnnualDiscountPercent は年払い時の割引率（表示用）。
var AnnualDiscountPercent = decimal.RequireFromString("16.7")

// PlanInfo はプランの価格と付与クレジット。
type PlanInfo struct {
	Plan         model.Plan
	Description  string
	MonthlyPrice decimal.Decimal
	AnnualPrice  decimal.Decimal
	Credits      int    // プラン変更時に保証するクレジット数
	Generations  string // 表示用の生成回数
	Features     []string
	Popular      bool
}

// Price は指定周期の価格を返す。
func (p PlanInfo) Price(period model.BillingPeriod) decimal.Decimal {
	if period == model.BillingAnnual {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// AnnualSavings は年払いで月払い12か月分より安くなる金額を返す。
func (p PlanInfo) AnnualSavings() decimal.Decimal {
	return p.MonthlyPrice.Mul(decimal.NewFromInt(12)).Sub(p.AnnualPrice)
}

// IsFree は無料プランかを返す。
func (p PlanInfo) IsFree() bool {
	return p.MonthlyPrice.IsZero() && p.AnnualPrice.IsZero()
}

var catalog = []PlanInfo{
	{
		Plan:         model.PlanFree,
		Description:  "Try RetinaSEO on a few videos",
		MonthlyPrice: decimal.Zero,
		AnnualPrice:  decimal.Zero,
		Credits:      20,
		Generations:  "2 full generations",
		Features:     []string{"Title, description and tag generation", "Generation history"},
	},
	{
		Plan:         model.PlanBasic,
		Description:  "For creators getting started",
		MonthlyPrice: decimal.RequireFromString("9.99"),
		AnnualPrice:  decimal.RequireFromString("99.99"),
		Credits:      500,
		Generations:  "50 generations per month",
		Features:     []string{"Everything in Free", "Keyword targeting", "Email support"},
	},
	{
		Plan:         model.PlanPro,
		Description:  "For growing channels",
		MonthlyPrice: decimal.RequireFromString("19.99"),
		AnnualPrice:  decimal.RequireFromString("199.99"),
		Credits:      2000,
		Generations:  "200 generations per month",
		Features:     []string{"Everything in Basic", "Custom tone and style", "Channel video suggestions", "Priority support"},
		Popular:      true,
	},
	{
		Plan:         model.PlanEnterprise,
		Description:  "For agencies and networks",
		MonthlyPrice: decimal.RequireFromString("49.99"),
		AnnualPrice:  decimal.RequireFromString("499.99"),
		Credits:      10000,
		Generations:  "Unlimited generations",
		Features:     []string{"Everything in Pro", "Multiple channels", "Dedicated account manager"},
	},
}

// Catalog は全プランを上位順に返す。
func Catalog() []PlanInfo {
	out := make([]PlanInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup はプランの情報を返す。
func Lookup(plan model.Plan) (PlanInfo, bool) {
	for _, p := range catalog {
		if p.Plan == plan {
			return p, true
		}
	}
	return PlanInfo{}, false
}
