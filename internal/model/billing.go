package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod は課金周期を表す。
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingAnnual  BillingPeriod = "annual"
)

// ParseBillingPeriod は文字列をBillingPeriodに変換する。空文字はmonthly。
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	switch BillingPeriod(s) {
	case "":
		return BillingMonthly, nil
	case BillingMonthly, BillingAnnual:
		return BillingPeriod(s), nil
	default:
		return "", fmt.Errorf("unknown billing period: %q", s)
	}
}

// PlanChange はプラン変更の履歴1件を表す。
type PlanChange struct {
	ID         string
	UserID     string
	FromPlan   Plan
	ToPlan     Plan
	Period     BillingPeriod
	Amount     decimal.Decimal
	PaymentRef string
	CreatedAt  time.Time
}
