package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Charge は1回の課金リクエスト。
type Charge struct {
	Reference   string // 冪等キーとメタデータに使う
	UserID      string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Receipt は課金結果。
type Receipt struct {
	PaymentRef string
	Status     string
}

// ErrDeclined は決済が拒否されたことを示す。
var ErrDeclined = errors.New("payment declined")

// Gateway は決済サービスの境界。
type Gateway interface {
	Charge(ctx context.Context, c *Charge) (*Receipt, error)
}

// MockGateway は常に成功する（Declineがtrueの場合は常に拒否する）決済。
type MockGateway struct {
	Delay   time.Duration
	Decline bool
}

// Charge は待機後に擬似的な決済結果を返す。
func (g *MockGateway) Charge(ctx context.Context, c *Charge) (*Receipt, error) {
	if g.Delay > 0 {
		timer := time.NewTimer(g.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if g.Decline {
		return nil, ErrDeclined
	}
	return &Receipt{PaymentRef: "mock_" + uuid.NewString(), Status: "succeeded"}, nil
}

// StripeGateway はStripe PaymentIntentで課金する。
type StripeGateway struct{}

// NewStripeGateway はStripeGatewayを生成する。APIキーはプロセス全体で共有される。
func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripeGateway{}, nil
}

// Charge はPaymentIntentを作成する。
// カード入力画面を持たないため、支払い方法待ちの状態も受付済みとして扱う。
func (g *StripeGateway) Charge(ctx context.Context, c *Charge) (*Receipt, error) {
	// 最小通貨単位（セント）
	cents := c.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(c.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"reference": c.Reference,
			"user_id":   c.UserID,
		},
	}
	params.Context = ctx
	if c.Reference != "" {
		params.SetIdempotencyKey(c.Reference)
	}
	if c.Email != "" {
		params.ReceiptEmail = stripe.String(c.Email)
	}
	if c.Description != "" {
		params.Description = stripe.String(c.Description)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return &Receipt{PaymentRef: pi.ID, Status: string(pi.Status)}, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return &Receipt{PaymentRef: pi.ID, Status: "pending_confirmation"}, nil
	case stripe.PaymentIntentStatusCanceled:
		return nil, fmt.Errorf("payment intent %s canceled: %w", pi.ID, ErrDeclined)
	default:
		return nil, fmt.Errorf("unexpected payment intent status %q: %w", pi.Status, ErrDeclined)
	}
}

// compile-time interface checks
var (
	_ Gateway = (*MockGateway)(nil)
	_ Gateway = (*StripeGateway)(nil)
)
