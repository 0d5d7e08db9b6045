package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/retinaseo/internal/metrics"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/repository"
)

// Currency は課金通貨。
const Currency = "usd"

// Service はプラン変更を扱う。
type Service struct {
	userRepo repository.UserRepository
	gateway  Gateway
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, gateway Gateway, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo: userRepo,
		gateway:  gateway,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
	}
}

// ChangePlan はプランを変更し、更新後のユーザーを返す。
// 未知のプラン、同一プランへの変更、決済拒否はBillingErrorを返す。
// 無料プランへの変更は課金しない。クレジットは max(現在値, プランの付与数) になる。
func (s *Service) ChangePlan(ctx context.Context, user *model.User, planID, periodID string) (*model.User, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	plan, err := model.ParsePlan(planID)
	if err != nil {
		return nil, &model.BillingError{Reason: "unknown plan", Err: err}
	}
	period, err := model.ParseBillingPeriod(periodID)
	if err != nil {
		return nil, &model.BillingError{Reason: "unknown billing period", Err: err}
	}
	if plan == user.Plan {
		return nil, &model.BillingError{Reason: "you are already on the " + plan.Label() + " plan"}
	}

	info, ok := Lookup(plan)
	if !ok {
		return nil, &model.BillingError{Reason: "unknown plan"}
	}

	change := &model.PlanChange{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		FromPlan:  user.Plan,
		ToPlan:    plan,
		Period:    period,
		Amount:    decimal.Zero,
		CreatedAt: s.now(),
	}

	if !info.IsFree() {
		change.Amount = info.Price(period)
		receipt, err := s.gateway.Charge(ctx, &Charge{
			Reference:   change.ID,
			UserID:      user.ID,
			Email:       user.Email,
			Amount:      change.Amount,
			Currency:    Currency,
			Description: fmt.Sprintf("RetinaSEO %s (%s)", plan.Label(), period),
		})
		if err != nil {
			s.logger.Warn("plan payment failed",
				slog.String("user_id", user.ID),
				slog.String("plan", string(plan)),
				slog.String("error", err.Error()),
			)
			reason := "payment could not be processed"
			if errors.Is(err, ErrDeclined) {
				reason = "payment was declined"
			}
			return nil, &model.BillingError{Reason: reason, Err: err}
		}
		change.PaymentRef = receipt.PaymentRef
	}

	updated, err := s.userRepo.ChangePlan(ctx, change, info.Credits)
	if err != nil {
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}

	s.metrics.RecordPlanChange(string(change.FromPlan), string(change.ToPlan))
	s.logger.Info("plan changed",
		slog.String("user_id", user.ID),
		slog.String("from", string(change.FromPlan)),
		slog.String("to", string(change.ToPlan)),
		slog.String("period", string(period)),
		slog.String("amount", change.Amount.StringFixed(2)),
	)
	return updated, nil
}
