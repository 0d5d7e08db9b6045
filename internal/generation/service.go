package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/retinaseo/internal/metrics"
	"github.com/hitoshi/retinaseo/internal/model"
	"github.com/hitoshi/retinaseo/internal/repository"
	"github.com/hitoshi/retinaseo/internal/security"
)

// DefaultLockTTL は生成中ロックの最大保持時間。生成タイムアウトより長くする。
const DefaultLockTTL = 2 * time.Minute

// ServiceConfig は生成サービスの設定。
type ServiceConfig struct {
	Timeout time.Duration // 生成サービス呼び出しのタイムアウト。0は無制限
	LockTTL time.Duration
}

// Outcome は生成成功時の結果。
type Outcome struct {
	Generation *model.Generation
	Credits    int // 減算後の残クレジット
}

// Service は生成リクエストの受付からクレジット消費までを扱う。
type Service struct {
	generator Generator
	locker    Locker
	repo      repository.GenerationRepository
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	generator Generator,
	locker Locker,
	repo repository.GenerationRepository,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.LockTTL == 0 {
		config.LockTTL = DefaultLockTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		generator: generator,
		locker:    locker,
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Submit は生成リクエストを処理する。
//
// 検証エラーと残高不足は生成サービスを呼び出す前に返す。同一ユーザーの生成が
// 処理中の場合はErrGenerationInProgressを返す（待機しない）。
// 生成に失敗した場合はGenerationErrorを返し、クレジットは消費しない。
func (s *Service) Submit(ctx context.Context, user *model.User, req Request) (*Outcome, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	if errs := req.Validate(); errs != nil {
		return nil, model.NewFieldValidationError(errs.First(), errs)
	}

	cost := req.Cost()
	if user.Credits < cost {
		s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeRejected)
		return nil, &model.InsufficientCreditsError{Required: cost, Available: user.Credits}
	}

	release, ok, err := s.locker.Acquire(ctx, user.ID, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !ok {
		s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeRejected)
		return nil, model.ErrGenerationInProgress
	}
	defer release()

	result, err := s.generate(ctx, req)
	if err != nil {
		s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeFailure)
		s.logger.Warn("generation failed",
			slog.String("user_id", user.ID),
			slog.String("content_type", string(req.ContentType)),
			slog.String("error", err.Error()),
		)
		return nil, &model.GenerationError{Err: err}
	}

	gen := &model.Generation{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Topic:       req.Topic,
		Keywords:    req.Keywords,
		Style:       req.Style,
		ContentType: req.ContentType,
		Result:      *result,
		Cost:        cost,
		CreatedAt:   s.now(),
	}

	remaining, err := s.repo.CreateWithDebit(ctx, gen)
	if errors.Is(err, repository.ErrInsufficientCredits) {
		// 別リクエストで先に消費された。remainingは減算できなかった時点の残高
		s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeRejected)
		return nil, &model.InsufficientCreditsError{Required: cost, Available: remaining}
	}
	if err != nil {
		s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeFailure)
		return nil, fmt.Errorf("failed to record generation: %w", err)
	}

	s.metrics.RecordGeneration(string(req.ContentType), metrics.OutcomeSuccess)
	s.metrics.RecordCreditsDebited(cost)
	s.logger.Info("generation completed",
		slog.String("user_id", user.ID),
		slog.String("generation_id", gen.ID),
		slog.String("content_type", string(req.ContentType)),
		slog.Int("cost", cost),
		slog.Int("credits_remaining", remaining),
	)

	return &Outcome{Generation: gen, Credits: remaining}, nil
}

// generate は生成サービスを呼び出し、結果を検証・サニタイズする。
// 要求されていないフィールドは捨てる。
func (s *Service) generate(ctx context.Context, req Request) (*model.GenerationResult, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := s.now()
	raw, err := s.generator.Generate(ctx, req)
	s.metrics.RecordGenerationLatency(s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errEmptyResult("result")
	}

	result := &model.GenerationResult{}
	if req.ContentType.WantsTitles() {
		result.Titles = s.sanitizer.SanitizeList(raw.Titles)
	}
	if req.ContentType.WantsDescription() {
		result.Description = s.sanitizer.Sanitize(raw.Description)
	}
	if req.ContentType.WantsTags() {
		result.Tags = s.sanitizer.SanitizeList(raw.Tags)
	}

	if err := checkResult(req.ContentType, result); err != nil {
		return nil, err
	}
	return result, nil
}

// History はダッシュボード用に生成履歴を返す。queryはトピックとタイトルの部分一致検索。
func (s *Service) History(ctx context.Context, userID, query string, limit int) ([]*model.Generation, error) {
	gens, err := s.repo.ListByUser(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return gens, nil
}

// Count はユーザーの生成総数を返す。
func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return n, nil
}
