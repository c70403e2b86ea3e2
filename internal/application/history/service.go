package history

import (
	"context"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// HistoryApplicationService 決済の参照系アプリケーションサービス
type HistoryApplicationService struct {
	store   ledger.Store
	cache   ledger.StatusCache
	logger  *otelinfra.Logger
	metrics *otelinfra.Metrics
	tracer  trace.Tracer
}

// Option HistoryApplicationServiceのオプション
type Option func(*HistoryApplicationService)

// WithStatusCache ステータスキャッシュを設定
func WithStatusCache(cache ledger.StatusCache) Option {
	return func(s *HistoryApplicationService) {
		s.cache = cache
	}
}

// NewHistoryApplicationService 新しいHistoryApplicationServiceを作成
func NewHistoryApplicationService(
	store ledger.Store,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	opts ...Option,
) *HistoryApplicationService {
	s := &HistoryApplicationService{
		store:   store,
		cache:   ledger.NopStatusCache{},
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("history-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPaymentStatus 決済ステータスを取得
// キャッシュにあればそれを返し、なければStoreから読む
func (s *HistoryApplicationService) GetPaymentStatus(ctx context.Context, paymentID string) (payment.Status, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetPaymentStatus")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	status, ok, err := s.cache.Get(ctx, paymentID)
	if err != nil {
		s.logger.Warn(ctx, "Failed to read status cache", map[string]interface{}{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
	}
	if err == nil && ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return status, nil
	}

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}

	// 次回の参照用に書き戻す
	if err := s.cache.Put(ctx, paymentID, p.Status()); err != nil {
		s.logger.Warn(ctx, "Failed to update status cache", map[string]interface{}{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
	}
	return p.Status(), nil
}

// GetPayment 決済レコードを取得
func (s *HistoryApplicationService) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetPayment")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return p, nil
}

// ListUserPayments ユーザーの決済を作成順に遅延列挙する
// ページ単位でStoreから読み出し、呼び出し側がbreakした時点で読み出しを止める
func (s *HistoryApplicationService) ListUserPayments(ctx context.Context, userID string) iter.Seq2[*payment.Payment, error] {
	return ledger.Paginate(ctx, s.store, userID, maxLimit)
}

// GetUserPayments ユーザーの決済履歴を1ページ分取得
func (s *HistoryApplicationService) GetUserPayments(ctx context.Context, req *GetUserPaymentsRequest) (*GetUserPaymentsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetUserPayments")
	defer span.End()

	// バリデーション
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("limit", req.Limit),
		attribute.Int("offset", req.Offset),
	)

	s.logger.Info(ctx, "Getting payment history", map[string]interface{}{
		"user_id": req.UserID,
		"limit":   req.Limit,
		"offset":  req.Offset,
	})

	if err := payment.ValidateUserID(req.UserID); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	payments, err := s.store.ListByUser(ctx, req.UserID, req.Limit, req.Offset)
	if err != nil {
		recordSpanError(span, err)
		s.logger.Error(ctx, "Failed to get payment history", err, map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, fmt.Errorf("failed to get payment history: %w", err)
	}

	return &GetUserPaymentsResponse{
		Payments: payments,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}, nil
}

// GetBalance ユーザーの残高を取得
// 未登録のユーザーは残高0として扱う
func (s *HistoryApplicationService) GetBalance(ctx context.Context, userID string) (*account.Account, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.RecordAccountBalance(ctx, acc.UserID(), acc.Balance())
	return acc, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
