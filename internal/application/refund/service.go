package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/event"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

// RefundApplicationService 返金アプリケーションサービス
type RefundApplicationService struct {
	store     ledger.Store
	cache     ledger.StatusCache
	publisher event.Publisher
	logger    *otelinfra.Logger
	metrics   *otelinfra.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option RefundApplicationServiceのオプション
type Option func(*RefundApplicationService)

// WithStatusCache ステータスキャッシュを設定
func WithStatusCache(cache ledger.StatusCache) Option {
	return func(s *RefundApplicationService) {
		s.cache = cache
	}
}

// WithPublisher イベント発行先を設定
func WithPublisher(p event.Publisher) Option {
	return func(s *RefundApplicationService) {
		s.publisher = p
	}
}

// WithClock 時刻の取得方法を差し替える
func WithClock(now func() time.Time) Option {
	return func(s *RefundApplicationService) {
		s.now = now
	}
}

// NewRefundApplicationService 新しいRefundApplicationServiceを作成
func NewRefundApplicationService(
	store ledger.Store,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	opts ...Option,
) *RefundApplicationService {
	s := &RefundApplicationService{
		store:     store,
		cache:     ledger.NopStatusCache{},
		publisher: event.NopPublisher{},
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("refund-service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefundPayment 決済を返金する
// processed の決済に対して入金が適用されるのは1回だけで、2回目以降は ErrIllegalTransition
func (s *RefundApplicationService) RefundPayment(ctx context.Context, req *RefundPaymentRequest) (*refund.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "RefundApplicationService.RefundPayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_id", req.PaymentID),
		attribute.Int64("amount", req.Amount),
	)

	s.logger.Info(ctx, "Refunding payment", map[string]interface{}{
		"payment_id": req.PaymentID,
		"amount":     req.Amount,
	})

	p, err := s.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if p.Status() != payment.StatusProcessed {
		err := fmt.Errorf("%w: payment %s is %s", payment.ErrIllegalTransition, p.PaymentID(), p.Status())
		recordSpanError(span, err)
		return nil, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = p.Amount()
	}
	if amount < 0 || amount > p.Amount() {
		err := fmt.Errorf("%w: refund %d exceeds payment %d", payment.ErrInvalidAmount, amount, p.Amount())
		recordSpanError(span, err)
		return nil, err
	}

	r, err := refund.NewRefund(p.PaymentID(), amount, s.now())
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// processed -> refund_pending で返金の権利を1件だけ確保する
	_, err = s.store.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID: p.PaymentID(),
		Expected:  payment.StatusProcessed,
		Next:      payment.StatusRefundPending,
		At:        s.now(),
		Refund:    r,
	})
	if errors.Is(err, ledger.ErrStaleState) {
		err = fmt.Errorf("%w: payment %s already being refunded", payment.ErrIllegalTransition, p.PaymentID())
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	s.putStatus(ctx, p.PaymentID(), payment.StatusRefundPending)

	// 入金と refunded への遷移は同じ原子単位
	at := s.now()
	if err := r.Process(at); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	commit, err := s.store.CompareAndSwapStatus(context.WithoutCancel(ctx), ledger.StatusChange{
		PaymentID:  p.PaymentID(),
		Expected:   payment.StatusRefundPending,
		Next:       payment.StatusRefunded,
		At:         at,
		Refund:     r,
		SideEffect: ledger.Credit(amount),
	})
	if errors.Is(err, ledger.ErrStaleState) {
		err = fmt.Errorf("%w: payment %s", payment.ErrConcurrentModification, p.PaymentID())
	}
	if err != nil {
		// refund_pending のまま残り、照合一覧に現れる
		s.logger.Error(ctx, "Failed to credit refund", err, map[string]interface{}{
			"payment_id":              p.PaymentID(),
			"refund_id":               r.RefundID(),
			"amount":                  amount,
			"reconciliation_required": true,
		})
		recordSpanError(span, err)
		return nil, err
	}

	s.afterCommit(ctx, commit)

	s.logger.Info(ctx, "Payment refunded", map[string]interface{}{
		"payment_id": p.PaymentID(),
		"refund_id":  commit.Refund.RefundID(),
		"user_id":    p.UserID(),
		"amount":     amount,
	})
	return commit.Refund, nil
}

// GetRefund 決済に紐づく返金を取得
func (s *RefundApplicationService) GetRefund(ctx context.Context, paymentID string) (*refund.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "RefundApplicationService.GetRefund")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	r, err := s.store.GetRefund(ctx, paymentID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return r, nil
}

// putStatus キャッシュの失敗は返金の結果に影響させない
func (s *RefundApplicationService) putStatus(ctx context.Context, paymentID string, st payment.Status) {
	if err := s.cache.Put(ctx, paymentID, st); err != nil {
		s.logger.Warn(ctx, "Failed to update status cache", map[string]interface{}{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
	}
}

func (s *RefundApplicationService) afterCommit(ctx context.Context, commit *ledger.Commit) {
	p := commit.Payment
	s.putStatus(ctx, p.PaymentID(), p.Status())

	e := event.FromPayment(event.TypePaymentRefunded, p, s.now())
	e.RefundID = commit.Refund.RefundID()
	e.Amount = commit.Refund.Amount()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "Failed to publish refund event", map[string]interface{}{
			"payment_id": p.PaymentID(),
			"error":      err.Error(),
		})
	}

	s.metrics.RecordRefund(ctx, p.Currency())
	if acc := commit.Account; acc != nil {
		s.metrics.RecordAccountBalance(ctx, acc.UserID(), acc.Balance())
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
