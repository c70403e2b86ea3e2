package payment

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
	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

// ReasonLedgerDebitFailed 課金成功後に出金を記録できなかった場合の失敗理由
const ReasonLedgerDebitFailed = "ledger_debit_failed"

// PaymentApplicationService 決済アプリケーションサービス
// 決済レコードの作成、ゲートウェイ呼び出し、状態と残高の確定を1つの操作として扱う
type PaymentApplicationService struct {
	store           ledger.Store
	gateway         gateway.Gateway
	cache           ledger.StatusCache
	publisher       event.Publisher
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	gatewayTimeout  time.Duration
	defaultCurrency string
	now             func() time.Time
}

// Option PaymentApplicationServiceのオプション
type Option func(*PaymentApplicationService)

// WithStatusCache ステータスキャッシュを設定
func WithStatusCache(cache ledger.StatusCache) Option {
	return func(s *PaymentApplicationService) {
		s.cache = cache
	}
}

// WithPublisher イベント発行先を設定
func WithPublisher(p event.Publisher) Option {
	return func(s *PaymentApplicationService) {
		s.publisher = p
	}
}

// WithGatewayTimeout ゲートウェイ呼び出しのタイムアウトを設定（0なら無制限）
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *PaymentApplicationService) {
		s.gatewayTimeout = d
	}
}

// WithDefaultCurrency 通貨省略時の通貨コードを設定
func WithDefaultCurrency(c string) Option {
	return func(s *PaymentApplicationService) {
		s.defaultCurrency = c
	}
}

// WithClock 時刻の取得方法を差し替える
func WithClock(now func() time.Time) Option {
	return func(s *PaymentApplicationService) {
		s.now = now
	}
}

// NewPaymentApplicationService 新しいPaymentApplicationServiceを作成
func NewPaymentApplicationService(
	store ledger.Store,
	gw gateway.Gateway,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	opts ...Option,
) *PaymentApplicationService {
	s := &PaymentApplicationService{
		store:           store,
		gateway:         gw,
		cache:           ledger.NopStatusCache{},
		publisher:       event.NopPublisher{},
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("payment-service"),
		defaultCurrency: payment.DefaultCurrency,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitPayment 決済を申請する
// 同じ冪等キーで有効な決済があればそのレコードをそのまま返す
// ゲートウェイが成功しなかった場合は *payment.GatewayFailureError を返す
func (s *PaymentApplicationService) SubmitPayment(ctx context.Context, req *SubmitPaymentRequest) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.SubmitPayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	)

	s.logger.Info(ctx, "Submitting payment", map[string]interface{}{
		"user_id": req.UserID,
		"amount":  req.Amount,
	})

	if err := s.validate(req); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// 冪等な再送
	if req.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			s.logReplay(ctx, existing)
			return existing, nil
		}
		if !errors.Is(err, payment.ErrPaymentNotFound) {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to find payment by idempotency key: %w", err)
		}
	}

	p, replayed, err := s.create(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if replayed {
		s.logReplay(ctx, p)
		return p, nil
	}
	span.SetAttributes(attribute.String("payment_id", p.PaymentID()))

	p, err = s.startProcessing(ctx, p)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// ストアのロックを持たずにゲートウェイを呼び出す
	res := s.charge(ctx, p, req.Method)

	// 呼び出し元が切断しても processing のまま残さない
	p, err = s.finalize(context.WithoutCancel(ctx), p, res)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return p, nil
}

func (s *PaymentApplicationService) validate(req *SubmitPaymentRequest) error {
	if req.Amount <= 0 || req.Amount > payment.MaxAmount {
		return fmt.Errorf("%w: %d", payment.ErrInvalidAmount, req.Amount)
	}
	if req.Method == nil {
		return payment.ErrInvalidMethod
	}
	if err := payment.ValidateUserID(req.UserID); err != nil {
		return err
	}
	if req.Currency == "" {
		req.Currency = s.defaultCurrency
	}
	return payment.ValidateCurrency(req.Currency)
}

// create pendingのレコードを作成する
// 冪等キーが競合した場合は先行するレコードを返す（replayed=true）
func (s *PaymentApplicationService) create(ctx context.Context, req *SubmitPaymentRequest) (*payment.Payment, bool, error) {
	spec := ledger.CreateSpec{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}

	collisionRetried := false
	for attempt := 0; attempt < 2; {
		p, err := s.store.CreatePayment(ctx, spec)
		if err == nil {
			return p, false, nil
		}
		// 新規作成時の競合（決済IDの衝突）は1度だけやり直す
		if errors.Is(err, payment.ErrConcurrentModification) && !collisionRetried {
			collisionRetried = true
			continue
		}
		attempt++
		if !errors.Is(err, payment.ErrDuplicateIdempotencyKey) {
			return nil, false, fmt.Errorf("failed to create payment: %w", err)
		}

		existing, findErr := s.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if findErr == nil {
			return existing, true, nil
		}
		if !errors.Is(findErr, payment.ErrPaymentNotFound) {
			return nil, false, fmt.Errorf("failed to find payment by idempotency key: %w", findErr)
		}
		// 先行レコードがその間にfailedになった
	}
	return nil, false, payment.ErrDuplicateIdempotencyKey
}

// startProcessing 作成直後のレコードをprocessingへ遷移させる
// 前提状態の不一致は1度だけ再試行する
func (s *PaymentApplicationService) startProcessing(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	change := ledger.StatusChange{
		PaymentID: p.PaymentID(),
		Expected:  payment.StatusPending,
		Next:      payment.StatusProcessing,
	}

	for attempt := 0; attempt < 2; attempt++ {
		change.At = s.now()
		commit, err := s.store.CompareAndSwapStatus(ctx, change)
		if err == nil {
			return commit.Payment, nil
		}
		if !errors.Is(err, ledger.ErrStaleState) {
			return nil, fmt.Errorf("failed to start processing: %w", err)
		}
		current, getErr := s.store.GetPayment(ctx, p.PaymentID())
		if getErr != nil || current.Status() != payment.StatusPending {
			break
		}
	}
	return nil, fmt.Errorf("%w: payment %s", payment.ErrConcurrentModification, p.PaymentID())
}

// charge ゲートウェイを呼び出す。errorは結果不明として扱う
func (s *PaymentApplicationService) charge(ctx context.Context, p *payment.Payment, method payment.Method) gateway.Result {
	ctx, span := s.tracer.Start(ctx, "PaymentApplicationService.charge")
	defer span.End()

	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.gateway.Charge(ctx, method, p.Amount())
	if err != nil {
		span.RecordError(err)
		res = gateway.TransientError(err.Error())
	}
	s.metrics.RecordGatewayLatency(ctx, method.Kind().String(), res.Outcome.String(), time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("payment_id", p.PaymentID()),
		attribute.String("outcome", res.Outcome.String()),
	)
	return res
}

// finalize ゲートウェイの結果に応じてレコードを確定する
func (s *PaymentApplicationService) finalize(ctx context.Context, p *payment.Payment, res gateway.Result) (*payment.Payment, error) {
	switch res.Outcome {
	case gateway.OutcomeSuccess:
		return s.finalizeSuccess(ctx, p, res)
	case gateway.OutcomeDeclined:
		return s.finalizeFailure(ctx, p, res.Reason, false)
	default:
		return s.finalizeFailure(ctx, p, res.Reason, true)
	}
}

// finalizeSuccess processed への遷移と出金を同じ原子単位で行う
func (s *PaymentApplicationService) finalizeSuccess(ctx context.Context, p *payment.Payment, res gateway.Result) (*payment.Payment, error) {
	commit, err := s.store.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID:  p.PaymentID(),
		Expected:   payment.StatusProcessing,
		Next:       payment.StatusProcessed,
		At:         s.now(),
		SideEffect: ledger.Debit(p.Amount()),
	})
	if errors.Is(err, ledger.ErrStaleState) {
		return nil, fmt.Errorf("%w: payment %s", payment.ErrConcurrentModification, p.PaymentID())
	}
	if err != nil {
		// ゲートウェイでは課金済みのため、照合対象として失敗で確定する
		s.logger.Error(ctx, "Failed to record debit after successful charge", err, map[string]interface{}{
			"payment_id":              p.PaymentID(),
			"gateway_reference":       res.Reference,
			"reconciliation_required": true,
		})
		return s.finalizeFailure(ctx, p, fmt.Sprintf("%s: %v", ReasonLedgerDebitFailed, err), true)
	}

	p = commit.Payment
	s.afterCommit(ctx, p, event.TypePaymentProcessed)
	s.metrics.RecordPayment(ctx, gateway.OutcomeSuccess.String(), p.Currency())
	if acc := commit.Account; acc != nil {
		s.metrics.RecordAccountBalance(ctx, acc.UserID(), acc.Balance())
		if acc.IsNegative() {
			s.metrics.RecordNegativeBalance(ctx, acc.UserID())
			s.logger.Warn(ctx, "Account balance became negative", map[string]interface{}{
				"user_id": acc.UserID(),
				"balance": acc.Balance(),
			})
		}
	}

	s.logger.Info(ctx, "Payment processed", map[string]interface{}{
		"payment_id":        p.PaymentID(),
		"user_id":           p.UserID(),
		"amount":            p.Amount(),
		"gateway_reference": res.Reference,
	})
	return p, nil
}

// finalizeFailure failed へ遷移させる。残高は変更しない
func (s *PaymentApplicationService) finalizeFailure(ctx context.Context, p *payment.Payment, reason string, reconcile bool) (*payment.Payment, error) {
	commit, err := s.store.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID:           p.PaymentID(),
		Expected:            payment.StatusProcessing,
		Next:                payment.StatusFailed,
		At:                  s.now(),
		FailureReason:       reason,
		NeedsReconciliation: reconcile,
	})
	if errors.Is(err, ledger.ErrStaleState) {
		return nil, fmt.Errorf("%w: payment %s", payment.ErrConcurrentModification, p.PaymentID())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize payment %s: %w", p.PaymentID(), err)
	}
	p = commit.Payment

	fields := map[string]interface{}{
		"payment_id": p.PaymentID(),
		"user_id":    p.UserID(),
		"amount":     p.Amount(),
		"reason":     reason,
	}

	if reconcile {
		fields["reconciliation_required"] = true
		s.logger.Warn(ctx, "Payment outcome unknown, reconciliation required", fields)
		s.afterCommit(ctx, p, event.TypePaymentReconciliationRequired)
		s.metrics.RecordPayment(ctx, gateway.OutcomeTransientError.String(), p.Currency())
		s.metrics.RecordReconciliationRequired(ctx, reason)
		return nil, payment.NewGatewayFailureError(p, payment.ErrGatewayTransient, reason)
	}

	s.logger.Info(ctx, "Payment declined", fields)
	s.afterCommit(ctx, p, event.TypePaymentFailed)
	s.metrics.RecordPayment(ctx, gateway.OutcomeDeclined.String(), p.Currency())
	return nil, payment.NewGatewayFailureError(p, payment.ErrGatewayDeclined, reason)
}

// afterCommit キャッシュ更新とイベント発行。失敗しても確定済みの結果は変えない
func (s *PaymentApplicationService) afterCommit(ctx context.Context, p *payment.Payment, t event.Type) {
	if err := s.cache.Put(ctx, p.PaymentID(), p.Status()); err != nil {
		s.logger.Warn(ctx, "Failed to update status cache", map[string]interface{}{
			"payment_id": p.PaymentID(),
			"error":      err.Error(),
		})
	}
	if err := s.publisher.Publish(ctx, event.FromPayment(t, p, s.now())); err != nil {
		s.logger.Warn(ctx, "Failed to publish payment event", map[string]interface{}{
			"payment_id": p.PaymentID(),
			"event_type": string(t),
			"error":      err.Error(),
		})
	}
}

func (s *PaymentApplicationService) logReplay(ctx context.Context, p *payment.Payment) {
	s.logger.Info(ctx, "Idempotent replay", map[string]interface{}{
		"payment_id":      p.PaymentID(),
		"user_id":         p.UserID(),
		"idempotency_key": p.IdempotencyKey(),
		"status":          p.Status().String(),
	})
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
