package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

const (
	// ReasonFlagged ゲートウェイの結果が不明だった
	ReasonFlagged = "gateway_outcome_unknown"
	// ReasonStuckProcessing processingのまま一定時間経過
	ReasonStuckProcessing = "stuck_processing"
	// ReasonStuckRefund refund_pendingのまま一定時間経過
	ReasonStuckRefund = "stuck_refund_pending"

	defaultLimit = 100
	maxLimit     = 1000
)

// ReconciliationApplicationService 照合が必要な決済を列挙する読み取り専用サービス
type ReconciliationApplicationService struct {
	store      ledger.Store
	logger     *otelinfra.Logger
	tracer     trace.Tracer
	stuckAfter time.Duration
	now        func() time.Time
}

// Option ReconciliationApplicationServiceのオプション
type Option func(*ReconciliationApplicationService)

// WithClock 時刻の取得方法を差し替える
func WithClock(now func() time.Time) Option {
	return func(s *ReconciliationApplicationService) {
		s.now = now
	}
}

// NewReconciliationApplicationService 新しいReconciliationApplicationServiceを作成
func NewReconciliationApplicationService(
	store ledger.Store,
	stuckAfter time.Duration,
	logger *otelinfra.Logger,
	opts ...Option,
) *ReconciliationApplicationService {
	s := &ReconciliationApplicationService{
		store:      store,
		logger:     logger,
		tracer:     otel.Tracer("reconciliation-service"),
		stuckAfter: stuckAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List 照合が必要な決済を作成順に返す
func (s *ReconciliationApplicationService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ReconciliationApplicationService.List")
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	stuckBefore := s.now().Add(-s.stuckAfter)

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("stuck_before", stuckBefore.Format(time.RFC3339)),
	)

	payments, err := s.store.FindForReconciliation(ctx, stuckBefore, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to list payments for reconciliation", err, nil)
		return nil, fmt.Errorf("failed to list payments for reconciliation: %w", err)
	}

	items := make([]Item, 0, len(payments))
	for _, p := range payments {
		items = append(items, Item{Payment: p, Reason: reasonFor(p)})
	}

	s.logger.Info(ctx, "Listed payments for reconciliation", map[string]interface{}{
		"count":        len(items),
		"stuck_before": stuckBefore.Format(time.RFC3339),
	})

	return &ListResponse{
		Items:       items,
		StuckBefore: stuckBefore.UTC().Format(time.RFC3339),
	}, nil
}

func reasonFor(p *payment.Payment) string {
	switch {
	case p.NeedsReconciliation():
		return ReasonFlagged
	case p.Status() == payment.StatusRefundPending:
		return ReasonStuckRefund
	default:
		return ReasonStuckProcessing
	}
}
