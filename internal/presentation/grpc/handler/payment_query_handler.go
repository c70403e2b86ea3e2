package handler

import (
	"context"
	"errors"
	"time"

	historyapp "ledger-server/internal/application/history"
	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/money"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/presentation/grpc/pb"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PaymentQueryHandler gRPC決済参照サービスハンドラー
type PaymentQueryHandler struct {
	pb.UnimplementedPaymentQueryServer
	historyService *historyapp.HistoryApplicationService
}

// NewPaymentQueryHandler 新しいPaymentQueryHandlerを作成
func NewPaymentQueryHandler(historyService *historyapp.HistoryApplicationService) *PaymentQueryHandler {
	return &PaymentQueryHandler{
		historyService: historyService,
	}
}

// GetPaymentStatus 決済ステータス取得
func (h *PaymentQueryHandler) GetPaymentStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	paymentID := req.GetValue()
	if paymentID == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_id is required")
	}

	st, err := h.historyService.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, h.handleError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"payment_id": paymentID,
		"status":     st.String(),
	})
}

// ListUserPayments 決済一覧取得
// ページを順に読み進めて全件を返す
func (h *PaymentQueryHandler) ListUserPayments(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	userID := req.GetValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	if err := payment.ValidateUserID(userID); err != nil {
		return nil, h.handleError(err)
	}

	list := &structpb.ListValue{}
	for p, err := range h.historyService.ListUserPayments(ctx, userID) {
		if err != nil {
			return nil, h.handleError(err)
		}
		s, err := structpb.NewStruct(paymentFields(p))
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list, nil
}

// GetBalance 残高取得
func (h *PaymentQueryHandler) GetBalance(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	acc, err := h.historyService.GetBalance(ctx, userID)
	if err != nil {
		return nil, h.handleError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"user_id":  acc.UserID(),
		"balance":  money.Format(acc.Balance()),
		"negative": acc.IsNegative(),
		"version":  acc.Version(),
	})
}

func paymentFields(p *payment.Payment) map[string]interface{} {
	fields := map[string]interface{}{
		"payment_id":           p.PaymentID(),
		"user_id":              p.UserID(),
		"amount":               money.Format(p.Amount()),
		"currency":             p.Currency(),
		"status":               p.Status().String(),
		"method":               p.Method().Kind().String(),
		"needs_reconciliation": p.NeedsReconciliation(),
		"created_at":           p.CreatedAt().UTC().Format(time.RFC3339Nano),
	}
	if p.FailureReason() != "" {
		fields["failure_reason"] = p.FailureReason()
	}
	if p.IdempotencyKey() != "" {
		fields["idempotency_key"] = p.IdempotencyKey()
	}
	return fields
}

// handleError ドメインエラーをgRPCステータスに変換
func (h *PaymentQueryHandler) handleError(err error) error {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, payment.ErrInvalidPayment), errors.Is(err, account.ErrInvalidUserID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
