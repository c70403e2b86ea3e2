package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/payment"
)

func TestPaymentQueryHandler_handleError(t *testing.T) {
	h := &PaymentQueryHandler{}

	tests := []struct {
		name         string
		err          error
		expectedCode codes.Code
	}{
		{name: "異常系: 決済なし", err: fmt.Errorf("lookup: %w", payment.ErrPaymentNotFound), expectedCode: codes.NotFound},
		{name: "異常系: 不正な入力", err: payment.ErrInvalidPayment, expectedCode: codes.InvalidArgument},
		{name: "異常系: 不正なユーザーID", err: account.ErrInvalidUserID, expectedCode: codes.InvalidArgument},
		{name: "異常系: キャンセル", err: context.Canceled, expectedCode: codes.Canceled},
		{name: "異常系: タイムアウト", err: context.DeadlineExceeded, expectedCode: codes.DeadlineExceeded},
		{name: "異常系: その他", err: errors.New("db down"), expectedCode: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCode, status.Code(h.handleError(tt.err)))
		})
	}
}
