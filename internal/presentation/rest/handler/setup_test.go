package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	historyapp "ledger-server/internal/application/history"
	paymentapp "ledger-server/internal/application/payment"
	reconciliationapp "ledger-server/internal/application/reconciliation"
	refundapp "ledger-server/internal/application/refund"
	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/payment"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
	"ledger-server/internal/infrastructure/persistence/memory"
	restmiddleware "ledger-server/internal/presentation/rest/middleware"
)

// testGateway ウォレットの参照先で結果を切り替える
var testGateway = gateway.Func(func(_ context.Context, method payment.Method, _ int64) (gateway.Result, error) {
	if w, ok := method.(payment.Wallet); ok {
		switch w.AccountRef {
		case "declined":
			return gateway.Declined("insufficient_funds"), nil
		case "timeout":
			return gateway.TransientError("timeout"), nil
		}
	}
	return gateway.Success("ref-1"), nil
})

type testEnv struct {
	echo  *echo.Echo
	store *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := memory.NewStore(memory.WithBalances(map[string]int64{"user_1": 100000}))
	require.NoError(t, err)

	logger := otelinfra.NewLoggerWithWriter(otel.Tracer("test"), io.Discard)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	paymentService := paymentapp.NewPaymentApplicationService(store, testGateway, logger, metrics)
	refundService := refundapp.NewRefundApplicationService(store, logger, metrics)
	historyService := historyapp.NewHistoryApplicationService(store, logger, metrics)
	reconciliationService := reconciliationapp.NewReconciliationApplicationService(store, 5*time.Minute, logger)

	paymentHandler := NewPaymentHandler(paymentService, refundService, historyService)
	historyHandler := NewHistoryHandler(historyService)
	reconciliationHandler := NewReconciliationHandler(reconciliationService)

	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
	e.POST("/payments", paymentHandler.SubmitPayment)
	e.GET("/payments/:payment_id", paymentHandler.GetPayment)
	e.GET("/payments/:payment_id/status", paymentHandler.GetPaymentStatus)
	e.POST("/payments/:payment_id/refund", paymentHandler.RefundPayment)
	e.GET("/payments/:payment_id/refund", paymentHandler.GetRefund)
	e.GET("/users/:user_id/payments", historyHandler.GetUserPayments)
	e.GET("/users/:user_id/balance", historyHandler.GetBalance)
	e.GET("/reconciliation", reconciliationHandler.List)

	return &testEnv{echo: e, store: store}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func cardRequest(amount, key string) SubmitPaymentRequest {
	return SubmitPaymentRequest{
		UserID:         "user_1",
		Amount:         amount,
		IdempotencyKey: key,
		Method:         PaymentMethodRequest{Type: "card", Number: "4242424242424242", CVV: "123", Expiry: "12/30"},
	}
}

func walletRequest(amount, ref string) SubmitPaymentRequest {
	return SubmitPaymentRequest{
		UserID: "user_1",
		Amount: amount,
		Method: PaymentMethodRequest{Type: "wallet", AccountRef: ref},
	}
}

// submit 決済を申請してレスポンスを返す
func (env *testEnv) submit(t *testing.T, req SubmitPaymentRequest) PaymentResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/payments", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PaymentResponse](t, rec)
}
