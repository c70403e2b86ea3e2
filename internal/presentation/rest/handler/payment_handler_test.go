package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error     string `json:"error"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

func TestPaymentHandler_SubmitPayment(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedError  string
		expectedState  string
	}{
		{
			name:           "正常系: カード決済",
			body:           cardRequest("12.34", ""),
			expectedStatus: http.StatusCreated,
			expectedState:  "processed",
		},
		{
			name:           "正常系: ウォレット決済",
			body:           walletRequest("5", "wallet_abc"),
			expectedStatus: http.StatusCreated,
			expectedState:  "processed",
		},
		{
			name:           "異常系: 無効なリクエストボディ",
			body:           "{invalid",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "異常系: 金額の書式が不正",
			body:           cardRequest("abc", ""),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_amount",
		},
		{
			name:           "異常系: 小数点以下3桁",
			body:           cardRequest("1.234", ""),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_amount",
		},
		{
			name:           "異常系: 0円",
			body:           cardRequest("0", ""),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_amount",
		},
		{
			name: "異常系: 未知の支払い方法",
			body: SubmitPaymentRequest{
				UserID: "user_1", Amount: "1.00",
				Method: PaymentMethodRequest{Type: "bank"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_method",
		},
		{
			name: "異常系: カード番号が不正",
			body: SubmitPaymentRequest{
				UserID: "user_1", Amount: "1.00",
				Method: PaymentMethodRequest{Type: "card", Number: "12", CVV: "123", Expiry: "12/30"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_method",
		},
		{
			name:           "異常系: ゲートウェイが拒否",
			body:           walletRequest("1.00", "declined"),
			expectedStatus: http.StatusPaymentRequired,
			expectedError:  "gateway_declined",
			expectedState:  "failed",
		},
		{
			name:           "異常系: ゲートウェイの結果が不明",
			body:           walletRequest("1.00", "timeout"),
			expectedStatus: http.StatusBadGateway,
			expectedError:  "gateway_transient",
			expectedState:  "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/payments", tt.body)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())

			switch {
			case tt.expectedStatus == http.StatusCreated:
				resp := decode[PaymentResponse](t, rec)
				assert.NotEmpty(t, resp.PaymentID)
				assert.Equal(t, tt.expectedState, resp.Status)
				assert.Equal(t, "USD", resp.Currency)
			case tt.expectedError != "":
				resp := decode[errorBody](t, rec)
				assert.Equal(t, tt.expectedError, resp.Error)
				if tt.expectedState != "" {
					assert.NotEmpty(t, resp.PaymentID)
					assert.Equal(t, tt.expectedState, resp.Status)
				}
			}
		})
	}
}

func TestPaymentHandler_SubmitPayment_Response(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, cardRequest("12.34", "order-1"))

	assert.Equal(t, "user_1", resp.UserID)
	assert.Equal(t, "12.34", resp.Amount)
	assert.Equal(t, "card", resp.Method.Type)
	assert.Equal(t, "4242", resp.Method.Last4)
	assert.Equal(t, "12/30", resp.Method.Expiry)
	assert.Equal(t, "order-1", resp.IdempotencyKey)
	assert.False(t, resp.NeedsReconciliation)
	assert.NotEmpty(t, resp.ProcessedAt)

	rec := env.do(t, http.MethodGet, "/users/user_1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "987.66", decode[BalanceResponse](t, rec).Balance)
}

func TestPaymentHandler_SubmitPayment_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	first := env.submit(t, cardRequest("10.00", "order-1"))
	second := env.submit(t, cardRequest("10.00", "order-1"))

	assert.Equal(t, first.PaymentID, second.PaymentID)

	rec := env.do(t, http.MethodGet, "/users/user_1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "990.00", decode[BalanceResponse](t, rec).Balance)
}

func TestPaymentHandler_GetPayment(t *testing.T) {
	env := newTestEnv(t)
	created := env.submit(t, cardRequest("1.50", ""))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "正常系: レコード取得", path: "/payments/" + created.PaymentID, expectedStatus: http.StatusOK},
		{name: "正常系: ステータス取得", path: "/payments/" + created.PaymentID + "/status", expectedStatus: http.StatusOK},
		{name: "異常系: 存在しない決済", path: "/payments/pay_missing", expectedStatus: http.StatusNotFound},
		{name: "異常系: 存在しない決済のステータス", path: "/payments/pay_missing/status", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus != http.StatusOK {
				assert.Equal(t, "payment_not_found", decode[errorBody](t, rec).Error)
				return
			}
			status := decode[PaymentStatusResponse](t, rec)
			assert.Equal(t, created.PaymentID, status.PaymentID)
			assert.Equal(t, "processed", status.Status)
		})
	}
}

func TestPaymentHandler_RefundPayment(t *testing.T) {
	tests := []struct {
		name           string
		failed         bool
		body           interface{}
		expectedStatus int
		expectedError  string
		expectedAmount string
		expectedBal    string
	}{
		{
			name:           "正常系: 全額返金（ボディなし）",
			expectedStatus: http.StatusCreated,
			expectedAmount: "20.00",
			expectedBal:    "1000.00",
		},
		{
			name:           "正常系: 一部返金",
			body:           RefundPaymentRequest{Amount: "5.00"},
			expectedStatus: http.StatusCreated,
			expectedAmount: "5.00",
			expectedBal:    "985.00",
		},
		{
			name:           "異常系: 決済額を超える返金",
			body:           RefundPaymentRequest{Amount: "20.01"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_amount",
			expectedBal:    "980.00",
		},
		{
			name:           "異常系: 金額の書式が不正",
			body:           RefundPaymentRequest{Amount: "-1"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_amount",
			expectedBal:    "980.00",
		},
		{
			name:           "異常系: 失敗した決済は返金できない",
			failed:         true,
			expectedStatus: http.StatusConflict,
			expectedError:  "illegal_transition",
			expectedBal:    "1000.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			var paymentID string
			if tt.failed {
				rec := env.do(t, http.MethodPost, "/payments", walletRequest("20.00", "declined"))
				require.Equal(t, http.StatusPaymentRequired, rec.Code)
				paymentID = decode[errorBody](t, rec).PaymentID
			} else {
				paymentID = env.submit(t, cardRequest("20.00", "")).PaymentID
			}

			rec := env.do(t, http.MethodPost, "/payments/"+paymentID+"/refund", tt.body)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, decode[errorBody](t, rec).Error)
			} else {
				resp := decode[RefundResponse](t, rec)
				assert.Equal(t, paymentID, resp.PaymentID)
				assert.Equal(t, tt.expectedAmount, resp.Amount)
				assert.Equal(t, "processed", resp.Status)
			}

			bal := env.do(t, http.MethodGet, "/users/user_1/balance", nil)
			assert.Equal(t, tt.expectedBal, decode[BalanceResponse](t, bal).Balance)
		})
	}
}

func TestPaymentHandler_RefundPayment_Twice(t *testing.T) {
	env := newTestEnv(t)
	paymentID := env.submit(t, cardRequest("20.00", "")).PaymentID

	rec := env.do(t, http.MethodPost, "/payments/"+paymentID+"/refund", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/payments/"+paymentID+"/refund", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/payments/"+paymentID+"/status", nil)
	assert.Equal(t, "refunded", decode[PaymentStatusResponse](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/users/user_1/balance", nil)
	assert.Equal(t, "1000.00", decode[BalanceResponse](t, rec).Balance)
}

func TestPaymentHandler_GetRefund(t *testing.T) {
	env := newTestEnv(t)
	paymentID := env.submit(t, cardRequest("20.00", "")).PaymentID

	rec := env.do(t, http.MethodGet, "/payments/"+paymentID+"/refund", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "refund_not_found", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/payments/pay_missing/refund", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "payment_not_found", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/payments/"+paymentID+"/refund", RefundPaymentRequest{Amount: "7.25"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/payments/"+paymentID+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RefundResponse](t, rec)
	assert.Equal(t, "7.25", resp.Amount)
	assert.NotEmpty(t, resp.ProcessedAt)
}
