package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCard = Card{Number: "4111111111111111", CVV: "123", Expiry: "12/27"}

func TestNewPayment(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		paymentID string
		userID    string
		amount    int64
		currency  string
		method    Method
		key       string
		wantCur   string
		wantErr   error
	}{
		{
			name:      "正常系: 通貨指定あり",
			paymentID: "pay_1",
			userID:    "user_123",
			amount:    1000,
			currency:  "JPY",
			method:    testCard,
			key:       "key-1",
			wantCur:   "JPY",
		},
		{
			name:      "正常系: 通貨省略時はUSD",
			paymentID: "pay_2",
			userID:    "user_123",
			amount:    1,
			method:    Wallet{AccountRef: "w1"},
			wantCur:   "USD",
		},
		{name: "異常系: 金額0", paymentID: "pay_3", userID: "user_123", amount: 0, method: testCard, wantErr: ErrInvalidAmount},
		{name: "異常系: 金額が負", paymentID: "pay_4", userID: "user_123", amount: -5, method: testCard, wantErr: ErrInvalidAmount},
		{name: "異常系: 上限超過", paymentID: "pay_5", userID: "user_123", amount: MaxAmount + 1, method: testCard, wantErr: ErrInvalidAmount},
		{name: "異常系: 支払い方法なし", paymentID: "pay_6", userID: "user_123", amount: 100, wantErr: ErrInvalidMethod},
		{name: "異常系: ユーザーIDが空", paymentID: "pay_7", userID: "", amount: 100, method: testCard, wantErr: ErrInvalidPayment},
		{name: "異常系: 通貨コードが不正", paymentID: "pay_8", userID: "user_123", amount: 100, currency: "usd", method: testCard, wantErr: ErrInvalidPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPayment(tt.paymentID, tt.userID, tt.amount, tt.currency, tt.method, tt.key, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.paymentID, got.PaymentID())
			assert.Equal(t, tt.userID, got.UserID())
			assert.Equal(t, tt.amount, got.Amount())
			assert.Equal(t, tt.wantCur, got.Currency())
			assert.Equal(t, StatusPending, got.Status())
			assert.Equal(t, tt.key, got.IdempotencyKey())
			assert.Equal(t, now, got.CreatedAt())
			assert.Nil(t, got.ProcessedAt())
			assert.False(t, got.NeedsReconciliation())
		})
	}
}

func TestNewPayment_MasksMethod(t *testing.T) {
	p := MustNewPayment("pay_1", "user_123", 100, "", testCard, "", time.Now())

	card, ok := p.Method().(Card)
	require.True(t, ok)
	assert.Equal(t, "****1111", card.Number)
	assert.Empty(t, card.CVV)
}

func TestPayment_TransitionTo(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(time.Second)

	tests := []struct {
		name          string
		path          []Status
		wantErr       error
		wantProcessed bool
	}{
		{name: "正常系: 処理中へ", path: []Status{StatusProcessing}},
		{name: "正常系: 成功確定", path: []Status{StatusProcessing, StatusProcessed}, wantProcessed: true},
		{name: "正常系: 失敗確定", path: []Status{StatusProcessing, StatusFailed}, wantProcessed: true},
		{name: "正常系: 返金完了", path: []Status{StatusProcessing, StatusProcessed, StatusRefundPending, StatusRefunded}, wantProcessed: true},
		{name: "異常系: pendingから直接processed", path: []Status{StatusProcessed}, wantErr: ErrIllegalTransition},
		{name: "異常系: failedから返金", path: []Status{StatusProcessing, StatusFailed, StatusRefundPending}, wantErr: ErrIllegalTransition},
		{name: "異常系: 二重返金", path: []Status{StatusProcessing, StatusProcessed, StatusRefundPending, StatusRefunded, StatusRefundPending}, wantErr: ErrIllegalTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := MustNewPayment("pay_1", "user_123", 100, "USD", testCard, "", created)

			var err error
			for _, next := range tt.path {
				before := p.Status()
				if err = p.TransitionTo(next, later); err != nil {
					assert.Equal(t, before, p.Status())
					break
				}
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], p.Status())
			assert.Equal(t, later, p.UpdatedAt())
			if tt.wantProcessed {
				require.NotNil(t, p.ProcessedAt())
				assert.Equal(t, later, *p.ProcessedAt())
			} else {
				assert.Nil(t, p.ProcessedAt())
			}
		})
	}
}

func TestPayment_ProcessedAtKeptThroughRefund(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := MustNewPayment("pay_1", "user_123", 100, "USD", testCard, "", t0)
	require.NoError(t, p.TransitionTo(StatusProcessing, t0.Add(1*time.Second)))
	require.NoError(t, p.TransitionTo(StatusProcessed, t0.Add(2*time.Second)))
	require.NoError(t, p.TransitionTo(StatusRefundPending, t0.Add(3*time.Second)))
	require.NoError(t, p.TransitionTo(StatusRefunded, t0.Add(4*time.Second)))

	assert.Equal(t, t0.Add(2*time.Second), *p.ProcessedAt())
	assert.Equal(t, t0.Add(4*time.Second), p.UpdatedAt())
}

func TestPayment_Clone(t *testing.T) {
	p := MustNewPayment("pay_1", "user_123", 100, "USD", testCard, "", time.Now())
	c := p.Clone()

	require.NoError(t, c.TransitionTo(StatusProcessing, time.Now()))
	c.MarkFailure("boom", true)

	assert.Equal(t, StatusPending, p.Status())
	assert.Empty(t, p.FailureReason())
	assert.False(t, p.NeedsReconciliation())
}

func TestRestore(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Snapshot{
		PaymentID:           "pay_9",
		UserID:              "user_9",
		Amount:              250,
		Currency:            "USD",
		Method:              Wallet{AccountRef: "w9"},
		Status:              StatusFailed,
		FailureReason:       "timeout",
		NeedsReconciliation: true,
		CreatedAt:           at,
		ProcessedAt:         &at,
		UpdatedAt:           at,
	}

	p, err := Restore(s)
	require.NoError(t, err)
	assert.Equal(t, s, p.Snapshot())

	s.Status = "bogus"
	_, err = Restore(s)
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestGatewayFailureError(t *testing.T) {
	p := MustNewPayment("pay_1", "user_123", 100, "USD", testCard, "", time.Now())

	declined := NewGatewayFailureError(p, ErrGatewayDeclined, "insufficient_funds")
	assert.ErrorIs(t, declined, ErrGatewayDeclined)
	assert.False(t, declined.NeedsReconciliation())
	assert.Contains(t, declined.Error(), "pay_1")

	transient := NewGatewayFailureError(p, ErrGatewayTransient, "timeout")
	assert.ErrorIs(t, transient, ErrGatewayTransient)
	assert.True(t, transient.NeedsReconciliation())

	var gfe *GatewayFailureError
	require.True(t, errors.As(error(transient), &gfe))
	assert.Equal(t, "pay_1", gfe.Payment.PaymentID())
}
