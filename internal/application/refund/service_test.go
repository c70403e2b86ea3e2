package refund

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	paymentapp "ledger-server/internal/application/payment"
	"ledger-server/internal/domain/event"
	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
	"ledger-server/internal/infrastructure/persistence/memory"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestLogger() *otelinfra.Logger {
	return otelinfra.NewLoggerWithWriter(otel.Tracer("test"), io.Discard)
}

func newTestService(t *testing.T, store ledger.Store, opts ...Option) *RefundApplicationService {
	t.Helper()
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)
	return NewRefundApplicationService(store, newTestLogger(), metrics, opts...)
}

func newStore(t *testing.T, balance int64) *memory.Store {
	t.Helper()
	s, err := memory.NewStore(memory.WithBalances(map[string]int64{"user_1": balance}))
	require.NoError(t, err)
	return s
}

// seedPayment 指定したステータスまで進めた決済を作成する
func seedPayment(t *testing.T, s ledger.Store, amount int64, status payment.Status) *payment.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePayment(ctx, ledger.CreateSpec{
		UserID: "user_1", Amount: amount, Currency: "USD",
		Method: payment.Wallet{AccountRef: "w"}, CreatedAt: baseTime,
	})
	require.NoError(t, err)
	if status == payment.StatusPending {
		return p
	}

	_, err = s.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID: p.PaymentID(), Expected: payment.StatusPending, Next: payment.StatusProcessing, At: baseTime,
	})
	require.NoError(t, err)

	change := ledger.StatusChange{PaymentID: p.PaymentID(), Expected: payment.StatusProcessing, Next: status, At: baseTime}
	if status == payment.StatusProcessed {
		change.SideEffect = ledger.Debit(amount)
	}
	commit, err := s.CompareAndSwapStatus(ctx, change)
	require.NoError(t, err)
	return commit.Payment
}

func balanceOf(t *testing.T, s ledger.Store) int64 {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), "user_1")
	require.NoError(t, err)
	return acc.Balance()
}

func TestRefundApplicationService_RefundPayment(t *testing.T) {
	tests := []struct {
		name        string
		status      payment.Status
		amount      int64
		paymentID   string
		wantErr     error
		wantRefund  int64
		wantBalance int64
		wantStatus  payment.Status
	}{
		{
			name:        "正常系: 全額返金",
			status:      payment.StatusProcessed,
			wantRefund:  10000,
			wantBalance: 100000,
			wantStatus:  payment.StatusRefunded,
		},
		{
			name:        "正常系: 一部返金",
			status:      payment.StatusProcessed,
			amount:      2500,
			wantRefund:  2500,
			wantBalance: 92500,
			wantStatus:  payment.StatusRefunded,
		},
		{
			name:        "異常系: 元の金額を超える",
			status:      payment.StatusProcessed,
			amount:      10001,
			wantErr:     payment.ErrInvalidAmount,
			wantBalance: 90000,
			wantStatus:  payment.StatusProcessed,
		},
		{
			name:        "異常系: 負の金額",
			status:      payment.StatusProcessed,
			amount:      -1,
			wantErr:     payment.ErrInvalidAmount,
			wantBalance: 90000,
			wantStatus:  payment.StatusProcessed,
		},
		{
			name:        "異常系: pendingの決済",
			status:      payment.StatusPending,
			wantErr:     payment.ErrIllegalTransition,
			wantBalance: 100000,
			wantStatus:  payment.StatusPending,
		},
		{
			name:        "異常系: failedの決済",
			status:      payment.StatusFailed,
			wantErr:     payment.ErrIllegalTransition,
			wantBalance: 100000,
			wantStatus:  payment.StatusFailed,
		},
		{
			name:        "異常系: 存在しない決済",
			status:      payment.StatusProcessed,
			paymentID:   "pay_missing",
			wantErr:     payment.ErrPaymentNotFound,
			wantBalance: 90000,
			wantStatus:  payment.StatusProcessed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, 100000)
			p := seedPayment(t, store, 10000, tt.status)
			pub := &capturePublisher{}
			svc := newTestService(t, store, WithPublisher(pub))

			id := p.PaymentID()
			if tt.paymentID != "" {
				id = tt.paymentID
			}
			got, err := svc.RefundPayment(context.Background(), &RefundPaymentRequest{PaymentID: id, Amount: tt.amount})

			assert.Equal(t, tt.wantBalance, balanceOf(t, store))
			stored, getErr := store.GetPayment(context.Background(), p.PaymentID())
			require.NoError(t, getErr)
			assert.Equal(t, tt.wantStatus, stored.Status())

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				assert.Empty(t, pub.events)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "refund_"+p.PaymentID(), got.RefundID())
			assert.Equal(t, tt.wantRefund, got.Amount())
			assert.Equal(t, refund.StatusProcessed, got.Status())
			require.NotNil(t, got.ProcessedAt())

			require.Len(t, pub.events, 1)
			assert.Equal(t, event.TypePaymentRefunded, pub.events[0].Type)
			assert.Equal(t, got.RefundID(), pub.events[0].RefundID)
			assert.Equal(t, tt.wantRefund, pub.events[0].Amount)
		})
	}
}

func TestRefundApplicationService_SecondRefundRejected(t *testing.T) {
	store := newStore(t, 100000)
	p := seedPayment(t, store, 10000, payment.StatusProcessed)
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.RefundPayment(ctx, &RefundPaymentRequest{PaymentID: p.PaymentID()})
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, &RefundPaymentRequest{PaymentID: p.PaymentID()})
	assert.ErrorIs(t, err, payment.ErrIllegalTransition)
	assert.Equal(t, int64(100000), balanceOf(t, store))
}

func TestRefundApplicationService_ConcurrentRefundsExactlyOnce(t *testing.T) {
	store := newStore(t, 100000)
	p := seedPayment(t, store, 10000, payment.StatusProcessed)
	svc := newTestService(t, store)

	const n = 3
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.RefundPayment(context.Background(), &RefundPaymentRequest{PaymentID: p.PaymentID()})
		}()
	}
	close(start)
	wg.Wait()

	var ok, illegal int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, payment.ErrIllegalTransition):
			illegal++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, illegal)
	assert.Equal(t, int64(100000), balanceOf(t, store))

	r, err := svc.GetRefund(context.Background(), p.PaymentID())
	require.NoError(t, err)
	assert.Equal(t, refund.StatusProcessed, r.Status())
}

func TestRefundApplicationService_BalanceConservation(t *testing.T) {
	const (
		initial = int64(100000)
		amount  = int64(1500)
		n       = 4
	)
	store := newStore(t, initial)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	payments := paymentapp.NewPaymentApplicationService(store,
		gateway.Func(func(context.Context, payment.Method, int64) (gateway.Result, error) {
			return gateway.Success("ref"), nil
		}),
		newTestLogger(), metrics,
	)
	refunds := newTestService(t, store)
	ctx := context.Background()

	var ids []string
	for range n {
		p, err := payments.SubmitPayment(ctx, &paymentapp.SubmitPaymentRequest{
			UserID: "user_1", Amount: amount, Method: payment.Wallet{AccountRef: "w"},
		})
		require.NoError(t, err)
		ids = append(ids, p.PaymentID())
	}
	_, err = refunds.RefundPayment(ctx, &RefundPaymentRequest{PaymentID: ids[1]})
	require.NoError(t, err)

	assert.Equal(t, initial-n*amount+amount, balanceOf(t, store))
}

func TestRefundApplicationService_GetRefund(t *testing.T) {
	store := newStore(t, 0)
	p := seedPayment(t, store, 100, payment.StatusProcessed)
	svc := newTestService(t, store)

	_, err := svc.GetRefund(context.Background(), p.PaymentID())
	assert.ErrorIs(t, err, refund.ErrRefundNotFound)

	_, err = svc.GetRefund(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

// sequenceCache 書き込まれたステータスを順に記録する
type sequenceCache struct {
	mu   sync.Mutex
	puts []payment.Status
}

func (c *sequenceCache) Put(_ context.Context, _ string, st payment.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, st)
	return nil
}

func (c *sequenceCache) Get(context.Context, string) (payment.Status, bool, error) {
	return "", false, nil
}

// creditFailingStore refund_pending からの入金だけを失敗させる
type creditFailingStore struct {
	*memory.Store
}

func (s creditFailingStore) CompareAndSwapStatus(ctx context.Context, change ledger.StatusChange) (*ledger.Commit, error) {
	if change.Expected == payment.StatusRefundPending {
		return nil, errors.New("connection reset")
	}
	return s.Store.CompareAndSwapStatus(ctx, change)
}

func TestRefundApplicationService_StatusCache(t *testing.T) {
	tests := []struct {
		name        string
		failCredit  bool
		wantErr     bool
		wantPuts    []payment.Status
		wantStatus  payment.Status
		wantBalance int64
	}{
		{
			name:        "正常系: 返金確保と確定の両方を書き込む",
			wantPuts:    []payment.Status{payment.StatusRefundPending, payment.StatusRefunded},
			wantStatus:  payment.StatusRefunded,
			wantBalance: 100000,
		},
		{
			name:        "異常系: 入金に失敗してもrefund_pendingがキャッシュに残る",
			failCredit:  true,
			wantErr:     true,
			wantPuts:    []payment.Status{payment.StatusRefundPending},
			wantStatus:  payment.StatusRefundPending,
			wantBalance: 90000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newStore(t, 100000)
			p := seedPayment(t, mem, 10000, payment.StatusProcessed)

			var store ledger.Store = mem
			if tt.failCredit {
				store = creditFailingStore{Store: mem}
			}
			cache := &sequenceCache{}
			svc := newTestService(t, store, WithStatusCache(cache))

			_, err := svc.RefundPayment(context.Background(), &RefundPaymentRequest{PaymentID: p.PaymentID()})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantPuts, cache.puts)
			got, err := mem.GetPayment(context.Background(), p.PaymentID())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status())
			assert.Equal(t, tt.wantBalance, balanceOf(t, mem))
		})
	}
}
