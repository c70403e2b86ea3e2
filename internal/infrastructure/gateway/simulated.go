package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/payment"

	"github.com/google/uuid"
)

// 拒否・エラー理由
const (
	ReasonDeclinedByIssuer = "declined_by_issuer"
	ReasonCardExpired      = "card_expired"
	ReasonInvalidAmount    = "invalid_amount"
	ReasonProcessorTimeout = "processor_timeout"
)

// SimulatedConfig 擬似ゲートウェイの設定
type SimulatedConfig struct {
	Name          string
	Latency       time.Duration
	DeclineRate   float64
	TransientRate float64
	Seed          uint64 // 0なら時刻から生成
}

// SimulatedGateway 遅延と確率的な失敗を持つ擬似決済レール
type SimulatedGateway struct {
	cfg SimulatedConfig
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewSimulatedGateway 新しいSimulatedGatewayを作成
func NewSimulatedGateway(cfg SimulatedConfig) *SimulatedGateway {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if cfg.Name == "" {
		cfg.Name = "sim"
	}
	return &SimulatedGateway{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

var _ gateway.Gateway = (*SimulatedGateway)(nil)

// Charge 設定された遅延の後に結果を返す
// ctxがキャンセルされた場合は結果不明としてエラーを返す
func (g *SimulatedGateway) Charge(ctx context.Context, method payment.Method, amount int64) (gateway.Result, error) {
	if amount <= 0 {
		return gateway.Declined(ReasonInvalidAmount), nil
	}

	if g.cfg.Latency > 0 {
		timer := time.NewTimer(g.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return gateway.Result{}, fmt.Errorf("%s: %w", g.cfg.Name, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return gateway.Result{}, fmt.Errorf("%s: %w", g.cfg.Name, err)
	}

	if card, ok := method.(payment.Card); ok && cardExpired(card.Expiry, g.now()) {
		return gateway.Declined(ReasonCardExpired), nil
	}

	g.mu.Lock()
	r := g.rnd.Float64()
	g.mu.Unlock()

	switch {
	case r < g.cfg.DeclineRate:
		return gateway.Declined(ReasonDeclinedByIssuer), nil
	case r < g.cfg.DeclineRate+g.cfg.TransientRate:
		return gateway.TransientError(ReasonProcessorTimeout), nil
	default:
		return gateway.Success(fmt.Sprintf("%s_%s", g.cfg.Name, uuid.NewString())), nil
	}
}

// cardExpired MM/YY形式の有効期限が過ぎているかどうか
func cardExpired(expiry string, now time.Time) bool {
	t, err := time.Parse("01/06", expiry)
	if err != nil {
		return false
	}
	// 有効期限月の末日まで有効
	end := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(end)
}
