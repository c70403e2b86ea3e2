package gateway

import (
	"context"
	"sync"
	"time"

	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/payment"
)

// ReasonCircuitOpen サーキットが開いている間の拒否理由
const ReasonCircuitOpen = "circuit_open"

// CircuitBreakerConfig サーキットブレーカー設定
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

type circuitState int

const (
	cbClosed circuitState = iota
	cbOpen
	cbHalfOpen
)

// String 文字列表現を返す
func (s circuitState) String() string {
	switch s {
	case cbClosed:
		return "closed"
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerGateway 結果不明が続いたレールへの呼び出しを止めるデコレーター
// 開いている間は呼び出さずにDeclinedを返すため、課金されていないことが確定する
type CircuitBreakerGateway struct {
	next gateway.Gateway
	cfg  CircuitBreakerConfig
	now  func() time.Time

	mu           sync.Mutex
	state        circuitState
	failures     int
	successes    int
	openedAt     time.Time
	halfInFlight bool
}

// NewCircuitBreakerGateway 新しいCircuitBreakerGatewayを作成
func NewCircuitBreakerGateway(next gateway.Gateway, cfg CircuitBreakerConfig) *CircuitBreakerGateway {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreakerGateway{next: next, cfg: cfg, now: time.Now, state: cbClosed}
}

var _ gateway.Gateway = (*CircuitBreakerGateway)(nil)

// Charge サーキットが閉じていれば次のゲートウェイを呼び出す
func (g *CircuitBreakerGateway) Charge(ctx context.Context, method payment.Method, amount int64) (gateway.Result, error) {
	if !g.beforeCall() {
		return gateway.Declined(ReasonCircuitOpen), nil
	}

	res, err := g.next.Charge(ctx, method, amount)
	g.afterCall(err != nil || res.Outcome == gateway.OutcomeTransientError)
	return res, err
}

// State 現在の状態を返す
func (g *CircuitBreakerGateway) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.String()
}

func (g *CircuitBreakerGateway) beforeCall() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case cbClosed:
		return true
	case cbOpen:
		if g.now().Sub(g.openedAt) < g.cfg.OpenTimeout {
			return false
		}
		g.state = cbHalfOpen
		g.successes = 0
		g.halfInFlight = false
		fallthrough
	case cbHalfOpen:
		if g.halfInFlight {
			return false
		}
		g.halfInFlight = true
		return true
	default:
		return false
	}
}

func (g *CircuitBreakerGateway) afterCall(failed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == cbHalfOpen {
		g.halfInFlight = false
	}

	if !failed {
		switch g.state {
		case cbClosed:
			g.failures = 0
		case cbHalfOpen:
			g.successes++
			if g.successes >= g.cfg.SuccessThreshold {
				g.state = cbClosed
				g.failures = 0
				g.successes = 0
			}
		}
		return
	}

	switch g.state {
	case cbClosed:
		g.failures++
		if g.failures >= g.cfg.FailureThreshold {
			g.open()
		}
	case cbHalfOpen:
		g.open()
	}
}

func (g *CircuitBreakerGateway) open() {
	g.state = cbOpen
	g.openedAt = g.now()
	g.successes = 0
	g.halfInFlight = false
}
