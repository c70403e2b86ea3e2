package gateway

import (
	"context"

	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/payment"
)

// ReasonUnsupportedMethod 対応するゲートウェイがない支払い方法の拒否理由
const ReasonUnsupportedMethod = "unsupported_method"

// Router 支払い方法の種別ごとにゲートウェイを振り分ける
type Router struct {
	routes map[payment.MethodKind]gateway.Gateway
}

// NewRouter 新しいRouterを作成
func NewRouter(routes map[payment.MethodKind]gateway.Gateway) *Router {
	r := &Router{routes: make(map[payment.MethodKind]gateway.Gateway, len(routes))}
	for kind, g := range routes {
		r.routes[kind] = g
	}
	return r
}

var _ gateway.Gateway = (*Router)(nil)

// Charge 種別に対応するゲートウェイで課金する
// 未対応の種別は課金せずに拒否する
func (r *Router) Charge(ctx context.Context, method payment.Method, amount int64) (gateway.Result, error) {
	if method == nil {
		return gateway.Declined(ReasonUnsupportedMethod), nil
	}
	g, ok := r.routes[method.Kind()]
	if !ok {
		return gateway.Declined(ReasonUnsupportedMethod), nil
	}
	return g.Charge(ctx, method, amount)
}
