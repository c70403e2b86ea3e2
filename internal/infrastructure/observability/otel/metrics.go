package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// 決済の確定数（outcome別）
	PaymentCount metric.Int64Counter

	// 返金の確定数
	RefundCount metric.Int64Counter

	// 口座残高
	AccountBalance metric.Int64Gauge

	// マイナス残高の発生件数
	NegativeBalanceCount metric.Int64Counter

	// 照合が必要になった決済数
	ReconciliationCount metric.Int64Counter

	// ゲートウェイ呼び出し時間
	GatewayLatency metric.Float64Histogram

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー数
	ErrorCount metric.Int64Counter
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	paymentCount, err := meter.Int64Counter(
		"payments_total",
		metric.WithDescription("Total number of finalized payments"),
	)
	if err != nil {
		return nil, err
	}

	refundCount, err := meter.Int64Counter(
		"refunds_total",
		metric.WithDescription("Total number of processed refunds"),
	)
	if err != nil {
		return nil, err
	}

	accountBalance, err := meter.Int64Gauge(
		"account_balance",
		metric.WithDescription("Account balance in minor units"),
	)
	if err != nil {
		return nil, err
	}

	negativeBalanceCount, err := meter.Int64Counter(
		"negative_balance_total",
		metric.WithDescription("Total number of negative balance occurrences"),
	)
	if err != nil {
		return nil, err
	}

	reconciliationCount, err := meter.Int64Counter(
		"reconciliation_required_total",
		metric.WithDescription("Total number of payments flagged for reconciliation"),
	)
	if err != nil {
		return nil, err
	}

	gatewayLatency, err := meter.Float64Histogram(
		"gateway_latency_seconds",
		metric.WithDescription("Processor gateway call latency in seconds"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of requests"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PaymentCount:         paymentCount,
		RefundCount:          refundCount,
		AccountBalance:       accountBalance,
		NegativeBalanceCount: negativeBalanceCount,
		ReconciliationCount:  reconciliationCount,
		GatewayLatency:       gatewayLatency,
		RequestCount:         requestCount,
		ResponseTime:         responseTime,
		ErrorCount:           errorCount,
	}, nil
}

// RecordPayment 決済の確定を記録
func (m *Metrics) RecordPayment(ctx context.Context, outcome, currency string) {
	m.PaymentCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("currency", currency),
		),
	)
}

// RecordRefund 返金の確定を記録
func (m *Metrics) RecordRefund(ctx context.Context, currency string) {
	m.RefundCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("currency", currency),
		),
	)
}

// RecordAccountBalance 口座残高を記録
func (m *Metrics) RecordAccountBalance(ctx context.Context, userID string, balance int64) {
	m.AccountBalance.Record(ctx, balance,
		metric.WithAttributes(
			attribute.String("user_id", userID),
		),
	)
}

// RecordNegativeBalance マイナス残高の発生を記録
func (m *Metrics) RecordNegativeBalance(ctx context.Context, userID string) {
	m.NegativeBalanceCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("user_id", userID),
		),
	)
}

// RecordReconciliationRequired 照合が必要な決済を記録
func (m *Metrics) RecordReconciliationRequired(ctx context.Context, reason string) {
	m.ReconciliationCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
		),
	)
}

// RecordGatewayLatency ゲートウェイ呼び出し時間を記録
func (m *Metrics) RecordGatewayLatency(ctx context.Context, method, outcome string, seconds float64) {
	m.GatewayLatency.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
