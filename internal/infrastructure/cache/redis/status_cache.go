package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/payment"
	"ledger-server/internal/infrastructure/config"
)

const (
	keyPrefix = "payment:status:"
	// WATCH競合時の最大試行回数
	maxWatchAttempts = 3
)

// StatusCache Redis実装の決済ステータスキャッシュ
// 書き込みはWATCHで保護し、進行度が下がる上書きはしない
type StatusCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
	tracer trace.Tracer
}

// NewClient 設定からRedisクライアントを作成
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  300 * time.Millisecond,
		WriteTimeout: 300 * time.Millisecond,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewStatusCache 新しいStatusCacheを作成
func NewStatusCache(client goredis.UniversalClient, ttl time.Duration) *StatusCache {
	return &StatusCache{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("status-cache"),
	}
}

// Put 現在値より進んだステータスの場合のみ書き込む
func (c *StatusCache) Put(ctx context.Context, paymentID string, status payment.Status) error {
	ctx, span := c.tracer.Start(ctx, "StatusCache.Put")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.payment_id", paymentID),
		attribute.String("cache.status", status.String()),
	)

	if !status.Valid() {
		err := fmt.Errorf("%w: status %q", payment.ErrInvalidPayment, status)
		recordSpanError(span, err)
		return err
	}

	key := keyPrefix + paymentID
	txf := func(tx *goredis.Tx) error {
		cached, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if err == nil && payment.Status(cached).Rank() >= status.Rank() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, status.String(), c.ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err = c.client.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to put payment status: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "status cached")
	return nil
}

// Get キャッシュされたステータスを返す
func (c *StatusCache) Get(ctx context.Context, paymentID string) (payment.Status, bool, error) {
	ctx, span := c.tracer.Start(ctx, "StatusCache.Get")
	defer span.End()

	span.SetAttributes(attribute.String("cache.payment_id", paymentID))

	cached, err := c.client.Get(ctx, keyPrefix+paymentID).Result()
	if errors.Is(err, goredis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return "", false, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return "", false, fmt.Errorf("failed to get payment status: %w", err)
	}

	status, err := payment.NewStatus(cached)
	if err != nil {
		// 不正な値は未登録として扱い、Storeから読み直させる
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return "", false, nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return status, true, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
