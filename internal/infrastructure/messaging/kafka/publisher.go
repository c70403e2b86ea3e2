package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/event"
	"ledger-server/internal/infrastructure/config"
)

// Publisher Kafka実装のライフサイクルイベント発行
// 同じ決済のイベントが同じパーティションに入るよう決済IDをキーにする
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	tracer   trace.Tracer
}

// NewSyncProducer 設定からSyncProducerを作成
func NewSyncProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// NewPublisher 新しいPublisherを作成
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		tracer:   otel.Tracer("event-publisher"),
	}
}

// Publish イベントを送信し、ブローカーの応答を待つ
func (p *Publisher) Publish(ctx context.Context, e event.Event) error {
	_, span := p.tracer.Start(ctx, "Publisher.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("event.type", string(e.Type)),
		attribute.String("event.payment_id", e.PaymentID),
	)

	body, err := json.Marshal(e)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.PaymentID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	span.SetStatus(otelcodes.Ok, "event published")
	return nil
}

// Close プロデューサーを閉じる
func (p *Publisher) Close() error {
	return p.producer.Close()
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
