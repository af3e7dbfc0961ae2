package repository

import (
	"context"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/kafka"
)

// KafkaPublisher streams consensus quotes and alerts to Kafka, keyed by
// symbol so per-symbol ordering holds across partitions.
type KafkaPublisher struct {
	producer    *kafka.Producer
	quotesTopic string
	alertsTopic string
}

func NewKafkaPublisher(producer *kafka.Producer, quotesTopic, alertsTopic string) *KafkaPublisher {
	if quotesTopic == "" {
		quotesTopic = "quotepulse.quotes"
	}
	if alertsTopic == "" {
		alertsTopic = "quotepulse.alerts"
	}
	return &KafkaPublisher{producer: producer, quotesTopic: quotesTopic, alertsTopic: alertsTopic}
}

func (p *KafkaPublisher) PublishQuote(ctx context.Context, q *models.ConsensusQuote) error {
	return p.producer.Publish(ctx, p.quotesTopic, []byte(q.Symbol), q)
}

func (p *KafkaPublisher) PublishAlert(ctx context.Context, a *models.Alert) error {
	return p.producer.Publish(ctx, p.alertsTopic, []byte(a.Symbol), a)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
