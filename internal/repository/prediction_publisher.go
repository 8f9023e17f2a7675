package repository

import (
	"context"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/domain/repository"
	pkgkafka "BizHealth/pkg/kafka"
)

// KafkaPredictionPublisher implements PredictionPublisher for Kafka. Messages are keyed by
// store so one store's weeks stay ordered on one partition.
type KafkaPredictionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPredictionPublisher creates a Kafka publisher. The producer stays owned by the caller.
func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) repository.PredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) Publish(ctx context.Context, msg *models.HealthPredictionMessage) error {
	return p.producer.Publish(ctx, p.topic, []byte(msg.Store), msg)
}
