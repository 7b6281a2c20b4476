package repository

import (
	"context"
	"fmt"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/kafka"
)

// KafkaEventSink republishes the clean data stream and alerts to Kafka.
// Data is keyed by symbol so per-symbol ordering survives partitioning.
type KafkaEventSink struct {
	producer   *kafka.Producer
	dataTopic  string
	alertTopic string
}

// NewKafkaEventSink wraps a producer with the two outbound topics.
func NewKafkaEventSink(producer *kafka.Producer, dataTopic, alertTopic string) (*KafkaEventSink, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if dataTopic == "" || alertTopic == "" {
		return nil, fmt.Errorf("data and alert topics are required")
	}
	return &KafkaEventSink{
		producer:   producer,
		dataTopic:  dataTopic,
		alertTopic: alertTopic,
	}, nil
}

// PublishData emits one validated snapshot.
func (s *KafkaEventSink) PublishData(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if err := s.producer.Publish(ctx, s.dataTopic, []byte(snap.Symbol), snap); err != nil {
		return fmt.Errorf("publish data: %w", err)
	}
	return nil
}

// PublishAlert emits one alert, keyed by alert type.
func (s *KafkaEventSink) PublishAlert(ctx context.Context, alert models.Alert) error {
	if err := s.producer.Publish(ctx, s.alertTopic, []byte(alert.Type), alert); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes the underlying producer.
func (s *KafkaEventSink) Close() error {
	return s.producer.Close()
}
