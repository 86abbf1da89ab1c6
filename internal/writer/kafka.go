package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// KafkaPublisher forwards normalized liquidation events to a Kafka topic,
// keyed by symbol so consumers see per-symbol ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logger.Log
}

// NewKafkaPublisher builds a publisher from the Kafka storage configuration.
func NewKafkaPublisher(cfg appconfig.KafkaStorageConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}

	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: logger.GetLogger(),
	}
	p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

// Publish writes a single liquidation event to the configured topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.LiquidationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Symbol),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.log.WithComponent("kafka_publisher").Debug("closing kafka publisher")
	return p.writer.Close()
}
