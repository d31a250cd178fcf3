package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"coord-service/internal/config"
	"coord-service/internal/util"
)

// KafkaProducer writes keyed messages to the audit topic.
type KafkaProducer struct {
	Writer  *kafka.Writer
	brokers []string
	dev     bool
}

func NewKafkaProducer(cfg config.KafkaConfig, development bool) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	util.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.AuditTopic))

	return &KafkaProducer{Writer: writer, brokers: cfg.Brokers, dev: development}
}

func (p *KafkaProducer) Close() error {
	if p.Writer == nil {
		return nil
	}
	if err := p.Writer.Close(); err != nil {
		util.Error("Failed to close Kafka producer", zap.Error(err))
		return err
	}
	util.Info("Kafka producer closed")
	return nil
}

// WriteMessages sends msgs synchronously on the writer's topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := p.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}
	util.Debug("Produced kafka messages", zap.Int("count", len(msgs)))
	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	dialer := &kafka.Dialer{
		Timeout:   5 * time.Second,
		DualStack: true,
	}
	if !p.dev {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read Kafka partitions: %w", err)
	}
	return nil
}
