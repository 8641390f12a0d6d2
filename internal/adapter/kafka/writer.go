// Package kafka announces committed run manifests on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/inmet-weather-etl/internal/config"
	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces one message per committed run, keyed by year so a
// compacted topic keeps the latest manifest of every year.
// It implements pipeline.ManifestPublisher.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a producer for the configured manifest topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaManifestTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishManifest serializes m and writes it to the topic.
func (p *Publisher) PublishManifest(ctx context.Context, m domain.RunManifest) error {
	msg, err := manifestMessage(m)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish manifest %d: %w", m.Year, err)
	}
	p.logger.Debug("manifest published", "year", m.Year, "run_id", m.RunID)
	return nil
}

// Close flushes pending messages and closes the producer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// manifestMessage marshals a manifest without its reject records; consumers
// read those from the store.
func manifestMessage(m domain.RunManifest) (kafkago.Message, error) {
	m.Rejects = nil
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize manifest: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.Itoa(m.Year)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(m.RunID)},
			{Key: "finished_at", Value: []byte(m.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeManifest parses a message written by Publisher.
func DecodeManifest(msg kafkago.Message) (domain.RunManifest, error) {
	var m domain.RunManifest
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
