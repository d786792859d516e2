// Package events publishes asset lifecycle notifications so that downstream
// services (playlist schedulers, CDN purgers) can react to catalog changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// Type names a lifecycle event.
type Type string

const (
	AssetUploaded    Type = "asset.uploaded"
	AssetConverted   Type = "asset.converted"
	AssetDeleted     Type = "asset.deleted"
	ConversionFailed Type = "conversion.failed"
)

// Event is the message body. AssetID is the asset the event is about; for
// conversions SourceAssetID is the original.
type Event struct {
	Type          Type      `json:"type"`
	AccountID     int64     `json:"account_id"`
	BucketID      int64     `json:"bucket_id,omitempty"`
	AssetID       int64     `json:"asset_id,omitempty"`
	SourceAssetID int64     `json:"source_asset_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	Quality       string    `json:"quality,omitempty"`
	Path          string    `json:"path,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Publishing is best-effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by the id of
// the asset they concern so per-asset ordering is kept.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	logging.Info("Publishing lifecycle events to Kafka topic %s (%d brokers)", topic, len(brokers))
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), "error").Inc()
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	key := e.AssetID
	if key == 0 {
		key = e.SourceAssetID
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), "error").Inc()
		return fmt.Errorf("publish %s event to %s: %w", e.Type, p.topic, err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), "success").Inc()
	logging.Debug("Published %s event for asset %d", e.Type, key)
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Emit publishes e and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logging.Warn("Event not delivered: %v", err)
	}
}
