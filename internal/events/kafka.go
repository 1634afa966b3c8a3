package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tradewind/settlement/internal/logging"
)

// KafkaPublisher writes events to a single topic, keyed by target ID so
// all events for one order or escrow land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		logging.L(ctx).Error("marshal event", "event_id", e.ID, "error", err)
		return
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.TargetID),
		Value: value,
		Time:  e.OccurredAt,
	})
	if err != nil {
		logging.L(ctx).Error("publish event",
			"event_id", e.ID,
			"type", string(e.Type),
			"target_id", e.TargetID,
			"error", err,
		)
	}
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
