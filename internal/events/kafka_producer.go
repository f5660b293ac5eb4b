// Package events publishes ride lifecycle events to Kafka. The stream
// feeds the mirror consumer and any downstream analytics.
package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/models"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishEvent writes one event keyed by ride id, so all events for a ride
// land on the same partition in commit order.
func (k *KafkaProducer) PublishEvent(ctx context.Context, ev models.RideEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatInt(ev.Ride.ID, 10))
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
