package kafka

import (
	"context"
	"encoding/json"

	"github.com/itadmit/quickshopcrm-sub010/internal/broker/messages"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
	// eventsTopic receives order shipping events.
	eventsTopic string
}

func NewProducer(brokers []string, eventsTopic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		eventsTopic: eventsTopic,
	}
}

func newProducerWithWriter(w messageWriter, eventsTopic string) *Producer {
	return &Producer{w: w, eventsTopic: eventsTopic}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishEvent writes ev to the events topic keyed by the entity id, so events
// of one order stay ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, ev *models.Event) error {
	b, err := json.Marshal(messages.FromEvent(ev))
	if err != nil {
		return errors.Wrap(err, "marshal shipping event")
	}
	return p.Publish(ctx, p.eventsTopic, []byte(ev.EntityID), b)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
