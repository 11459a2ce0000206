package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"

	"fundiconnect/internal/domain"
	kafka_infra "fundiconnect/internal/infrastructure/kafka"
)

// Publisher delivers one outbox message to the event bus.
type Publisher interface {
	Publish(ctx context.Context, msg domain.OutboxMessage) error
}

type kafkaPublisher struct {
	producer kafka_infra.Producer
	topic    string
}

// NewKafkaPublisher keys messages by booking id and carries the event type
// and outbox id as headers.
func NewKafkaPublisher(producer kafka_infra.Producer, topic string) Publisher {
	return &kafkaPublisher{producer: producer, topic: topic}
}

func (p *kafkaPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return p.producer.Produce(ctx, p.topic, []byte(msg.Key), msg.Payload,
		kafka.Header{Key: "event_type", Value: []byte(msg.MessageType)},
		kafka.Header{Key: "message_id", Value: []byte(msg.ID)},
	)
}

// RabbitSender is satisfied by *rabbitmq.Publisher.
type RabbitSender interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

type rabbitPublisher struct {
	sender RabbitSender
}

// NewRabbitPublisher routes by event type, so consumers bind "booking.*" or
// "payment.*".
func NewRabbitPublisher(sender RabbitSender) Publisher {
	return &rabbitPublisher{sender: sender}
}

func (p *rabbitPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return p.sender.Publish(ctx, msg.MessageType, msg.ID, msg.Payload)
}
