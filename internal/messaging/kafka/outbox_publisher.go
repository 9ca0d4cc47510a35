package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, заворачивая
// payload в стандартный конверт события.
type OutboxTopicPublisher struct {
	producer     *Producer
	defaultTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// defaultTopic используется для сообщений без явного топика.
func NewOutboxPublisher(producer *Producer, defaultTopic string) domain.OutboxPublisher {
	if defaultTopic == "" {
		defaultTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:     producer,
		defaultTopic: defaultTopic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := event.Topic
	if topic == "" {
		topic = p.defaultTopic
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	env := Envelope{
		RoutingKey:  RoutingKey(event.RoutingKey),
		AggregateID: key,
		Payload:     json.RawMessage(event.Payload),
		PublishedAt: time.Now().UTC(),
	}

	return p.producer.PublishEnvelope(topic, env)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
