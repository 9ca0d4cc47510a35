package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

const (
	// Подключение к брокеру: ограниченное число попыток с фиксированной
	// паузой, затем процесс падает на старте. Exponential backoff с jitter
	// остаётся улучшением для будущего.
	dialAttempts  = 5
	dialRetryWait = 2 * time.Second
)

// Producer представляет Kafka producer для публикации событий.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создаёт новый Kafka producer, повторяя подключение
// ограниченное число раз с фиксированной паузой.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true // Включаем идемпотентность
	config.Net.MaxOpenRequests = 1    // Для идемпотентности

	logger := log.WithField("component", "kafka-producer")

	var (
		producer sarama.SyncProducer
		err      error
	)
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		producer, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			break
		}
		logger.WithError(err).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": dialAttempts,
		}).Warn("kafka connection failed, retrying")
		if attempt < dialAttempts {
			time.Sleep(dialRetryWait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer after %d attempts: %w", dialAttempts, err)
	}

	return &Producer{
		producer: producer,
		logger:   logger,
	}, nil
}

// PublishEnvelope сериализует конверт события и публикует его в topic.
// Ключом сообщения служит идентификатор агрегата.
func (p *Producer) PublishEnvelope(topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.publish(topic, env.AggregateID, data, []sarama.RecordHeader{
		{Key: []byte(HeaderRoutingKey), Value: []byte(env.RoutingKey)},
	})
}

// PublishEvent публикует произвольное событие в Kafka (DLQ, служебные сообщения).
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.publish(topic, key, eventData, nil)
}

func (p *Producer) publish(topic, key string, value []byte, headers []sarama.RecordHeader) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("%w: send message: %v", domain.ErrInfraUnavailable, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// EnvelopePublisher адаптирует Producer под domain.EventPublisher.
type EnvelopePublisher struct {
	producer *Producer
}

// NewEnvelopePublisher создаёт адаптер для публикации сырых payload.
func NewEnvelopePublisher(producer *Producer) domain.EventPublisher {
	return &EnvelopePublisher{producer: producer}
}

func (p *EnvelopePublisher) Publish(topic, key string, payload []byte) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka publisher is not initialized")
	}
	return p.producer.publish(topic, key, payload, nil)
}

var _ domain.EventPublisher = (*EnvelopePublisher)(nil)
