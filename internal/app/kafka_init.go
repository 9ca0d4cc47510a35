package app

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dds/internal/metrics"
)

// consumerMaxRetries — число попыток обработки до DLQ.
const consumerMaxRetries = 3

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой: сервис живёт без брокера в
// дев-режиме, события копятся в outbox.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		logger.Warn("KAFKA_BROKERS не задан, события остаются в outbox")
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// instrumentHandler оборачивает обработчик событий метриками: счётчики
// успехов и ошибок плюс время обработки по routing key.
func instrumentHandler(em *metrics.EventMetrics, next kafka.MessageHandler) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		start := time.Now()
		err := next(ctx, message)
		routingKey := routingKeyOf(message)
		if err != nil {
			em.RecordFailed(routingKey)
			return err
		}
		em.RecordConsumed(routingKey, time.Since(start))
		return nil
	}
}

func routingKeyOf(message *sarama.ConsumerMessage) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == kafka.HeaderRoutingKey {
			return string(header.Value)
		}
	}
	return "unknown"
}

// startConsumer создаёт consumer group с DLQ и запускает чтение в фоне.
// Ошибка чтения уходит в errCh.
func startConsumer(
	ctx context.Context,
	cfg Config,
	topics []string,
	handler kafka.MessageHandler,
	producer *kafka.Producer,
	logger *log.Entry,
	errCh chan<- error,
) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumerWithDLQ(cfg.KafkaBrokers, cfg.ConsumerGroup, topics, handler, producer, consumerMaxRetries)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("kafka consumer stopped with error")
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	return consumer, nil
}
