package app

import (
	"os"
	"strings"

	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

// Config описывает настройки запуска сервиса. Всё берётся из окружения;
// пустой POSTGRES_DSN означает дев-режим на in-memory хранилище, пустой
// KAFKA_BROKERS — работу без брокера.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	// WSAddr — отдельный адрес для WebSocket-нотификатора. Пустая строка
	// означает, что /ws монтируется на основной HTTP-сервер.
	WSAddr string

	KafkaBrokers  []string
	ConsumerGroup string
	PostgresDSN   string
	RedisAddr     string
	// NodeID идентифицирует инстанс в presence-реестре.
	NodeID string

	OrderEventsTopic    string
	DeliveryEventsTopic string
	PaymentTopic        string
	RegistrationTopic   string
	// AuthTopic несёт delivery_partner.registered от auth-сервиса.
	AuthTopic string
}

// DefaultOrderConfig возвращает базовые настройки order-service.
func DefaultOrderConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		ConsumerGroup:       "order-service",
		OrderEventsTopic:    kafka.TopicOrderEvents,
		DeliveryEventsTopic: kafka.TopicDeliveryEvents,
		PaymentTopic:        kafka.TopicPayment,
		RegistrationTopic:   kafka.TopicUserRegistration,
		AuthTopic:           kafka.TopicAuth,
	}
}

// DefaultDispatchConfig возвращает базовые настройки dispatch-service.
func DefaultDispatchConfig() Config {
	return Config{
		HTTPAddr:            ":8081",
		MetricsAddr:         ":9091",
		ConsumerGroup:       "dispatch-service",
		OrderEventsTopic:    kafka.TopicOrderEvents,
		DeliveryEventsTopic: kafka.TopicDeliveryEvents,
		PaymentTopic:        kafka.TopicPayment,
		RegistrationTopic:   kafka.TopicUserRegistration,
		AuthTopic:           kafka.TopicAuth,
	}
}

// LoadOrderConfig читает настройки order-service из окружения.
func LoadOrderConfig() Config {
	return loadFromEnv(DefaultOrderConfig())
}

// LoadDispatchConfig читает настройки dispatch-service из окружения.
func LoadDispatchConfig() Config {
	return loadFromEnv(DefaultDispatchConfig())
}

func loadFromEnv(cfg Config) Config {
	cfg.HTTPAddr = envOr("DDS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envOr("DDS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.WSAddr = envOr("DDS_WS_ADDR", cfg.WSAddr)
	cfg.PostgresDSN = envOr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)
	cfg.ConsumerGroup = envOr("DDS_CONSUMER_GROUP", cfg.ConsumerGroup)
	cfg.OrderEventsTopic = envOr("DDS_ORDER_EVENTS_TOPIC", cfg.OrderEventsTopic)
	cfg.DeliveryEventsTopic = envOr("DDS_DELIVERY_EVENTS_TOPIC", cfg.DeliveryEventsTopic)
	cfg.PaymentTopic = envOr("DDS_PAYMENT_TOPIC", cfg.PaymentTopic)
	cfg.RegistrationTopic = envOr("DDS_REGISTRATION_TOPIC", cfg.RegistrationTopic)
	cfg.AuthTopic = envOr("DDS_AUTH_TOPIC", cfg.AuthTopic)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.NodeID = os.Getenv("DDS_NODE_ID")
	if cfg.NodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.NodeID = hostname
		} else {
			cfg.NodeID = "dds-node"
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
