// event-sim публикует события внешних сервисов (платежи, регистрация
// партнёров) в Kafka. Инструмент для локальной разработки: заменяет
// платёжный и auth-сервисы, когда они не подняты.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

type config struct {
	brokers []string
	event   string

	orderID string

	email         string
	name          string
	phone         string
	vehicleType   string
	vehicleNumber string
}

func readConfig() (config, error) {
	var cfg config
	var brokersValue string

	flag.StringVar(&brokersValue, "brokers", "localhost:9092", "comma-separated Kafka brokers")
	flag.StringVar(&cfg.event, "event", "", "event to publish: payment-success | payment-failed | partner-registered")
	flag.StringVar(&cfg.orderID, "order-id", "", "order id for payment events")
	flag.StringVar(&cfg.email, "email", "", "partner email for partner-registered")
	flag.StringVar(&cfg.name, "name", "Тестовый партнёр", "partner name")
	flag.StringVar(&cfg.phone, "phone", "", "partner phone")
	flag.StringVar(&cfg.vehicleType, "vehicle-type", "bike", "partner vehicle type")
	flag.StringVar(&cfg.vehicleNumber, "vehicle-number", "", "partner vehicle number")
	flag.Parse()

	cfg.brokers = parseBrokers(brokersValue)
	return cfg, validate(cfg)
}

func parseBrokers(value string) []string {
	parts := strings.Split(value, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		broker := strings.TrimSpace(part)
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func validate(cfg config) error {
	if len(cfg.brokers) == 0 {
		return errors.New("brokers are required")
	}

	switch cfg.event {
	case "payment-success", "payment-failed":
		if cfg.orderID == "" {
			return errors.New("order-id is required for payment events")
		}
		return nil
	case "partner-registered":
		if cfg.email == "" {
			return errors.New("email is required for partner-registered")
		}
		return nil
	case "":
		return errors.New("event is required")
	default:
		return fmt.Errorf("unknown event: %s", cfg.event)
	}
}

// buildEvent собирает топик и конверт под выбранный тип события.
func buildEvent(cfg config) (string, kafka.Envelope, error) {
	switch cfg.event {
	case "payment-success":
		env, err := kafka.NewEnvelope(kafka.RoutingKeyPaymentSuccess, cfg.orderID,
			kafka.PaymentEvent{OrderID: cfg.orderID})
		return kafka.TopicPayment, env, err
	case "payment-failed":
		env, err := kafka.NewEnvelope(kafka.RoutingKeyPaymentFailed, cfg.orderID,
			kafka.PaymentEvent{OrderID: cfg.orderID})
		return kafka.TopicPayment, env, err
	case "partner-registered":
		env, err := kafka.NewEnvelope(kafka.RoutingKeyPartnerRegistered, cfg.email,
			kafka.PartnerRegisteredEvent{
				Email:         cfg.email,
				Name:          cfg.name,
				Phone:         cfg.phone,
				VehicleType:   cfg.vehicleType,
				VehicleNumber: cfg.vehicleNumber,
			})
		return kafka.TopicAuth, env, err
	default:
		return "", kafka.Envelope{}, fmt.Errorf("unknown event: %s", cfg.event)
	}
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		fail("invalid config: %v", err)
	}

	topic, env, err := buildEvent(cfg)
	if err != nil {
		fail("build event: %v", err)
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		fail("connect to kafka: %v", err)
	}
	defer func() { _ = producer.Close() }()

	if err := producer.PublishEnvelope(topic, env); err != nil {
		fail("publish event: %v", err)
	}

	fmt.Printf("published %s to %s (aggregate %s)\n", env.RoutingKey, topic, env.AggregateID)
}

func fail(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
