package main

import (
	"testing"

	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

func TestValidate(t *testing.T) {
	base := config{brokers: []string{"localhost:9092"}}

	cases := []struct {
		name    string
		mutate  func(*config)
		wantErr bool
	}{
		{
			name:    "событие не указано",
			mutate:  func(c *config) {},
			wantErr: true,
		},
		{
			name: "платёж без order-id",
			mutate: func(c *config) {
				c.event = "payment-success"
			},
			wantErr: true,
		},
		{
			name: "корректный платёж",
			mutate: func(c *config) {
				c.event = "payment-failed"
				c.orderID = "order-1"
			},
		},
		{
			name: "регистрация без email",
			mutate: func(c *config) {
				c.event = "partner-registered"
			},
			wantErr: true,
		},
		{
			name: "корректная регистрация",
			mutate: func(c *config) {
				c.event = "partner-registered"
				c.email = "partner@dds.local"
			},
		},
		{
			name: "неизвестное событие",
			mutate: func(c *config) {
				c.event = "inventory-reserved"
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		err := validate(cfg)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: ожидалась ошибка", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
}

func TestBuildEventPaymentSuccess(t *testing.T) {
	cfg := config{event: "payment-success", orderID: "order-42"}

	topic, env, err := buildEvent(cfg)
	if err != nil {
		t.Fatalf("buildEvent: %v", err)
	}
	if topic != kafka.TopicPayment {
		t.Fatalf("topic = %q, ожидалось %q", topic, kafka.TopicPayment)
	}
	if env.RoutingKey != kafka.RoutingKeyPaymentSuccess {
		t.Fatalf("routing key = %q", env.RoutingKey)
	}
	if env.AggregateID != "order-42" {
		t.Fatalf("aggregate id = %q", env.AggregateID)
	}

	var payload kafka.PaymentEvent
	if err := kafka.DecodePayload(env, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderID != "order-42" {
		t.Fatalf("order_id в payload = %q", payload.OrderID)
	}
}

func TestBuildEventPartnerRegistered(t *testing.T) {
	cfg := config{
		event:       "partner-registered",
		email:       "partner@dds.local",
		name:        "Пётр",
		vehicleType: "car",
	}

	topic, env, err := buildEvent(cfg)
	if err != nil {
		t.Fatalf("buildEvent: %v", err)
	}
	if topic != kafka.TopicAuth {
		t.Fatalf("topic = %q", topic)
	}

	var payload kafka.PartnerRegisteredEvent
	if err := kafka.DecodePayload(env, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Email != "partner@dds.local" || payload.VehicleType != "car" {
		t.Fatalf("неверный payload: %+v", payload)
	}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("parseBrokers вернул %v", brokers)
	}
}
