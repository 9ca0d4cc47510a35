package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// RoutingKey определяет тип события внутри топика.
type RoutingKey string

const (
	// Order события (владелец — order-service).
	RoutingKeyOrderCreated RoutingKey = "order.created"
	RoutingKeyOrderUpdated RoutingKey = "order.updated"

	// Delivery события (владелец — dispatch-service).
	RoutingKeyDeliveryStatusUpdated RoutingKey = "delivery.status_updated"

	// Payment события (внешний платёжный сервис).
	RoutingKeyPaymentSuccess RoutingKey = "payment.success"
	RoutingKeyPaymentFailed  RoutingKey = "payment.failed"

	// События регистрации (внешние сервисы пользователей и auth).
	RoutingKeyProfileUpdated    RoutingKey = "profile.updated"
	RoutingKeyPartnerRegistered RoutingKey = "delivery_partner.registered"
)

// Топики брокера. Один топик на домен, routing key внутри сообщения;
// ключом сообщения служит идентификатор агрегата, что даёт брокеру
// упорядоченность в пределах одного заказа.
const (
	TopicOrderEvents      = "order_events"
	TopicDeliveryEvents   = "delivery_events"
	TopicPayment          = "payment"
	TopicUserRegistration = "user-registration"
	TopicAuth             = "auth"
	TopicDeadLetterQueue  = "dds.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для routing и retry логики.
const (
	HeaderRoutingKey    = "x-routing-key"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — общий конверт события: routing key, идентификатор агрегата
// и payload, схема которого определяется routing key.
type Envelope struct {
	RoutingKey  RoutingKey      `json:"routing_key"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// IdempotencyKey возвращает ключ (aggregateID, routingKey), по которому
// консьюмеры распознают редоставку.
func (e *Envelope) IdempotencyKey() string {
	return domain.EventKey(e.AggregateID, string(e.RoutingKey))
}

// NewEnvelope собирает конверт с сериализованным payload.
func NewEnvelope(key RoutingKey, aggregateID string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", key, err)
	}
	return Envelope{
		RoutingKey:  key,
		AggregateID: aggregateID,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// OrderItemPayload — позиция заказа в событии.
type OrderItemPayload struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// AddressPayload — адрес доставки в событии.
type AddressPayload struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city"`
	PostalCode string   `json:"postal_code,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// OrderCreatedEvent публикуется order-service при создании заказа.
type OrderCreatedEvent struct {
	OrderID     string             `json:"order_id"`
	CustomerID  string             `json:"customer_id"`
	Address     AddressPayload     `json:"address"`
	AmountMinor int64              `json:"amount_minor"`
	Items       []OrderItemPayload `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OrderUpdatedEvent публикуется order-service при смене канонического статуса.
type OrderUpdatedEvent struct {
	OrderID      string    `json:"order_id"`
	Status       string    `json:"status"`
	PartnerEmail string    `json:"assigned_partner_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveryStatusUpdatedEvent публикуется dispatch-service при смене статуса доставки.
type DeliveryStatusUpdatedEvent struct {
	OrderID      string    `json:"order_id"`
	Status       string    `json:"status"`
	PartnerEmail string    `json:"assigned_partner_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PaymentEvent приходит от платёжного сервиса (payment.success / payment.failed).
type PaymentEvent struct {
	OrderID string `json:"order_id"`
}

// ProfileUpdatedEvent приходит от сервиса пользователей.
type ProfileUpdatedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
}

// PartnerRegisteredEvent приходит от auth-сервиса при регистрации партнёра.
type PartnerRegisteredEvent struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	VehicleType   string `json:"vehicle_type"`
	VehicleNumber string `json:"vehicle_number"`
}

// ParseEnvelope разбирает конверт события из тела сообщения.
func ParseEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.RoutingKey == "" || env.AggregateID == "" {
		return Envelope{}, fmt.Errorf("%w: routing_key and aggregate_id are required", domain.ErrMalformedEvent)
	}
	return env, nil
}

// DecodePayload разбирает payload конверта в типизированную структуру.
func DecodePayload(env Envelope, out interface{}) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedEvent, env.RoutingKey, err)
	}
	return nil
}

// OrderToCreatedEvent собирает событие order.created из доменного заказа.
func OrderToCreatedEvent(order domain.Order) OrderCreatedEvent {
	items := make([]OrderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemPayload{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	addr := AddressPayload{
		Line1:      order.Address.Line1,
		Line2:      order.Address.Line2,
		City:       order.Address.City,
		PostalCode: order.Address.PostalCode,
	}
	if order.Address.Location != nil {
		lat, lng := order.Address.Location.Lat, order.Address.Location.Lng
		addr.Lat, addr.Lng = &lat, &lng
	}

	return OrderCreatedEvent{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Address:     addr,
		AmountMinor: order.AmountMinor,
		Items:       items,
		CreatedAt:   order.CreatedAt,
	}
}

// CreatedEventToOrder восстанавливает зеркальный заказ из события order.created.
func CreatedEventToOrder(event OrderCreatedEvent) domain.Order {
	items := make([]domain.OrderItem, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, domain.OrderItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	addr := domain.Address{
		Line1:      event.Address.Line1,
		Line2:      event.Address.Line2,
		City:       event.Address.City,
		PostalCode: event.Address.PostalCode,
	}
	if event.Address.Lat != nil && event.Address.Lng != nil {
		addr.Location = &domain.GeoPoint{Lat: *event.Address.Lat, Lng: *event.Address.Lng}
	}

	return domain.Order{
		ID:            event.OrderID,
		CustomerID:    event.CustomerID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         items,
		AmountMinor:   event.AmountMinor,
		Address:       addr,
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.CreatedAt,
	}
}
