package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dds/internal/service/dispatch"
	"github.com/vladislavdragonenkov/dds/internal/service/orders"
	"github.com/vladislavdragonenkov/dds/internal/storage/memory"
)

// DeliveryLifecycleTestSuite гоняет полный цикл заказа через оба сервиса:
// канонический order-service и зеркальный dispatch-service, связанные
// транспортом outbox -> консьюмер. Kafka заменяется прямой доставкой
// сообщений из outbox одного сервиса в HandleMessage другого.
type DeliveryLifecycleTestSuite struct {
	suite.Suite

	orderSvc       *orders.Service
	coordinator    *dispatch.Coordinator
	orderOutbox    domain.OutboxRepository
	dispatchOutbox domain.OutboxRepository
	orderRepo      domain.OrderRepository
	timeline       domain.TimelineRepository
}

func (s *DeliveryLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	s.orderRepo = memory.NewOrderRepository()
	s.timeline = memory.NewTimelineRepository()
	s.orderOutbox = memory.NewOutboxRepository()
	s.dispatchOutbox = memory.NewOutboxRepository()

	s.orderSvc = orders.NewService(
		s.orderRepo,
		s.timeline,
		s.orderOutbox,
		memory.NewInboxRepository(),
		memory.NewCustomerRepository(),
		logger,
	)

	s.coordinator = dispatch.NewCoordinator(
		memory.NewDispatchOrderRepository(),
		memory.NewPartnerRepository(),
		memory.NewInboxRepository(),
		s.dispatchOutbox,
		logger,
	)
}

func (s *DeliveryLifecycleTestSuite) TestSuccessfulDeliveryLifecycle() {
	// 1. Создаём заказ в каноническом сервисе
	order, err := s.orderSvc.CreateOrder(orders.CreateOrderInput{
		CustomerID:  "customer-123",
		AmountMinor: 209898,
		Address: domain.Address{
			Line1: "Невский проспект, 28",
			City:  "Санкт-Петербург",
		},
		Items: []domain.OrderItem{
			{ProductID: "laptop-pro", Name: "Ноутбук", Qty: 1, PriceMinor: 199900},
			{ProductID: "mouse-wireless", Name: "Мышь", Qty: 2, PriceMinor: 4999},
		},
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPending, order.Status)

	// 2. order.created доезжает до dispatch-service через outbox
	require.Equal(s.T(), 1, s.relay(s.orderOutbox, s.coordinator.HandleMessage))

	pending, err := s.coordinator.ListPendingOrders()
	require.NoError(s.T(), err)
	require.Len(s.T(), pending, 1)
	require.Equal(s.T(), order.ID, pending[0].ID)
	require.Equal(s.T(), int64(209898), pending[0].AmountMinor)

	// 3. Партнёр берёт заказ и довозит его до клиента
	s.registerPartner("courier@dds.local")

	_, err = s.coordinator.AcceptOrder(order.ID, "courier@dds.local")
	require.NoError(s.T(), err)

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPickedUp,
		domain.OrderStatusOnTheWay,
		domain.OrderStatusDelivered,
	} {
		_, err = s.coordinator.UpdateOrderStatus(order.ID, status, "courier@dds.local")
		require.NoError(s.T(), err)
	}

	// 4. delivery.status_updated догоняет каноническую запись
	relayed := s.relay(s.dispatchOutbox, s.orderSvc.HandleMessage)
	require.GreaterOrEqual(s.T(), relayed, 4) // assigned + три статуса доставки

	canonical, err := s.orderSvc.GetOrder(order.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusDelivered, canonical.Status)
	require.Equal(s.T(), "courier@dds.local", canonical.PartnerID)

	// 5. Timeline хранит полную историю смены статусов
	events, err := s.orderSvc.OrderTimeline(order.ID)
	require.NoError(s.T(), err)
	require.GreaterOrEqual(s.T(), len(events), 5) // created + 4 смены статуса
	require.Equal(s.T(), domain.TimelineOrderCreated, events[0].Type)
}

func (s *DeliveryLifecycleTestSuite) TestPaymentEventsApplyToCanonicalOrder() {
	order := s.createOrder("customer-pay")

	msg := s.eventMessage(kafka.TopicPayment, kafka.RoutingKeyPaymentSuccess, order.ID,
		kafka.PaymentEvent{OrderID: order.ID})
	require.NoError(s.T(), s.orderSvc.HandleMessage(context.Background(), msg))

	updated, err := s.orderSvc.GetOrder(order.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.PaymentStatusCompleted, updated.PaymentStatus)
	// Статус доставки платёж не трогает
	require.Equal(s.T(), domain.OrderStatusPending, updated.Status)
}

func (s *DeliveryLifecycleTestSuite) TestDuplicateOrderCreatedIsIgnored() {
	order := s.createOrder("customer-dup")

	msg := s.eventMessage(kafka.TopicOrderEvents, kafka.RoutingKeyOrderCreated, order.ID,
		kafka.OrderToCreatedEvent(order))

	require.NoError(s.T(), s.coordinator.HandleMessage(context.Background(), msg))
	require.NoError(s.T(), s.coordinator.HandleMessage(context.Background(), msg))

	pending, err := s.coordinator.ListPendingOrders()
	require.NoError(s.T(), err)
	require.Len(s.T(), pending, 1)
}

func (s *DeliveryLifecycleTestSuite) TestPartnerRegisteredViaEvent() {
	msg := s.eventMessage(kafka.TopicAuth, kafka.RoutingKeyPartnerRegistered, "partner@dds.local",
		kafka.PartnerRegisteredEvent{
			Email:         "partner@dds.local",
			Name:          "Пётр",
			VehicleType:   "bike",
			VehicleNumber: "А123БВ",
		})
	require.NoError(s.T(), s.coordinator.HandleMessage(context.Background(), msg))

	partners, err := s.coordinator.AvailablePartners()
	require.NoError(s.T(), err)
	require.Len(s.T(), partners, 1)
	require.Equal(s.T(), "partner@dds.local", partners[0].Email)
	require.True(s.T(), partners[0].Available)
}

func (s *DeliveryLifecycleTestSuite) TestStaleDeliveryStatusDoesNotRollBack() {
	order := s.createOrder("customer-stale")
	require.Equal(s.T(), 1, s.relay(s.orderOutbox, s.coordinator.HandleMessage))

	s.registerPartner("slow@dds.local")
	_, err := s.coordinator.AcceptOrder(order.ID, "slow@dds.local")
	require.NoError(s.T(), err)
	_, err = s.coordinator.UpdateOrderStatus(order.ID, domain.OrderStatusPickedUp, "slow@dds.local")
	require.NoError(s.T(), err)

	require.GreaterOrEqual(s.T(), s.relay(s.dispatchOutbox, s.orderSvc.HandleMessage), 2)

	// Редоставка события со «старым» статусом подтверждается и игнорируется
	stale := s.eventMessage(kafka.TopicDeliveryEvents, kafka.RoutingKeyDeliveryStatusUpdated, order.ID,
		kafka.DeliveryStatusUpdatedEvent{
			OrderID:      order.ID,
			Status:       string(domain.OrderStatusAssigned),
			PartnerEmail: "slow@dds.local",
			Timestamp:    time.Now().UTC(),
		})
	require.NoError(s.T(), s.orderSvc.HandleMessage(context.Background(), stale))

	canonical, err := s.orderSvc.GetOrder(order.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPickedUp, canonical.Status)
}

func (s *DeliveryLifecycleTestSuite) TestCancellationPropagatesToDispatch() {
	order := s.createOrder("customer-cancel")
	require.Equal(s.T(), 1, s.relay(s.orderOutbox, s.coordinator.HandleMessage))

	s.registerPartner("late@dds.local")

	_, err := s.orderSvc.UpdateStatus(order.ID, domain.OrderStatusCancelled, "")
	require.NoError(s.T(), err)

	// order.updated доезжает до диспетчера и убирает заказ из пула
	require.Equal(s.T(), 1, s.relay(s.orderOutbox, s.coordinator.HandleMessage))

	pending, err := s.coordinator.ListPendingOrders()
	require.NoError(s.T(), err)
	require.Empty(s.T(), pending, "отменённый заказ не должен оставаться в пуле")

	// Опоздавший партнёр не может принять отменённый заказ
	_, err = s.coordinator.AcceptOrder(order.ID, "late@dds.local")
	require.ErrorIs(s.T(), err, domain.ErrIllegalTransition)

	canonical, err := s.orderSvc.GetOrder(order.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusCancelled, canonical.Status)

	events, err := s.orderSvc.OrderTimeline(order.ID)
	require.NoError(s.T(), err)

	hasCancel := false
	for _, event := range events {
		if event.Type == domain.TimelineOrderCancelled {
			hasCancel = true
		}
	}
	require.True(s.T(), hasCancel, "timeline должен содержать событие отмены")
}

// Вспомогательные методы

func (s *DeliveryLifecycleTestSuite) createOrder(customerID string) domain.Order {
	order, err := s.orderSvc.CreateOrder(orders.CreateOrderInput{
		CustomerID:  customerID,
		AmountMinor: 10000,
		Address:     domain.Address{Line1: "Тестовая улица, 1", City: "Москва"},
		Items: []domain.OrderItem{
			{ProductID: "test-item", Name: "Товар", Qty: 1, PriceMinor: 10000},
		},
	})
	require.NoError(s.T(), err)
	return order
}

func (s *DeliveryLifecycleTestSuite) registerPartner(email string) {
	err := s.coordinator.RegisterPartner(domain.DeliveryPartner{
		Email:       email,
		Name:        "Курьер",
		VehicleType: "bike",
		Available:   true,
	})
	require.NoError(s.T(), err)
}

// relay переносит накопленные в outbox события в консьюмер другого
// сервиса, имитируя доставку через брокер, и возвращает число сообщений.
func (s *DeliveryLifecycleTestSuite) relay(outbox domain.OutboxRepository, handler kafka.MessageHandler) int {
	messages, err := outbox.PullPending(100)
	require.NoError(s.T(), err)

	for _, msg := range messages {
		env := kafka.Envelope{
			RoutingKey:  kafka.RoutingKey(msg.RoutingKey),
			AggregateID: msg.AggregateID,
			Payload:     msg.Payload,
			PublishedAt: time.Now().UTC(),
		}
		require.NoError(s.T(), handler(context.Background(), s.consumerMessage(msg.Topic, env)))
		require.NoError(s.T(), outbox.MarkSent(msg.ID))
	}

	return len(messages)
}

func (s *DeliveryLifecycleTestSuite) eventMessage(topic string, key kafka.RoutingKey, aggregateID string, payload interface{}) *sarama.ConsumerMessage {
	env, err := kafka.NewEnvelope(key, aggregateID, payload)
	require.NoError(s.T(), err)
	return s.consumerMessage(topic, env)
}

func (s *DeliveryLifecycleTestSuite) consumerMessage(topic string, env kafka.Envelope) *sarama.ConsumerMessage {
	value, err := json.Marshal(env)
	require.NoError(s.T(), err)

	return &sarama.ConsumerMessage{
		Topic: topic,
		Key:   []byte(env.AggregateID),
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderRoutingKey), Value: []byte(env.RoutingKey)},
		},
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	suite.Run(t, new(DeliveryLifecycleTestSuite))
}
