package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

// Service — владелец агрегата "заказ". Все изменения канонической записи
// проходят через него; наружу изменения уходят событиями через
// transactional outbox.
type Service struct {
	repo      domain.OrderRepository
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	inbox     domain.InboxRepository
	customers domain.CustomerRepository
	logger    *log.Entry
}

// NewService конструирует сервис с зависимостями.
func NewService(
	repo domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	inbox domain.InboxRepository,
	customers domain.CustomerRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &Service{
		repo:      repo,
		timeline:  timeline,
		outbox:    outbox,
		inbox:     inbox,
		customers: customers,
		logger:    logger,
	}
}

// CreateOrderInput — данные для создания заказа.
type CreateOrderInput struct {
	CustomerID  string
	Items       []domain.OrderItem
	AmountMinor int64
	Address     domain.Address
}

// CreateOrder создаёт заказ в статусе pending/pending и ставит
// order.created в outbox.
func (s *Service) CreateOrder(input CreateOrderInput) (domain.Order, error) {
	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		CustomerID:    input.CustomerID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         input.Items,
		AmountMinor:   input.AmountMinor,
		Address:       input.Address,
		Version:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	if err := s.repo.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.appendTimeline(order.ID, domain.TimelineOrderCreated, "")
	s.enqueueEvent(kafka.TopicOrderEvents, kafka.RoutingKeyOrderCreated, order.ID,
		kafka.OrderToCreatedEvent(order))

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
	}).Info("order created")

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.repo.Get(orderID)
}

// ListOrders возвращает заказы клиента.
func (s *Service) ListOrders(customerID string, limit int) ([]domain.Order, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return s.repo.ListByCustomer(customerID, limit)
}

// OrderTimeline возвращает журнал событий заказа.
func (s *Service) OrderTimeline(orderID string) ([]domain.TimelineEvent, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	if _, err := s.repo.Get(orderID); err != nil {
		return nil, err
	}
	return s.timeline.List(orderID)
}

// UpdateStatus переводит заказ в новый статус доставки. Прямой API-вызов
// строже консьюмера: нелегальный переход отклоняется, а не игнорируется.
func (s *Service) UpdateStatus(orderID string, newStatus domain.OrderStatus, partnerEmail string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if !domain.KnownStatus(newStatus) {
		return domain.Order{}, domain.ErrUnknownStatus
	}

	order, err := s.repo.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, newStatus) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, order.Status, newStatus)
	}

	order.Status = newStatus
	if partnerEmail != "" {
		order.PartnerID = partnerEmail
	}
	if domain.StatusRequiresPartner(newStatus) && order.PartnerID == "" {
		return domain.Order{}, domain.ErrPartnerRequired
	}
	order.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(order); err != nil {
		return domain.Order{}, fmt.Errorf("save order status: %w", err)
	}
	order.Version++

	timelineType := domain.TimelineOrderStatusChanged
	if newStatus == domain.OrderStatusCancelled {
		timelineType = domain.TimelineOrderCancelled
	}
	s.appendTimeline(order.ID, timelineType, string(newStatus))
	s.enqueueEvent(kafka.TopicOrderEvents, kafka.RoutingKeyOrderUpdated, order.ID,
		kafka.OrderUpdatedEvent{
			OrderID:      order.ID,
			Status:       string(order.Status),
			PartnerEmail: order.PartnerID,
			Timestamp:    order.UpdatedAt,
		})

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("order status updated")

	return order, nil
}

// UpdatePaymentStatus обновляет ось оплаты. Статус доставки не трогается:
// оси независимы.
func (s *Service) UpdatePaymentStatus(orderID string, paymentStatus domain.PaymentStatus) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if !domain.KnownPaymentStatus(paymentStatus) {
		return domain.Order{}, domain.ErrUnknownStatus
	}

	order, err := s.repo.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentStatus == paymentStatus {
		return order, nil
	}

	order.PaymentStatus = paymentStatus
	order.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(order); err != nil {
		return domain.Order{}, fmt.Errorf("save payment status: %w", err)
	}
	order.Version++

	s.appendTimeline(order.ID, domain.TimelinePaymentStatusChanged, string(paymentStatus))

	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_status": order.PaymentStatus,
	}).Info("payment status updated")

	return order, nil
}

// appendTimeline пишет событие в журнал заказа. Журнал вспомогательный,
// его ошибка не роняет основную операцию.
func (s *Service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}

// enqueueEvent кладёт событие в outbox для последующей публикации воркером.
func (s *Service) enqueueEvent(topic string, key kafka.RoutingKey, aggregateID string, payload interface{}) {
	if s.outbox == nil {
		return
	}
	env, err := kafka.NewEnvelope(key, aggregateID, payload)
	if err != nil {
		s.logger.WithError(err).WithField("routing_key", key).Error("failed to build event payload")
		return
	}
	_, err = s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   aggregateID,
		Topic:         topic,
		RoutingKey:    string(key),
		Payload:       env.Payload,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    aggregateID,
			"routing_key": key,
		}).Error("failed to enqueue outbox event")
	}
}
