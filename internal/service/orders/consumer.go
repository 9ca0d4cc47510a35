package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

const (
	inboxTTL = 24 * time.Hour

	// saveAttempts ограничивает повторные попытки Save при version conflict:
	// консьюмер конкурирует с REST-обработчиками за одну запись.
	saveAttempts = 3
)

// HandleMessage — точка входа консьюмера order-service. Разбирает конверт
// и маршрутизирует событие по routing key. Неизвестные ключи подтверждаются
// и дропаются.
func (s *Service) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(msg.Value)
	if err != nil {
		return err
	}

	switch env.RoutingKey {
	case kafka.RoutingKeyDeliveryStatusUpdated:
		return s.handleDeliveryStatusUpdated(env)
	case kafka.RoutingKeyPaymentSuccess:
		return s.handlePayment(env, domain.PaymentStatusCompleted)
	case kafka.RoutingKeyPaymentFailed:
		return s.handlePayment(env, domain.PaymentStatusFailed)
	case kafka.RoutingKeyProfileUpdated:
		return s.handleProfileUpdated(env)
	default:
		s.logger.WithFields(log.Fields{
			"routing_key": env.RoutingKey,
			"topic":       msg.Topic,
		}).Warn("unknown routing key, dropping message")
		return nil
	}
}

// handleDeliveryStatusUpdated применяет статус от dispatch-service к
// канонической записи. Политика forward-only: редоставленное или
// переупорядоченное событие со «старым» статусом игнорируется и
// подтверждается, каноническая запись назад не откатывается.
func (s *Service) handleDeliveryStatusUpdated(env kafka.Envelope) error {
	var event kafka.DeliveryStatusUpdatedEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}

	newStatus := domain.OrderStatus(event.Status)
	if !domain.KnownStatus(newStatus) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStatus, event.Status)
	}

	// У статусных событий в ключ идемпотентности входит сам статус:
	// одна пара (orderID, routingKey) легально приходит несколько раз.
	key := domain.EventKey(event.OrderID, string(env.RoutingKey)+":"+event.Status)
	fresh, err := s.inbox.MarkProcessed(key, time.Now().UTC().Add(inboxTTL))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !fresh {
		s.logger.WithField("event_key", key).Debug("duplicate delivery event, skipping")
		return nil
	}

	for attempt := 1; ; attempt++ {
		order, err := s.repo.Get(event.OrderID)
		if err != nil {
			s.releaseInboxKey(key)
			return fmt.Errorf("load order %s: %w", event.OrderID, err)
		}

		if !domain.IsForward(order.Status, newStatus) {
			s.logger.WithFields(log.Fields{
				"order_id":    event.OrderID,
				"current":     order.Status,
				"incoming":    newStatus,
				"routing_key": env.RoutingKey,
			}).Info("stale delivery status, ignoring")
			return nil
		}

		order.Status = newStatus
		if event.PartnerEmail != "" {
			order.PartnerID = event.PartnerEmail
		}
		order.UpdatedAt = time.Now().UTC()

		err = s.repo.Save(order)
		if err == nil {
			order.Version++
			s.appendTimeline(order.ID, domain.TimelineOrderStatusChanged, string(newStatus))
			s.enqueueEvent(kafka.TopicOrderEvents, kafka.RoutingKeyOrderUpdated, order.ID,
				kafka.OrderUpdatedEvent{
					OrderID:      order.ID,
					Status:       string(order.Status),
					PartnerEmail: order.PartnerID,
					Timestamp:    order.UpdatedAt,
				})
			return nil
		}
		if domain.IsVersionConflict(err) && attempt < saveAttempts {
			continue
		}
		s.releaseInboxKey(key)
		return fmt.Errorf("apply delivery status: %w", err)
	}
}

// handlePayment двигает только ось оплаты. Статус доставки не меняется
// даже при payment.failed: отмена — отдельное бизнес-решение.
func (s *Service) handlePayment(env kafka.Envelope, paymentStatus domain.PaymentStatus) error {
	var event kafka.PaymentEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}
	if event.OrderID == "" {
		event.OrderID = env.AggregateID
	}

	fresh, err := s.inbox.MarkProcessed(env.IdempotencyKey(), time.Now().UTC().Add(inboxTTL))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !fresh {
		s.logger.WithField("event_key", env.IdempotencyKey()).Debug("duplicate payment event, skipping")
		return nil
	}

	for attempt := 1; ; attempt++ {
		order, err := s.repo.Get(event.OrderID)
		if err != nil {
			s.releaseInboxKey(env.IdempotencyKey())
			return fmt.Errorf("load order %s: %w", event.OrderID, err)
		}
		if order.PaymentStatus == paymentStatus {
			return nil
		}

		order.PaymentStatus = paymentStatus
		order.UpdatedAt = time.Now().UTC()

		err = s.repo.Save(order)
		if err == nil {
			s.appendTimeline(order.ID, domain.TimelinePaymentStatusChanged, string(paymentStatus))
			return nil
		}
		if domain.IsVersionConflict(err) && attempt < saveAttempts {
			continue
		}
		s.releaseInboxKey(env.IdempotencyKey())
		return fmt.Errorf("apply payment status: %w", err)
	}
}

// releaseInboxKey возвращает ключ события в inbox после неудачного
// применения, чтобы редоставка не была отсеяна как дубликат.
func (s *Service) releaseInboxKey(key string) {
	if err := s.inbox.Forget(key); err != nil {
		s.logger.WithError(err).WithField("event_key", key).
			Error("failed to release inbox key, redelivery will be dropped")
	}
}

// handleProfileUpdated обновляет зеркальную запись клиента. Upsert сам по
// себе идемпотентен, inbox здесь не нужен.
func (s *Service) handleProfileUpdated(env kafka.Envelope) error {
	var event kafka.ProfileUpdatedEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}
	if event.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrMalformedEvent)
	}
	if s.customers == nil {
		return nil
	}

	err := s.customers.Upsert(domain.Customer{
		UserID:    event.UserID,
		Email:     event.Email,
		Name:      event.Name,
		Phone:     event.Phone,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("upsert customer mirror: %w", err)
	}
	return nil
}
