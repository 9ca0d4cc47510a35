package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

const inboxTTL = 24 * time.Hour

// HandleMessage — точка входа консьюмера dispatch-service.
func (c *Coordinator) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(msg.Value)
	if err != nil {
		return err
	}

	switch env.RoutingKey {
	case kafka.RoutingKeyOrderCreated:
		return c.handleOrderCreated(env)
	case kafka.RoutingKeyPartnerRegistered:
		return c.handlePartnerRegistered(env)
	case kafka.RoutingKeyOrderUpdated:
		return c.handleOrderUpdated(env)
	default:
		c.logger.WithFields(log.Fields{
			"routing_key": env.RoutingKey,
			"topic":       msg.Topic,
		}).Warn("unknown routing key, dropping message")
		return nil
	}
}

// handleOrderCreated регистрирует зеркальный заказ и оповещает
// подключённых партнёров. Register идемпотентен, но inbox всё равно
// отсеивает редоставку раньше, чтобы не слать повторный broadcast.
func (c *Coordinator) handleOrderCreated(env kafka.Envelope) error {
	var event kafka.OrderCreatedEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}
	if event.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrMalformedEvent)
	}

	fresh, err := c.inbox.MarkProcessed(env.IdempotencyKey(), time.Now().UTC().Add(inboxTTL))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !fresh {
		c.logger.WithField("event_key", env.IdempotencyKey()).Debug("duplicate order.created, skipping")
		return nil
	}

	order := kafka.CreatedEventToOrder(event)
	created, err := c.RegisterOrder(order)
	if err != nil {
		c.releaseInboxKey(env.IdempotencyKey())
		return err
	}
	if created && c.broadcaster != nil {
		c.broadcaster.BroadcastNewOrder(order)
	}

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"created":  created,
	}).Info("order registered from event")

	return nil
}

// handleOrderUpdated применяет канонический статус к зеркальной записи.
// Значимый случай — отмена заказа владельцем: отменённый заказ уходит из
// пула свободных, а уже назначенный партнёр освобождается. Эхо наших же
// delivery.status_updated приходит со статусом, который зеркало уже прошло,
// и отсеивается forward-only проверкой.
func (c *Coordinator) handleOrderUpdated(env kafka.Envelope) error {
	var event kafka.OrderUpdatedEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}
	if event.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrMalformedEvent)
	}
	newStatus := domain.OrderStatus(event.Status)
	if !domain.KnownStatus(newStatus) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStatus, event.Status)
	}

	// Статус входит в ключ идемпотентности: одна пара (orderID, routingKey)
	// легально приходит на каждый переход.
	key := domain.EventKey(event.OrderID, string(env.RoutingKey)+":"+event.Status)
	fresh, err := c.inbox.MarkProcessed(key, time.Now().UTC().Add(inboxTTL))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if !fresh {
		c.logger.WithField("event_key", key).Debug("duplicate order.updated, skipping")
		return nil
	}

	order, err := c.orders.Get(event.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.WithField("order_id", event.OrderID).
				Warn("order.updated for unknown mirror order, dropping")
			return nil
		}
		c.releaseInboxKey(key)
		return fmt.Errorf("load mirror order %s: %w", event.OrderID, err)
	}
	if !domain.IsForward(order.Status, newStatus) {
		c.logger.WithFields(log.Fields{
			"order_id": event.OrderID,
			"current":  order.Status,
			"incoming": newStatus,
		}).Debug("stale or echoed order.updated, ignoring")
		return nil
	}

	order, err = c.orders.UpdateStatus(event.OrderID, newStatus)
	if err != nil {
		c.releaseInboxKey(key)
		return fmt.Errorf("apply canonical status: %w", err)
	}

	if newStatus.IsTerminal() && order.PartnerID != "" {
		if err := c.partners.SetAvailability(order.PartnerID, true); err != nil {
			c.logger.WithError(err).WithField("partner", order.PartnerID).
				Error("failed to free partner after canonical terminal status")
		}
	}
	if c.broadcaster != nil {
		if newStatus == domain.OrderStatusCancelled {
			// Пустой partner в order_taken убирает заказ из пулов
			// на клиентах.
			c.broadcaster.BroadcastOrderTaken(order.ID, "")
		}
		c.broadcaster.BroadcastStatusUpdate(order.ID, order.Status, order.PartnerID)
	}

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("canonical status applied to mirror")

	return nil
}

// releaseInboxKey возвращает ключ события в inbox после неудачного
// применения, чтобы редоставка не была отсеяна как дубликат.
func (c *Coordinator) releaseInboxKey(key string) {
	if err := c.inbox.Forget(key); err != nil {
		c.logger.WithError(err).WithField("event_key", key).
			Error("failed to release inbox key, redelivery will be dropped")
	}
}

// handlePartnerRegistered заводит партнёра из события auth-сервиса.
func (c *Coordinator) handlePartnerRegistered(env kafka.Envelope) error {
	var event kafka.PartnerRegisteredEvent
	if err := kafka.DecodePayload(env, &event); err != nil {
		return err
	}
	if event.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrMalformedEvent)
	}

	return c.RegisterPartner(domain.DeliveryPartner{
		Email:         event.Email,
		Name:          event.Name,
		Phone:         event.Phone,
		VehicleType:   event.VehicleType,
		VehicleNumber: event.VehicleNumber,
		Available:     true,
	})
}
