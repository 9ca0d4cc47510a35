package dispatch

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
)

// Coordinator распределяет заказы между партнёрами по доставке. Работает
// поверх зеркального хранилища заказов: каноническая запись живёт в
// order-service и пополняется событиями delivery.status_updated.
type Coordinator struct {
	orders      domain.DispatchOrderRepository
	partners    domain.PartnerRepository
	inbox       domain.InboxRepository
	outbox      domain.OutboxRepository
	broadcaster domain.Broadcaster
	logger      *log.Entry
}

// NewCoordinator конструирует координатора с зависимостями.
// broadcaster может быть nil (режим без realtime-нотификатора).
func NewCoordinator(
	orders domain.DispatchOrderRepository,
	partners domain.PartnerRepository,
	inbox domain.InboxRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "dispatch-service")
	}
	return &Coordinator{
		orders:   orders,
		partners: partners,
		inbox:    inbox,
		outbox:   outbox,
		logger:   logger,
	}
}

// SetBroadcaster подключает realtime-нотификатор. Вызывается на старте
// после сборки hub-а: hub и координатор ссылаются друг на друга.
func (c *Coordinator) SetBroadcaster(b domain.Broadcaster) {
	c.broadcaster = b
}

// RegisterPartner создаёт или обновляет партнёра по email.
func (c *Coordinator) RegisterPartner(partner domain.DeliveryPartner) error {
	if errs := partner.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}
	now := time.Now().UTC()
	if partner.CreatedAt.IsZero() {
		partner.CreatedAt = now
	}
	partner.UpdatedAt = now

	if err := c.partners.Upsert(partner); err != nil {
		return fmt.Errorf("upsert partner: %w", err)
	}

	c.logger.WithField("partner", partner.Email).Info("delivery partner registered")
	return nil
}

// RegisterOrder идемпотентно регистрирует зеркальную запись заказа.
// Возвращает true, если заказ увиден впервые.
func (c *Coordinator) RegisterOrder(order domain.Order) (bool, error) {
	if order.ID == "" {
		return false, domain.ErrOrderIDRequired
	}
	created, err := c.orders.Register(order)
	if err != nil {
		return false, fmt.Errorf("register order: %w", err)
	}
	return created, nil
}

// ListPendingOrders возвращает пул свободных заказов.
func (c *Coordinator) ListPendingOrders() ([]domain.Order, error) {
	return c.orders.ListPending()
}

// ActiveOrders возвращает незавершённые заказы партнёра.
func (c *Coordinator) ActiveOrders(partnerEmail string) ([]domain.Order, error) {
	if partnerEmail == "" {
		return nil, domain.ErrPartnerEmailRequired
	}
	return c.orders.ListActiveByPartner(partnerEmail)
}

// AvailablePartners возвращает партнёров, готовых принять заказ.
func (c *Coordinator) AvailablePartners() ([]domain.DeliveryPartner, error) {
	return c.partners.ListAvailable()
}

// AcceptOrder — принятие заказа партнёром. Обе стороны назначения атомарны
// на уровне хранилища: сперва ClaimAvailable занимает партнёра (двум
// конкурентным заказам один партнёр не достанется), затем Assign выигрывает
// или проигрывает гонку за заказ. При проигрыше партнёр возвращается в пул.
func (c *Coordinator) AcceptOrder(orderID, partnerEmail string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if partnerEmail == "" {
		return domain.Order{}, domain.ErrPartnerEmailRequired
	}

	if err := c.partners.ClaimAvailable(partnerEmail); err != nil {
		return domain.Order{}, err
	}

	order, err := c.orders.Assign(orderID, partnerEmail)
	if err != nil {
		if relErr := c.partners.SetAvailability(partnerEmail, true); relErr != nil {
			c.logger.WithError(relErr).WithField("partner", partnerEmail).
				Error("failed to release partner after lost assignment")
		}
		return domain.Order{}, err
	}

	c.publishDeliveryStatus(order)
	if c.broadcaster != nil {
		c.broadcaster.BroadcastOrderTaken(order.ID, partnerEmail)
		c.broadcaster.BroadcastStatusUpdate(order.ID, order.Status, partnerEmail)
	}

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"partner":  partnerEmail,
	}).Info("order accepted")

	return order, nil
}

// UpdateOrderStatus двигает заказ по цепочке picked_up -> on_the_way ->
// delivered (или отменяет). По завершению доставки партнёр снова
// становится доступным.
func (c *Coordinator) UpdateOrderStatus(orderID string, status domain.OrderStatus, partnerEmail string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if !domain.KnownStatus(status) {
		return domain.Order{}, domain.ErrUnknownStatus
	}

	order, err := c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if partnerEmail != "" && order.PartnerID != partnerEmail {
		return domain.Order{}, domain.ErrOrderAlreadyAssigned
	}
	if !domain.CanTransition(order.Status, status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, order.Status, status)
	}

	order, err = c.orders.UpdateStatus(orderID, status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}

	if status.IsTerminal() && order.PartnerID != "" {
		if err := c.partners.SetAvailability(order.PartnerID, true); err != nil {
			c.logger.WithError(err).WithField("partner", order.PartnerID).
				Error("failed to free partner after terminal status")
		}
	}

	c.publishDeliveryStatus(order)
	if c.broadcaster != nil {
		c.broadcaster.BroadcastStatusUpdate(order.ID, order.Status, order.PartnerID)
	}

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("delivery status updated")

	return order, nil
}

// UpdatePartnerAvailability переключает доступность партнёра вручную.
func (c *Coordinator) UpdatePartnerAvailability(email string, available bool) error {
	if email == "" {
		return domain.ErrPartnerEmailRequired
	}
	return c.partners.SetAvailability(email, available)
}

// UpdatePartnerLocation обновляет координату партнёра.
func (c *Coordinator) UpdatePartnerLocation(email string, point domain.GeoPoint) error {
	if email == "" {
		return domain.ErrPartnerEmailRequired
	}
	return c.partners.SetLocation(email, point)
}

// GetPartner возвращает партнёра по email.
func (c *Coordinator) GetPartner(email string) (domain.DeliveryPartner, error) {
	if email == "" {
		return domain.DeliveryPartner{}, domain.ErrPartnerEmailRequired
	}
	return c.partners.Get(email)
}

// HandleConnect привязывает realtime-канал партнёра. Доступность при этом
// не трогается: она управляется только ручным переключателем и жизненным
// циклом назначения, поэтому переподключение не перетирает ручное
// «недоступен», а выставленный флаг переживает обрыв связи.
func (c *Coordinator) HandleConnect(email, socketID string) error {
	return c.partners.SetSocket(email, socketID)
}

// HandleDisconnect очищает realtime-канал. Доступность, как и при
// подключении, не меняется: партнёру в пути даём шанс переподключиться,
// а свободный партнёр остаётся в пуле и увидит накопившиеся заказы после
// реконнекта. Рассылки новых заказов и так уходят только живым соединениям.
func (c *Coordinator) HandleDisconnect(email string) {
	if err := c.partners.SetSocket(email, ""); err != nil {
		c.logger.WithError(err).WithField("partner", email).Warn("failed to clear partner socket")
	}
}

// publishDeliveryStatus кладёт delivery.status_updated в outbox.
func (c *Coordinator) publishDeliveryStatus(order domain.Order) {
	if c.outbox == nil {
		return
	}
	env, err := kafka.NewEnvelope(kafka.RoutingKeyDeliveryStatusUpdated, order.ID,
		kafka.DeliveryStatusUpdatedEvent{
			OrderID:      order.ID,
			Status:       string(order.Status),
			PartnerEmail: order.PartnerID,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to build delivery event")
		return
	}
	_, err = c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "delivery",
		AggregateID:   order.ID,
		Topic:         kafka.TopicDeliveryEvents,
		RoutingKey:    string(kafka.RoutingKeyDeliveryStatusUpdated),
		Payload:       env.Payload,
	})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to enqueue delivery event")
	}
}
