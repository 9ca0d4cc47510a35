package notifier

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// Роли подключённых клиентов.
const (
	RolePartner  = "partner"
	RoleCustomer = "customer"
)

// Coordinator — операции dispatch-service, которые нотификатор вызывает
// по входящим кадрам и при смене состояния соединений.
type Coordinator interface {
	AcceptOrder(orderID, partnerEmail string) (domain.Order, error)
	UpdateOrderStatus(orderID string, status domain.OrderStatus, partnerEmail string) (domain.Order, error)
	AvailablePartners() ([]domain.DeliveryPartner, error)
	HandleConnect(email, socketID string) error
	HandleDisconnect(email string)
}

// Hub держит активные WebSocket-соединения и маршрутизирует broadcast-ы.
// Партнёры адресуются по email, клиенты — по customer id. Смена статуса
// уходит не всем, а в комнату заказа: клиенту и назначенному партнёру.
type Hub struct {
	coordinator Coordinator
	presence    *Presence
	logger      *log.Entry

	register   chan *Client
	unregister chan *Client

	mu        sync.RWMutex
	partners  map[string]*Client
	customers map[string]*Client
	// orderRooms хранит customer id по заказу: membership комнаты — это
	// клиент заказа плюс назначенный партнёр из самого события.
	orderRooms map[string]string
}

// NewHub создаёт hub. presence может быть nil (single-node режим).
func NewHub(coordinator Coordinator, presence *Presence, logger *log.Entry) *Hub {
	if logger == nil {
		logger = log.WithField("component", "notifier-hub")
	}
	return &Hub{
		coordinator: coordinator,
		presence:    presence,
		logger:      logger,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		partners:    make(map[string]*Client),
		customers:   make(map[string]*Client),
		orderRooms:  make(map[string]string),
	}
}

// Run обслуживает регистрацию и отключение клиентов до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.attach(client)
		case client := <-h.unregister:
			h.detach(client)
		}
	}
}

// attach регистрирует клиента. Второе соединение той же идентичности
// вытесняет первое.
func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	var evicted *Client
	switch client.role {
	case RolePartner:
		evicted = h.partners[client.identity]
		h.partners[client.identity] = client
	case RoleCustomer:
		evicted = h.customers[client.identity]
		h.customers[client.identity] = client
	}
	h.mu.Unlock()

	if evicted != nil {
		evicted.closeSend()
	}

	if client.role == RolePartner && h.coordinator != nil {
		if err := h.coordinator.HandleConnect(client.identity, client.socketID); err != nil {
			h.logger.WithError(err).WithField("partner", client.identity).Warn("partner connect hook failed")
		}
	}
	if h.presence != nil {
		if err := h.presence.Set(context.Background(), client.role, client.identity, client.socketID); err != nil {
			h.logger.WithError(err).WithField("client", client.identity).Warn("failed to record presence")
		}
	}

	h.logger.WithFields(log.Fields{
		"role":   client.role,
		"client": client.identity,
	}).Info("client connected")
}

// detach снимает клиента с учёта. Если идентичность уже занята новым
// соединением, оно остаётся нетронутым.
func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	current := false
	switch client.role {
	case RolePartner:
		if h.partners[client.identity] == client {
			delete(h.partners, client.identity)
			current = true
		}
	case RoleCustomer:
		if h.customers[client.identity] == client {
			delete(h.customers, client.identity)
			current = true
		}
	}
	h.mu.Unlock()

	client.closeSend()
	if !current {
		return
	}

	if client.role == RolePartner && h.coordinator != nil {
		h.coordinator.HandleDisconnect(client.identity)
	}
	if h.presence != nil {
		if err := h.presence.Clear(context.Background(), client.role, client.identity); err != nil {
			h.logger.WithError(err).WithField("client", client.identity).Warn("failed to clear presence")
		}
	}

	h.logger.WithFields(log.Fields{
		"role":   client.role,
		"client": client.identity,
	}).Info("client disconnected")
}

// BroadcastNewOrder рассылает новый заказ доступным партнёрам и запоминает
// клиента заказа для адресации комнаты.
func (h *Hub) BroadcastNewOrder(order domain.Order) {
	h.mu.Lock()
	h.orderRooms[order.ID] = order.CustomerID
	h.mu.Unlock()

	available := h.availableEmails()

	frame := h.marshalFrame(newOrderFrame(order))
	if frame == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for email, client := range h.partners {
		if available != nil {
			if _, ok := available[email]; !ok {
				continue
			}
		}
		h.send(client, frame)
	}
}

// BroadcastOrderTaken сообщает партнёрам, что заказ ушёл из пула.
// Принявший партнёр кадр не получает.
func (h *Hub) BroadcastOrderTaken(orderID, exceptPartnerEmail string) {
	frame := h.marshalFrame(Frame{
		Type:         FrameOrderTaken,
		OrderID:      orderID,
		PartnerEmail: exceptPartnerEmail,
	})
	if frame == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for email, client := range h.partners {
		if email == exceptPartnerEmail {
			continue
		}
		h.send(client, frame)
	}
}

// BroadcastStatusUpdate отправляет смену статуса в комнату заказа:
// клиенту и назначенному партнёру, остальных не трогает.
func (h *Hub) BroadcastStatusUpdate(orderID string, status domain.OrderStatus, partnerEmail string) {
	frame := h.marshalFrame(Frame{
		Type:         FrameStatusUpdate,
		OrderID:      orderID,
		Status:       string(status),
		PartnerEmail: partnerEmail,
	})
	if frame == nil {
		return
	}

	h.mu.RLock()
	customerID := h.orderRooms[orderID]
	if customer := h.customers[customerID]; customer != nil {
		h.send(customer, frame)
	}
	if partner := h.partners[partnerEmail]; partner != nil {
		h.send(partner, frame)
	}
	h.mu.RUnlock()

	if status.IsTerminal() {
		h.mu.Lock()
		delete(h.orderRooms, orderID)
		h.mu.Unlock()
	}
}

// availableEmails возвращает множество доступных партнёров или nil,
// если координатор не подключён либо недоступен (тогда шлём всем).
func (h *Hub) availableEmails() map[string]struct{} {
	if h.coordinator == nil {
		return nil
	}
	partners, err := h.coordinator.AvailablePartners()
	if err != nil {
		h.logger.WithError(err).Warn("failed to list available partners, broadcasting to all")
		return nil
	}
	set := make(map[string]struct{}, len(partners))
	for _, p := range partners {
		set[p.Email] = struct{}{}
	}
	return set
}

// send кладёт кадр в буфер клиента. Переполненный буфер означает
// отставшего клиента: кадр дропается, соединение закроет write pump.
func (h *Hub) send(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.logger.WithFields(log.Fields{
			"role":   client.role,
			"client": client.identity,
		}).Warn("client send buffer is full, dropping frame")
	}
}

func (h *Hub) marshalFrame(frame Frame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal frame")
		return nil
	}
	return data
}

func newOrderFrame(order domain.Order) Frame {
	items := make([]orderItemFrame, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemFrame{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	payload, err := json.Marshal(orderFrame{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		AmountMinor: order.AmountMinor,
		Address: addressFrame{
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			PostalCode: order.Address.PostalCode,
		},
		Items: items,
	})
	if err != nil {
		payload = nil
	}
	return Frame{
		Type:    FrameNewOrder,
		OrderID: order.ID,
		Order:   payload,
	}
}

var _ domain.Broadcaster = (*Hub)(nil)
