package notifier

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client — одно WebSocket-соединение партнёра или клиента.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity string
	role     string
	socketID string

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, identity, role string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		identity: identity,
		role:     role,
		socketID: uuid.NewString(),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeWS апгрейдит HTTP-запрос до WebSocket и регистрирует клиента.
// Идентичность и роль берутся из query: ?role=partner&id=<email> либо
// ?role=customer&id=<customer_id>.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("id")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = RolePartner
	}
	if identity == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	if role != RolePartner && role != RoleCustomer {
		http.Error(w, "role must be partner or customer", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient(h, conn, identity, role)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump читает входящие кадры до закрытия соединения.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).WithField("client", c.identity).Warn("unexpected websocket close")
			}
			return
		}
		c.handleFrame(message)
	}
}

// writePump пишет кадры из буфера и поддерживает ping/pong.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame обрабатывает кадр от клиента. Ответ с результатом уходит
// только отправителю; broadcast-ы по итогам операции рассылает координатор.
func (c *Client) handleFrame(message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.reply(Frame{Type: FrameError, Message: "malformed frame"})
		return
	}

	if c.role != RolePartner {
		c.reply(Frame{Type: FrameError, Message: "only partners can send commands"})
		return
	}
	if c.hub.coordinator == nil {
		c.reply(Frame{Type: FrameError, Message: "dispatch is not available"})
		return
	}

	switch frame.Type {
	case FrameAcceptOrder:
		order, err := c.hub.coordinator.AcceptOrder(frame.OrderID, c.identity)
		if err != nil {
			// Проигранная гонка — ожидаемый исход: заказ просто уходит
			// из локального пула партнёра.
			if domain.IsConflict(err) {
				c.reply(Frame{Type: FrameOrderTaken, OrderID: frame.OrderID})
				return
			}
			c.reply(Frame{Type: FrameError, OrderID: frame.OrderID, Message: err.Error()})
			return
		}
		c.reply(Frame{Type: FrameAck, OrderID: order.ID, Status: string(order.Status)})

	case FrameUpdateOrderStatus:
		order, err := c.hub.coordinator.UpdateOrderStatus(frame.OrderID, domain.OrderStatus(frame.Status), c.identity)
		if err != nil {
			c.reply(Frame{Type: FrameError, OrderID: frame.OrderID, Message: err.Error()})
			return
		}
		c.reply(Frame{Type: FrameAck, OrderID: order.ID, Status: string(order.Status)})

	default:
		c.reply(Frame{Type: FrameError, Message: "unknown frame type"})
	}
}

func (c *Client) reply(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.WithError(err).Error("failed to marshal reply frame")
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.WithFields(log.Fields{
			"role":   c.role,
			"client": c.identity,
		}).Warn("client send buffer is full, dropping reply")
	}
}
