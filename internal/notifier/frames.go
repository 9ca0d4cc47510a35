package notifier

import "encoding/json"

// Типы кадров, которыми нотификатор обменивается с клиентами.
const (
	// Исходящие.
	FrameNewOrder     = "new_order"
	FrameOrderTaken   = "order_taken"
	FrameStatusUpdate = "status_update"
	FrameError        = "error"
	FrameAck          = "ack"

	// Входящие.
	FrameAcceptOrder       = "accept_order"
	FrameUpdateOrderStatus = "update_order_status"
)

// Frame — общий формат сообщения поверх WebSocket.
type Frame struct {
	Type         string          `json:"type"`
	OrderID      string          `json:"order_id,omitempty"`
	Status       string          `json:"status,omitempty"`
	PartnerEmail string          `json:"assigned_partner_id,omitempty"`
	Message      string          `json:"message,omitempty"`
	Order        json.RawMessage `json:"order,omitempty"`
}

// inboundFrame — кадр от клиента.
type inboundFrame struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// orderFrame — заказ в кадре new_order: подмножество полей, нужных
// партнёру для решения о принятии.
type orderFrame struct {
	OrderID     string           `json:"order_id"`
	CustomerID  string           `json:"customer_id"`
	AmountMinor int64            `json:"amount_minor"`
	Address     addressFrame     `json:"address"`
	Items       []orderItemFrame `json:"items"`
}

type addressFrame struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
}

type orderItemFrame struct {
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}
