package domain

import "time"

// Типы событий timeline заказа.
const (
	TimelineOrderCreated         = "OrderCreated"
	TimelineOrderStatusChanged   = "OrderStatusChanged"
	TimelinePaymentStatusChanged = "PaymentStatusChanged"
	TimelineOrderCancelled       = "OrderCancelled"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
