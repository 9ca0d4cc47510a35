package domain

import "time"

// EventPublisher публикует доменные события в брокер.
type EventPublisher interface {
	// Publish отправляет payload в topic с ключом key; должен быть идемпотентным.
	Publish(topic, key string, payload []byte) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// Broadcaster — порт realtime-нотификатора, через который координатор
// рассылает изменения подключённым клиентам.
type Broadcaster interface {
	// BroadcastNewOrder отправляет новый заказ всем доступным партнёрам.
	BroadcastNewOrder(order Order)
	// BroadcastOrderTaken сообщает всем партнёрам, кроме принявшего,
	// что заказ нужно убрать из локального пула.
	BroadcastOrderTaken(orderID, exceptPartnerEmail string)
	// BroadcastStatusUpdate отправляет смену статуса в комнату заказа
	// (клиент и назначенный партнёр).
	BroadcastStatusUpdate(orderID string, status OrderStatus, partnerEmail string)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	// Topic — exchange-топик брокера, в который уйдёт событие.
	Topic string
	// RoutingKey — тип события внутри топика (order.created и т.п.).
	RoutingKey string
	Payload    []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// EventKey собирает idempotency-key события из (orderID, routingKey).
func EventKey(orderID, routingKey string) string {
	return orderID + "|" + routingKey
}
