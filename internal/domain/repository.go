package domain

import "time"

// OrderRepository описывает требования к каноническому хранилищу заказов
// (сторона order-service).
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// DispatchOrderRepository описывает зеркальное хранилище заказов на стороне
// dispatch-service. Зеркало пополняется событиями order.created и никогда не
// обращается к базе order-service напрямую.
type DispatchOrderRepository interface {
	// Register выполняет идемпотентный upsert по orderID: повторная
	// доставка order.created не создаёт дубликата и не считается ошибкой.
	// Возвращает true, если запись была создана впервые.
	Register(order Order) (bool, error)
	// Get возвращает зеркальную запись или ErrOrderNotFound.
	Get(id string) (Order, error)
	// ListPending возвращает заказы без партнёра со статусом pending.
	ListPending() ([]Order, error)
	// ListActiveByPartner возвращает незавершённые заказы партнёра.
	ListActiveByPartner(partnerEmail string) ([]Order, error)
	// Assign выполняет атомарное условное назначение: партнёр и статус assigned
	// выставляются только если заказ ещё никому не назначен и остаётся в
	// статусе pending. При проигранной гонке возвращает
	// ErrOrderAlreadyAssigned, для заказа вне pending (например отменённого
	// владельцем) — ErrIllegalTransition; ровно один из конкурентных
	// вызовов выигрывает.
	Assign(orderID, partnerEmail string) (Order, error)
	// UpdateStatus переписывает статус зеркальной записи.
	UpdateStatus(orderID string, status OrderStatus) (Order, error)
}

// PartnerRepository хранит партнёров по доставке (сторона dispatch-service).
type PartnerRepository interface {
	// Upsert создаёт или обновляет партнёра по email.
	Upsert(partner DeliveryPartner) error
	// Get возвращает партнёра или ErrPartnerNotFound.
	Get(email string) (DeliveryPartner, error)
	// ListAvailable возвращает партнёров, готовых принять заказ.
	ListAvailable() ([]DeliveryPartner, error)
	// SetAvailability переключает доступность партнёра.
	SetAvailability(email string, available bool) error
	// ClaimAvailable атомарно занимает доступного партнёра (available
	// переводится в false только если был true). Возвращает
	// ErrPartnerUnavailable, если партнёр уже занят, ErrPartnerNotFound —
	// если его нет. Из конкурентных вызовов выигрывает ровно один.
	ClaimAvailable(email string) error
	// SetLocation обновляет последнюю известную координату.
	SetLocation(email string, point GeoPoint) error
	// SetSocket привязывает или очищает (пустая строка) realtime-канал партнёра.
	SetSocket(email, socketID string) error
}

// CustomerRepository хранит зеркальные записи клиентов (события profile.updated).
type CustomerRepository interface {
	Upsert(customer Customer) error
	Get(userID string) (Customer, error)
}

// InboxRepository хранит ключи уже обработанных событий. Консьюмеры
// используют его для отбрасывания редоставок при at-least-once доставке.
type InboxRepository interface {
	// MarkProcessed атомарно регистрирует ключ события. Возвращает false,
	// если ключ уже был зарегистрирован (редоставка).
	MarkProcessed(key string, ttlAt time.Time) (bool, error)
	// Forget снимает регистрацию ключа. Консьюмер вызывает его, когда
	// применение события после MarkProcessed не удалось: иначе редоставка
	// будет отсеяна как дубликат и событие потеряется.
	Forget(key string) error
	// DeleteExpired удаляет записи с истёкшим TTL, не больше limit за вызов.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}
