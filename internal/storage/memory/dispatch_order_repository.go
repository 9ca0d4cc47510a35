package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// dispatchOrderRepositoryInMemory — зеркальное хранилище заказов dispatch-service.
// Check-and-set в Assign защищён мьютексом и поэтому атомарен только в рамках
// одного процесса; многоэкземплярный деплой использует Postgres-реализацию,
// где условие выражено одним UPDATE.
type dispatchOrderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewDispatchOrderRepository возвращает in-memory зеркало для разработки и тестов.
func NewDispatchOrderRepository() domain.DispatchOrderRepository {
	return &dispatchOrderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Register выполняет идемпотентный upsert: повторная регистрация того же
// orderID пропускает вставку и не считается ошибкой.
func (r *dispatchOrderRepositoryInMemory) Register(order domain.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return false, nil
	}
	r.items[order.ID] = cloneOrder(order)
	return true, nil
}

// Get возвращает зеркальную запись или ErrOrderNotFound.
func (r *dispatchOrderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListPending возвращает свободные заказы в статусе pending.
func (r *dispatchOrderRepositoryInMemory) ListPending() ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.PartnerID == "" && order.Status == domain.OrderStatusPending {
			result = append(result, cloneOrder(order))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// ListActiveByPartner возвращает незавершённые заказы партнёра.
func (r *dispatchOrderRepositoryInMemory) ListActiveByPartner(partnerEmail string) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.PartnerID == partnerEmail && !order.Status.IsTerminal() {
			result = append(result, cloneOrder(order))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Assign выполняет атомарное условное назначение партнёра.
// Выигрывает ровно один из конкурентных вызовов; остальные получают
// ErrOrderAlreadyAssigned.
func (r *dispatchOrderRepositoryInMemory) Assign(orderID, partnerEmail string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.PartnerID != "" {
		return domain.Order{}, domain.ErrOrderAlreadyAssigned
	}
	if order.Status != domain.OrderStatusPending {
		// Свободный, но уже не pending заказ — например отменённый
		// владельцем — принять нельзя.
		return domain.Order{}, fmt.Errorf("%w: %s -> %s",
			domain.ErrIllegalTransition, order.Status, domain.OrderStatusAssigned)
	}

	order.PartnerID = partnerEmail
	order.Status = domain.OrderStatusAssigned
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order

	return cloneOrder(order), nil
}

// UpdateStatus переписывает статус зеркальной записи.
func (r *dispatchOrderRepositoryInMemory) UpdateStatus(orderID string, status domain.OrderStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order

	return cloneOrder(order), nil
}

var _ domain.DispatchOrderRepository = (*dispatchOrderRepositoryInMemory)(nil)
