package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// customerRepositoryInMemory хранит зеркальные записи клиентов.
type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository создаёт in-memory реализацию CustomerRepository.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{items: make(map[string]domain.Customer)}
}

// Upsert создаёт или обновляет зеркальную запись клиента.
func (r *customerRepositoryInMemory) Upsert(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer.UpdatedAt = time.Now().UTC()
	r.items[customer.UserID] = customer
	return nil
}

// Get возвращает зеркальную запись или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) Get(userID string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[userID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
