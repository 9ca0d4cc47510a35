package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// partnerRepositoryInMemory — in-memory хранилище партнёров по доставке.
type partnerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.DeliveryPartner
}

// NewPartnerRepository создаёт in-memory реализацию PartnerRepository.
func NewPartnerRepository() domain.PartnerRepository {
	return &partnerRepositoryInMemory{
		items: make(map[string]domain.DeliveryPartner),
	}
}

// Upsert создаёт или обновляет партнёра по email.
func (r *partnerRepositoryInMemory) Upsert(partner domain.DeliveryPartner) error {
	partner.Email = strings.TrimSpace(partner.Email)
	if partner.Email == "" {
		return domain.ErrPartnerEmailRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.items[partner.Email]; ok {
		// Регистрационные события не затирают оперативное состояние.
		partner.Available = existing.Available
		partner.SocketID = existing.SocketID
		partner.Location = existing.Location
		partner.CreatedAt = existing.CreatedAt
	} else {
		partner.Available = true
		partner.CreatedAt = now
	}
	partner.UpdatedAt = now
	r.items[partner.Email] = clonePartner(partner)
	return nil
}

// Get возвращает партнёра или ErrPartnerNotFound.
func (r *partnerRepositoryInMemory) Get(email string) (domain.DeliveryPartner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	partner, ok := r.items[email]
	if !ok {
		return domain.DeliveryPartner{}, domain.ErrPartnerNotFound
	}
	return clonePartner(partner), nil
}

// ListAvailable возвращает партнёров, готовых принять заказ.
func (r *partnerRepositoryInMemory) ListAvailable() ([]domain.DeliveryPartner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.DeliveryPartner, 0)
	for _, partner := range r.items {
		if partner.Available {
			result = append(result, clonePartner(partner))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Email < result[j].Email
	})

	return result, nil
}

// SetAvailability переключает доступность партнёра.
func (r *partnerRepositoryInMemory) SetAvailability(email string, available bool) error {
	return r.update(email, func(p *domain.DeliveryPartner) {
		p.Available = available
	})
}

// ClaimAvailable занимает партнёра по принципу check-and-set под общим
// мьютексом: из конкурентных вызовов выигрывает ровно один.
func (r *partnerRepositoryInMemory) ClaimAvailable(email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner, ok := r.items[email]
	if !ok {
		return domain.ErrPartnerNotFound
	}
	if !partner.Available {
		return domain.ErrPartnerUnavailable
	}

	partner.Available = false
	partner.UpdatedAt = time.Now().UTC()
	r.items[email] = partner
	return nil
}

// SetLocation обновляет последнюю известную координату.
func (r *partnerRepositoryInMemory) SetLocation(email string, point domain.GeoPoint) error {
	return r.update(email, func(p *domain.DeliveryPartner) {
		loc := point
		p.Location = &loc
	})
}

// SetSocket привязывает или очищает realtime-канал партнёра.
func (r *partnerRepositoryInMemory) SetSocket(email, socketID string) error {
	return r.update(email, func(p *domain.DeliveryPartner) {
		p.SocketID = socketID
	})
}

func (r *partnerRepositoryInMemory) update(email string, mut func(*domain.DeliveryPartner)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner, ok := r.items[email]
	if !ok {
		return domain.ErrPartnerNotFound
	}

	mut(&partner)
	partner.UpdatedAt = time.Now().UTC()
	r.items[email] = partner
	return nil
}

func clonePartner(src domain.DeliveryPartner) domain.DeliveryPartner {
	dst := src
	if src.Location != nil {
		loc := *src.Location
		dst.Location = &loc
	}
	return dst
}

var _ domain.PartnerRepository = (*partnerRepositoryInMemory)(nil)
