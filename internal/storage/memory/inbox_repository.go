package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

const defaultInboxTTL = 24 * time.Hour

// inboxRecord хранит факт обработки события.
type inboxRecord struct {
	seenAt time.Time
	ttlAt  time.Time
}

// inboxRepositoryInMemory — in-memory реализация InboxRepository.
type inboxRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]inboxRecord
}

// NewInboxRepository создаёт in-memory хранилище ключей обработанных событий.
func NewInboxRepository() domain.InboxRepository {
	return &inboxRepositoryInMemory{
		items: make(map[string]inboxRecord),
	}
}

// MarkProcessed атомарно регистрирует ключ события. false означает редоставку.
func (r *inboxRepositoryInMemory) MarkProcessed(key string, ttlAt time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, domain.ErrOrderIDRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultInboxTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.items[key]; seen {
		return false, nil
	}
	r.items[key] = inboxRecord{seenAt: now, ttlAt: ttlAt}
	return true, nil
}

// Forget снимает регистрацию ключа, чтобы редоставка не была отсеяна
// как дубликат после неудачного применения события.
func (r *inboxRepositoryInMemory) Forget(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, key)
	return nil
}

// DeleteExpired удаляет записи с истёкшим TTL, не больше limit за вызов.
func (r *inboxRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.items {
		if record.ttlAt.After(before) {
			continue
		}

		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

var _ domain.InboxRepository = (*inboxRepositoryInMemory)(nil)
