package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

type inboxRepository struct {
	db *sql.DB
}

// NewInboxRepository создаёт PostgreSQL-реализацию InboxRepository.
func NewInboxRepository(store *Store) domain.InboxRepository {
	return &inboxRepository{db: store.DB()}
}

// MarkProcessed регистрирует ключ события через INSERT ... ON CONFLICT DO
// NOTHING: первая вставка возвращает true, редоставка — false.
func (r *inboxRepository) MarkProcessed(key string, ttlAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO event_inbox (key, seen_at, ttl_at)
		VALUES ($1, NOW(), $2)
		ON CONFLICT (key) DO NOTHING
	`, key, ttlAt)
	if err != nil {
		return false, wrapInfra("mark event processed", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapInfra("rows affected", err)
	}

	return affected > 0, nil
}

// Forget удаляет ключ события. Отсутствие строки не ошибка: повторный
// Forget после чужого DeleteExpired ничего не ломает.
func (r *inboxRepository) Forget(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `DELETE FROM event_inbox WHERE key = $1`, key)
	if err != nil {
		return wrapInfra("forget inbox key", err)
	}
	return nil
}

func (r *inboxRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM event_inbox
		WHERE key IN (
			SELECT key FROM event_inbox
			WHERE ttl_at < $1
			ORDER BY ttl_at ASC
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, wrapInfra("delete expired inbox entries", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapInfra("rows affected", err)
	}

	return int(affected), nil
}

var _ domain.InboxRepository = (*inboxRepository)(nil)
