package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "dds:presence:"
	defaultPresTTL    = 90 * time.Second
)

// Presence — реестр подключений в Redis. При нескольких инстансах
// dispatch-service позволяет узнать, к какому узлу подключён партнёр или
// клиент. Записи живут с TTL: упавший узел не оставляет вечных «призраков».
type Presence struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
}

// PresenceEntry описывает действующее подключение.
type PresenceEntry struct {
	NodeID   string
	SocketID string
}

// NewPresence создаёт реестр поверх существующего Redis-клиента.
func NewPresence(client *redis.Client, nodeID string) *Presence {
	return &Presence{
		client: client,
		nodeID: nodeID,
		ttl:    defaultPresTTL,
	}
}

// NewPresenceFromAddr подключается к Redis по адресу.
func NewPresenceFromAddr(addr, nodeID string) *Presence {
	return NewPresence(redis.NewClient(&redis.Options{Addr: addr}), nodeID)
}

func presenceKey(role, identity string) string {
	return presenceKeyPrefix + role + ":" + identity
}

// Set регистрирует подключение и обновляет TTL записи.
func (p *Presence) Set(ctx context.Context, role, identity, socketID string) error {
	value := p.nodeID + "|" + socketID
	if err := p.client.Set(ctx, presenceKey(role, identity), value, p.ttl).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", identity, err)
	}
	return nil
}

// Refresh продлевает TTL действующей записи. Если запись уже истекла,
// возвращает false.
func (p *Presence) Refresh(ctx context.Context, role, identity string) (bool, error) {
	ok, err := p.client.Expire(ctx, presenceKey(role, identity), p.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("refresh presence for %s: %w", identity, err)
	}
	return ok, nil
}

// Get возвращает запись о подключении или ok=false, если клиент offline.
func (p *Presence) Get(ctx context.Context, role, identity string) (PresenceEntry, bool, error) {
	value, err := p.client.Get(ctx, presenceKey(role, identity)).Result()
	if errors.Is(err, redis.Nil) {
		return PresenceEntry{}, false, nil
	}
	if err != nil {
		return PresenceEntry{}, false, fmt.Errorf("get presence for %s: %w", identity, err)
	}

	node, socket, _ := strings.Cut(value, "|")
	return PresenceEntry{NodeID: node, SocketID: socket}, true, nil
}

// Ping проверяет доступность Redis. Используется health-пробами.
func (p *Presence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Clear удаляет запись о подключении.
func (p *Presence) Clear(ctx context.Context, role, identity string) error {
	if err := p.client.Del(ctx, presenceKey(role, identity)).Err(); err != nil {
		return fmt.Errorf("clear presence for %s: %w", identity, err)
	}
	return nil
}
