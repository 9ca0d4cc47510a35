package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/storage/memory"
	"github.com/vladislavdragonenkov/dds/internal/storage/postgres"
)

// orderStorage — репозитории order-service. Store равен nil в дев-режиме
// на in-memory хранилище.
type orderStorage struct {
	Orders    domain.OrderRepository
	Timeline  domain.TimelineRepository
	Outbox    domain.OutboxRepository
	Inbox     domain.InboxRepository
	Customers domain.CustomerRepository
	Store     *postgres.Store
}

// dispatchStorage — репозитории dispatch-service.
type dispatchStorage struct {
	Orders   domain.DispatchOrderRepository
	Partners domain.PartnerRepository
	Inbox    domain.InboxRepository
	Outbox   domain.OutboxRepository
	Store    *postgres.Store
}

// initOrderStorage подключается к Postgres по DSN и прогоняет миграции.
// Пустой DSN включает in-memory режим для локальной разработки.
func initOrderStorage(ctx context.Context, dsn string, logger *log.Entry) (orderStorage, error) {
	if dsn == "" {
		logger.Warn("POSTGRES_DSN не задан, используется in-memory хранилище")
		return orderStorage{
			Orders:    memory.NewOrderRepository(),
			Timeline:  memory.NewTimelineRepository(),
			Outbox:    memory.NewOutboxRepository(),
			Inbox:     memory.NewInboxRepository(),
			Customers: memory.NewCustomerRepository(),
		}, nil
	}

	store, err := openStore(ctx, dsn, logger)
	if err != nil {
		return orderStorage{}, err
	}
	return orderStorage{
		Orders:    postgres.NewOrderRepository(store),
		Timeline:  postgres.NewTimelineRepository(store),
		Outbox:    postgres.NewOutboxRepository(store),
		Inbox:     postgres.NewInboxRepository(store),
		Customers: postgres.NewCustomerRepository(store),
		Store:     store,
	}, nil
}

// initDispatchStorage — то же для dispatch-service.
func initDispatchStorage(ctx context.Context, dsn string, logger *log.Entry) (dispatchStorage, error) {
	if dsn == "" {
		logger.Warn("POSTGRES_DSN не задан, используется in-memory хранилище")
		return dispatchStorage{
			Orders:   memory.NewDispatchOrderRepository(),
			Partners: memory.NewPartnerRepository(),
			Inbox:    memory.NewInboxRepository(),
			Outbox:   memory.NewOutboxRepository(),
		}, nil
	}

	store, err := openStore(ctx, dsn, logger)
	if err != nil {
		return dispatchStorage{}, err
	}
	return dispatchStorage{
		Orders:   postgres.NewDispatchOrderRepository(store),
		Partners: postgres.NewPartnerRepository(store),
		Inbox:    postgres.NewInboxRepository(store),
		Outbox:   postgres.NewOutboxRepository(store),
		Store:    store,
	}, nil
}

func openStore(ctx context.Context, dsn string, logger *log.Entry) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("postgres подключен, миграции применены")
	return store, nil
}

func closeStore(store *postgres.Store, logger *log.Entry) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}
