package app

import (
	"context"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/api"
	healthcheck "github.com/vladislavdragonenkov/dds/internal/health"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dds/internal/metrics"
	"github.com/vladislavdragonenkov/dds/internal/service/inbox"
	"github.com/vladislavdragonenkov/dds/internal/service/orders"
	"github.com/vladislavdragonenkov/dds/internal/service/outbox"
	"github.com/vladislavdragonenkov/dds/internal/version"
)

// RunOrderService собирает и запускает order-service: REST, консьюмер
// событий доставки и оплаты, outbox worker и наблюдаемость. Блокируется
// до ctx.Done() или фатальной ошибки.
func RunOrderService(ctx context.Context, cfg Config) error {
	logger := log.WithFields(log.Fields{
		"component": "app",
		"service":   "order-service",
	})
	logger.Info(version.String())

	storage, err := initOrderStorage(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer closeStore(storage.Store, logger)

	svc := orders.NewService(
		storage.Orders,
		storage.Timeline,
		storage.Outbox,
		storage.Inbox,
		storage.Customers,
		log.WithField("component", "order-service"),
	)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(producer, logger)

	errCh := make(chan error, 1)

	if producer != nil {
		worker := outbox.NewWorker(
			storage.Outbox,
			kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic),
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		)
		go worker.Run(ctx)

		eventMetrics := metrics.NewEventMetrics("order-service")
		handler := instrumentHandler(eventMetrics, svc.HandleMessage)
		topics := []string{cfg.DeliveryEventsTopic, cfg.PaymentTopic, cfg.RegistrationTopic}
		consumer, err := startConsumer(ctx, cfg, topics, handler, producer, logger, errCh)
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Stop() }()
	}

	cleanup := inbox.NewCleanupWorker(storage.Inbox,
		inbox.WithLogger(log.WithField("component", "inbox-cleanup-worker")))
	go cleanup.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if storage.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", storage.Store.Ping))
	}

	router := chi.NewRouter()
	router.Mount("/", api.NewOrderHandler(svc, log.WithField("component", "order-api")).Routes())

	startHTTPServer(ctx, cfg.HTTPAddr, "http", router, logger, errCh)
	startHTTPServer(ctx, cfg.MetricsAddr, "metrics", newMetricsMux(healthHandler), logger, errCh)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем order-service")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
