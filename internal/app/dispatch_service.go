package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/api"
	healthcheck "github.com/vladislavdragonenkov/dds/internal/health"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dds/internal/metrics"
	"github.com/vladislavdragonenkov/dds/internal/notifier"
	"github.com/vladislavdragonenkov/dds/internal/service/dispatch"
	"github.com/vladislavdragonenkov/dds/internal/service/inbox"
	"github.com/vladislavdragonenkov/dds/internal/service/outbox"
	"github.com/vladislavdragonenkov/dds/internal/version"
)

// RunDispatchService собирает и запускает dispatch-service: REST,
// WebSocket-нотификатор, консьюмер order_events, outbox worker и
// наблюдаемость. Блокируется до ctx.Done() или фатальной ошибки.
func RunDispatchService(ctx context.Context, cfg Config) error {
	logger := log.WithFields(log.Fields{
		"component": "app",
		"service":   "dispatch-service",
	})
	logger.Info(version.String())

	storage, err := initDispatchStorage(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer closeStore(storage.Store, logger)

	coordinator := dispatch.NewCoordinator(
		storage.Orders,
		storage.Partners,
		storage.Inbox,
		storage.Outbox,
		log.WithField("component", "dispatch-service"),
	)

	var presence *notifier.Presence
	if cfg.RedisAddr != "" {
		presence = notifier.NewPresenceFromAddr(cfg.RedisAddr, cfg.NodeID)
		logger.WithField("redis", cfg.RedisAddr).Info("presence registry initialized")
	}

	hub := notifier.NewHub(coordinator, presence, log.WithField("component", "notifier-hub"))
	coordinator.SetBroadcaster(hub)
	go hub.Run(ctx)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(producer, logger)

	errCh := make(chan error, 1)

	if producer != nil {
		worker := outbox.NewWorker(
			storage.Outbox,
			kafka.NewOutboxPublisher(producer, cfg.DeliveryEventsTopic),
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		)
		go worker.Run(ctx)

		eventMetrics := metrics.NewEventMetrics("dispatch-service")
		handler := instrumentHandler(eventMetrics, coordinator.HandleMessage)
		topics := []string{cfg.OrderEventsTopic, cfg.AuthTopic}
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
	if presence != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", presence.Ping))
	}

	router := chi.NewRouter()
	router.Mount("/", api.NewDispatchHandler(coordinator, log.WithField("component", "dispatch-api")).Routes())
	if cfg.WSAddr == "" {
		router.Get("/ws", hub.ServeWS)
	} else {
		wsMux := http.NewServeMux()
		wsMux.HandleFunc("/ws", hub.ServeWS)
		startHTTPServer(ctx, cfg.WSAddr, "websocket", wsMux, logger, errCh)
	}

	startHTTPServer(ctx, cfg.HTTPAddr, "http", router, logger, errCh)
	startHTTPServer(ctx, cfg.MetricsAddr, "metrics", newMetricsMux(healthHandler), logger, errCh)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем dispatch-service")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
