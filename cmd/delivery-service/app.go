package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/bharathbbg/delivery-confirmation-service/internal/config"
	"github.com/bharathbbg/delivery-confirmation-service/internal/events"
	"github.com/bharathbbg/delivery-confirmation-service/internal/handler"
	"github.com/bharathbbg/delivery-confirmation-service/internal/metrics"
	"github.com/bharathbbg/delivery-confirmation-service/internal/orders"
	"github.com/bharathbbg/delivery-confirmation-service/internal/repository"
	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

type app struct {
	service  *service.DeliveryService
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	checks   map[string]handler.ReadinessCheck
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires the store, cache, order client and event publisher selected by cfg.
func buildApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		checks:   map[string]handler.ReadinessCheck{},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	deps := service.Dependencies{
		Metrics: a.metrics,
		Logger:  log,
		Options: service.Options{
			CredentialTTL:       cfg.Delivery.CredentialTTL,
			SecretAttemptLimit:  cfg.Delivery.SecretAttemptLimit,
			SecretAttemptWindow: cfg.Delivery.SecretAttemptWindow,
		},
	}

	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory delivery store; records are lost on restart")
		deps.Store = repository.NewMemoryRepository()
	default:
		repo, err := repository.NewPostgresRepository(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.checks["postgres"] = repo.Ping
		deps.Store = repo
	}

	if cfg.Redis.Enabled {
		cache, err := repository.NewRedisCache(cfg.Redis, cfg.Delivery.SummaryCacheTTL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		a.checks["redis"] = cache.Ping
		deps.Cache = cache
		deps.Limiter = cache
	} else if cfg.Delivery.SecretAttemptLimit > 0 {
		log.Warn("SECRET_ATTEMPT_LIMIT ignored because redis is disabled")
	}

	orderClient, err := orders.NewClient(cfg.Services.OrderService.Target(), cfg.Services.OrderService.Timeout)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, orderClient.Close)
	deps.Orders = orderClient

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		deps.Publisher = publisher
	} else {
		deps.Publisher = events.NewLogPublisher(log)
	}

	a.service = service.NewDeliveryService(deps)
	log.Info("delivery service wired",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
		zap.Duration("credential_ttl", cfg.Delivery.CredentialTTL),
	)
	return a, nil
}
