package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/config"
	shippingapi "github.com/itadmit/quickshopcrm-sub010/internal/api/shipping_api"
	"github.com/itadmit/quickshopcrm-sub010/internal/broker/kafka"
	"github.com/itadmit/quickshopcrm-sub010/internal/cache/rediscache"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier/cargo"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier/fake"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier/focus"
	"github.com/itadmit/quickshopcrm-sub010/internal/metrics"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/credentials"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/shipping"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/trackingsync"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type shippingAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shippingAPIOpts
	api      *shippingapi.ShippingAPI
	manager  *shipping.Manager
	consumer *kafka.Consumer
	closers  []func() error
}

func mustBootstrapShippingAPI() *shippingAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	httpAddr := cfg.Shipping.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Shipping.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "shipping-api"
	}
	eventsTopic := cfg.Kafka.ShippingEventsTopicName
	if eventsTopic == "" {
		eventsTopic = "order.shipping.events"
	}
	requestsTopic := cfg.Kafka.ShipmentRequestsTopicName
	if requestsTopic == "" {
		requestsTopic = "shipping.shipment-requested"
	}
	carrierTimeout := time.Duration(cfg.Shipping.CarrierTimeoutSeconds) * time.Second
	if carrierTimeout <= 0 {
		carrierTimeout = 15 * time.Second
	}
	lockTTL := time.Duration(cfg.Shipping.SendLockTTLSeconds) * time.Second
	if lockTTL <= carrierTimeout {
		if lockTTL > 0 {
			slog.Warn("send lock ttl is not above the carrier timeout, raising it", "ttl", lockTTL, "carrier_timeout", carrierTimeout)
		}
		lockTTL = 2*carrierTimeout + 10*time.Second
	}
	defaultProvider := cfg.Shipping.DefaultProvider
	if defaultProvider == "" {
		defaultProvider = string(carrier.ProviderFocus)
	}
	if _, err := carrier.ParseProvider(defaultProvider); err != nil {
		panic(fmt.Sprintf("shipping.default_provider: %v", err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	st := mustOpenPostgresWithRetry(cfg.Database.PostgresURL(), 60*time.Second)

	rc := rediscache.NewClient(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	locker := rediscache.NewLocker(rc)
	limiter := rediscache.NewRateLimiter(rc)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers, eventsTopic)
	consumer := kafka.NewConsumer(brokers, requestsTopic, consumerGroup)

	registry := mustBuildRegistry(carrierTimeout, m)

	syncer := trackingsync.New(st, producer, limiter).
		WithRateLimit(int64(cfg.Shipping.SyncRateLimitPerMinute))
	batcher := trackingsync.NewBatcher(cfg.Shipping.SyncConcurrency)

	manager := shipping.New(st, credentials.New(st), registry, locker, producer, syncer, batcher, m, shipping.Config{
		DefaultProvider: defaultProvider,
		SendLockTTL:     lockTTL,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shippingAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shippingAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         requestsTopic,
			consumerGroup: consumerGroup,
			ready: func(ctx context.Context) error {
				if err := st.Ping(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				if err := rc.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				return nil
			},
			stats:    func() any { return manager.BatchStats() },
			gatherer: promReg,
		},
		api:      shippingapi.New(manager),
		manager:  manager,
		consumer: consumer,
		closers: []func() error{
			consumer.Close,
			producer.Close,
			rc.Close,
			func() error { st.Close(); return nil },
		},
	}
}

// mustBuildRegistry wires one adapter per provider, each with its own HTTP transport.
func mustBuildRegistry(timeout time.Duration, m *metrics.Metrics) *carrier.Registry {
	reg, err := carrier.NewRegistry(
		focus.New(carrier.NewHTTPClient(carrier.ProviderFocus, timeout, m)),
		cargo.New(carrier.NewHTTPClient(carrier.ProviderCargo, timeout, m)),
		fake.New(),
	)
	if err != nil {
		panic(fmt.Sprintf("carrier registry: %v", err))
	}
	return reg.Wrap(func(a carrier.Adapter) carrier.Adapter { return carrier.Instrument(a, m) })
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipping.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := pgshipping.New(ctx, connString)
		cancel()
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shippingAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("close", "error", err.Error())
		}
	}
}

func (a *shippingAPIApp) Run() error {
	return runShippingAPI(a.ctx, a.opts, a.api, a.manager, a.consumer)
}
