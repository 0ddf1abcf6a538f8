package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	shippingapi "github.com/itadmit/quickshopcrm-sub010/internal/api/shipping_api"
	"github.com/itadmit/quickshopcrm-sub010/internal/broker/kafka"
	"github.com/itadmit/quickshopcrm-sub010/internal/broker/messages"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/shipping"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type shippingAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	// ready reports whether the process dependencies answer.
	ready    func(ctx context.Context) error
	stats    func() any
	gatherer prometheus.Gatherer

	// sendRetries and sendBackoff control redelivery of retryable send failures from Kafka.
	sendRetries int
	sendBackoff time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type shipmentSender interface {
	SendOrder(ctx context.Context, req shipping.SendRequest) (*shipping.SendResult, error)
}

func runShippingAPI(ctx context.Context, opts shippingAPIOpts, api *shippingapi.ShippingAPI, sender shipmentSender, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, opts, api)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumerErr <- consumer.Consume(ctx, shipmentRequestHandler(sender, opts.sendRetries, opts.sendBackoff))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-consumerErr:
		if err == nil {
			return ctx.Err()
		}
		return fmt.Errorf("shipment request consumer: %w", err)
	}
}

func newRouter(opts shippingAPIOpts, api *shippingapi.ShippingAPI) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.stats == nil {
			_, _ = w.Write([]byte(`{"error":"stats not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.stats())
	})
	if opts.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	api.Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, opts shippingAPIOpts, api *shippingapi.ShippingAPI) error {
	srv := &http.Server{
		Handler:           newRouter(opts, api),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

// shipmentRequestHandler hands queued send requests to the manager. Refusals
// and malformed messages are logged and committed; an internal failure stops
// the consumer so the message is redelivered.
func shipmentRequestHandler(sender shipmentSender, retries int, backoff time.Duration) kafka.Handler {
	validate := validator.New()
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	return func(ctx context.Context, key, value []byte) error {
		var msg messages.ShipmentRequested
		if err := json.Unmarshal(value, &msg); err != nil {
			slog.Warn("drop malformed shipment request", "key", string(key), "error", err.Error())
			return nil
		}
		if err := validate.Struct(msg); err != nil {
			slog.Warn("drop invalid shipment request", "key", string(key), "error", err.Error())
			return nil
		}

		ref := models.ByID(msg.OrderID)
		if msg.OrderID == "" {
			ref = models.ByNumber(msg.OrderNumber)
		}
		req := shipping.SendRequest{
			CompanyID:   msg.CompanyID,
			Ref:         ref,
			Provider:    msg.Provider,
			ForceResend: msg.ForceResend,
			UserID:      msg.UserID,
		}

		for attempt := 1; ; attempt++ {
			res, err := sender.SendOrder(ctx, req)
			if err == nil {
				slog.Info("queued shipment sent", "company_id", msg.CompanyID, "order_id", res.OrderID, "shipment_id", res.ShipmentID)
				return nil
			}

			se, ok := shipping.AsError(err)
			if !ok || se.Code == shipping.CodeInternal {
				return err
			}
			if !se.Retryable || attempt >= retries {
				slog.Warn("queued shipment refused",
					"company_id", msg.CompanyID, "order", ref.String(), "code", se.Code,
					"retryable", se.Retryable, "reconcile_required", se.ReconcileRequired, "attempts", attempt)
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}
}
