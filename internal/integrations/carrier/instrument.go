package carrier

import (
	"context"
	"log/slog"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/metrics"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

type instrumented struct {
	next Adapter
	m    *metrics.Metrics
}

// Instrument records latency and outcome of every adapter call.
func Instrument(next Adapter, m *metrics.Metrics) Adapter {
	return &instrumented{next: next, m: m}
}

func (i *instrumented) Provider() ProviderID { return i.next.Provider() }

func (i *instrumented) observe(op string, start time.Time, err error) {
	outcome := Outcome(err)
	i.m.ObserveCarrierCall(string(i.next.Provider()), op, outcome, time.Since(start))
	if err != nil {
		slog.Warn("carrier call failed", "provider", i.next.Provider(), "op", op, "outcome", outcome, "err", err)
	}
}

func (i *instrumented) CreateShipment(ctx context.Context, order *models.Order, creds Credentials) (s *Shipment, err error) {
	defer func(start time.Time) { i.observe("create", start, err) }(time.Now())
	return i.next.CreateShipment(ctx, order, creds)
}

func (i *instrumented) CancelShipment(ctx context.Context, shipmentID string, creds Credentials, reason string) (err error) {
	defer func(start time.Time) { i.observe("cancel", start, err) }(time.Now())
	return i.next.CancelShipment(ctx, shipmentID, creds, reason)
}

func (i *instrumented) GetTrackingStatus(ctx context.Context, shipmentID string, creds Credentials) (ts *TrackingStatus, err error) {
	defer func(start time.Time) { i.observe("tracking", start, err) }(time.Now())
	return i.next.GetTrackingStatus(ctx, shipmentID, creds)
}

func (i *instrumented) GetLabel(ctx context.Context, shipmentID string, creds Credentials) (l *Label, err error) {
	defer func(start time.Time) { i.observe("label", start, err) }(time.Now())
	return i.next.GetLabel(ctx, shipmentID, creds)
}
