package trackingsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/cache/rediscache"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
)

type Store interface {
	ApplyTrackingSnapshot(ctx context.Context, upd pgshipping.TrackingUpdate) (*pgshipping.TrackingUpdated, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev *models.Event) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Result is the order's shipping state after one pull from the carrier.
type Result struct {
	Order   *models.Order
	Applied models.TrackingApplied
	// StatusRaw is the carrier's own wording of the status.
	StatusRaw        string
	CarrierUpdatedAt *time.Time
	NextCheckAt      time.Time
}

// Syncer pulls carrier tracking status into the order's shipping fields.
type Syncer struct {
	store     Store
	publisher Publisher
	rl        RateLimiter
	planner   *Planner

	rateLimitPerMinute int64
	rateLimitWait      time.Duration
	now                func() time.Time
}

func New(store Store, publisher Publisher, rl RateLimiter) *Syncer {
	return &Syncer{
		store:              store,
		publisher:          publisher,
		rl:                 rl,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		rateLimitPerMinute: 120,
		rateLimitWait:      500 * time.Millisecond,
		now:                time.Now,
	}
}

func (s *Syncer) WithRateLimit(perMinute int64) *Syncer {
	if perMinute > 0 {
		s.rateLimitPerMinute = perMinute
	}
	return s
}

func (s *Syncer) WithPlanner(cfg PlannerConfig) *Syncer {
	s.planner = NewPlanner(cfg, nil)
	return s
}

// SyncOrder asks the carrier for the current status of the order's shipment and stores it.
// Carrier failures are returned as they are; the order is left untouched.
func (s *Syncer) SyncOrder(ctx context.Context, order *models.Order, creds carrier.Credentials, adapter carrier.Adapter, userID string) (*Result, error) {
	if !order.IsSent() {
		return nil, models.ErrShipmentNotSent
	}
	shipmentID := order.ShippingData.ShipmentID

	s.throttle(ctx, adapter.Provider())

	ts, err := adapter.GetTrackingStatus(ctx, shipmentID, creds)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, carrier.Rejected("MALFORMED_RESPONSE", "carrier returned no tracking status", nil).WithProvider(adapter.Provider())
	}

	checkedAt := s.now().UTC().Truncate(time.Microsecond)
	upd, err := s.store.ApplyTrackingSnapshot(ctx, pgshipping.TrackingUpdate{
		CompanyID:  order.CompanyID,
		OrderID:    order.ID,
		ShipmentID: shipmentID,
		Snapshot: models.TrackingSnapshot{
			Status:           ts.Status,
			StatusRaw:        ts.StatusRaw,
			TrackingNumber:   ts.TrackingNumber,
			CarrierUpdatedAt: ts.LastUpdate,
			CheckedAt:        checkedAt,
		},
		UserID: userID,
	})
	if err != nil {
		return nil, err
	}

	if upd.Applied.Suppressed {
		slog.Info("carrier status ignored for cancelled shipment",
			"order_id", order.ID, "provider", adapter.Provider(), "carrier_status", ts.Status)
	}
	if upd.Event != nil && s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, upd.Event); err != nil {
			slog.Warn("publish shipping event", "order_id", order.ID, "type", upd.Event.Type, "error", err.Error())
		}
	}

	return &Result{
		Order:            upd.Order,
		Applied:          upd.Applied,
		StatusRaw:        ts.StatusRaw,
		CarrierUpdatedAt: ts.LastUpdate,
		NextCheckAt:      checkedAt.Add(s.planner.NextCheckDelay(upd.Applied.Status)),
	}, nil
}

// throttle applies the shared per-carrier budget. Over budget it only slows
// the call down; redis errors are logged and ignored.
func (s *Syncer) throttle(ctx context.Context, provider carrier.ProviderID) {
	if s.rl == nil || s.rateLimitPerMinute <= 0 {
		return
	}
	allowed, n, err := s.rl.Allow(ctx, rediscache.CarrierKey(string(provider)), s.rateLimitPerMinute, time.Minute)
	if err != nil {
		slog.Warn("carrier rate limiter unavailable", "provider", provider, "error", err.Error())
		return
	}
	if allowed {
		return
	}
	slog.Warn("rate limit exceeded", "provider", provider, "count", n)
	t := time.NewTimer(s.rateLimitWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
