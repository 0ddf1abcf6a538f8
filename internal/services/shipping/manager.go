package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/metrics"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/trackingsync"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
	"github.com/pkg/errors"
)

type OrderStore interface {
	GetOrder(ctx context.Context, companyID string, ref models.OrderRef) (*models.Order, error)
	MarkShipmentCreated(ctx context.Context, upd pgshipping.ShipmentCreated) (*models.Order, error)
	MarkShipmentCancelled(ctx context.Context, upd pgshipping.ShipmentCancelled) (*models.Order, error)
	AppendEvent(ctx context.Context, ev *models.Event) error
	ListOrderEvents(ctx context.Context, companyID, orderID string, limit, offset int) ([]*models.Event, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, companyID string, provider carrier.ProviderID) (carrier.Credentials, error)
}

type AdapterRegistry interface {
	Get(provider string) (carrier.Adapter, error)
}

// Locker guards the send path of one order across all API instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev *models.Event) error
}

type StateSync interface {
	SyncOrder(ctx context.Context, order *models.Order, creds carrier.Credentials, adapter carrier.Adapter, userID string) (*trackingsync.Result, error)
}

type Config struct {
	// DefaultProvider is used when neither the request nor the order names one.
	DefaultProvider string
	// SendLockTTL must exceed the carrier timeout so the lease outlives the create call.
	SendLockTTL time.Duration
}

// Manager drives an order's shipment through send, track, cancel and label.
type Manager struct {
	store     OrderStore
	resolver  CredentialResolver
	registry  AdapterRegistry
	locker    Locker
	publisher Publisher
	sync      StateSync
	batcher   *trackingsync.Batcher
	metrics   *metrics.Metrics

	cfg Config
	now func() time.Time
}

func New(store OrderStore, resolver CredentialResolver, registry AdapterRegistry, locker Locker, publisher Publisher, sync StateSync, batcher *trackingsync.Batcher, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = string(carrier.ProviderFocus)
	}
	if cfg.SendLockTTL <= 0 {
		cfg.SendLockTTL = time.Minute
	}
	if batcher == nil {
		batcher = trackingsync.NewBatcher(0)
	}
	return &Manager{
		store:     store,
		resolver:  resolver,
		registry:  registry,
		locker:    locker,
		publisher: publisher,
		sync:      sync,
		batcher:   batcher,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

type SendRequest struct {
	CompanyID   string
	Ref         models.OrderRef
	Provider    string
	ForceResend bool
	UserID      string
}

type SendResult struct {
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	Provider       string    `json:"provider"`
	ShipmentID     string    `json:"shipmentId"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	LabelURL       string    `json:"labelUrl,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	Resent         bool      `json:"resent"`
}

type CancelRequest struct {
	CompanyID string
	Ref       models.OrderRef
	Reason    string
	UserID    string
}

type CancelResult struct {
	OrderID     string    `json:"orderId"`
	ShipmentID  string    `json:"shipmentId"`
	Status      string    `json:"status"`
	CancelledAt time.Time `json:"cancelledAt"`
}

type TrackingResult struct {
	OrderID          string     `json:"orderId"`
	Provider         string     `json:"provider"`
	Status           string     `json:"status"`
	StatusRaw        string     `json:"statusRaw,omitempty"`
	LastUpdate       time.Time  `json:"lastUpdate"`
	TrackingNumber   string     `json:"trackingNumber,omitempty"`
	CarrierUpdatedAt *time.Time `json:"carrierUpdatedAt,omitempty"`
	Changed          bool       `json:"changed"`
	NextCheckAt      time.Time  `json:"nextCheckAt"`
}

type LabelResult struct {
	PDF         []byte
	ContentType string
	Filename    string
}

// SendOrder creates a carrier shipment for the order. An order that was already
// sent is refused with ALREADY_SENT unless ForceResend is set.
func (m *Manager) SendOrder(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	defer m.finish("send", &err)

	if err := validate(req.CompanyID, req.Ref); err != nil {
		return nil, err
	}

	order, err := m.store.GetOrder(ctx, req.CompanyID, req.Ref)
	if err != nil {
		return nil, err
	}
	if order.IsSent() && !req.ForceResend {
		return nil, alreadySent(order)
	}

	release, ok, err := m.locker.Acquire(ctx, sendLockKey(order), m.cfg.SendLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Code: CodeSendInProgress, Message: "another send for this order is in progress", Retryable: true}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("release send lock", "order_id", order.ID, "error", err.Error())
		}
	}()

	// The first read happened before the lock; only this one is authoritative.
	order, err = m.store.GetOrder(ctx, req.CompanyID, models.ByID(order.ID))
	if err != nil {
		return nil, err
	}
	if order.IsSent() && !req.ForceResend {
		return nil, alreadySent(order)
	}

	provider := m.pickProvider(req.Provider, order)
	adapter, creds, err := m.resolve(ctx, order.CompanyID, provider)
	if err != nil {
		return nil, err
	}

	expectedSentAt := order.ShippingSentAt
	shipment, err := adapter.CreateShipment(ctx, order, creds)
	if err != nil {
		if ce, ok := carrier.AsError(err); ok && ce.Ambiguous {
			m.reconcileRequired(ctx, order, adapter.Provider(), "", ce.Code, req.UserID)
		}
		return nil, err
	}
	if shipment == nil || shipment.ShipmentID == "" {
		m.reconcileRequired(ctx, order, adapter.Provider(), "", "MALFORMED_RESPONSE", req.UserID)
		return nil, carrier.Ambiguous("MALFORMED_RESPONSE", "carrier returned no shipment id", nil).WithProvider(adapter.Provider())
	}

	rec := models.ShipmentRecord{
		Provider:       string(adapter.Provider()),
		ShipmentID:     shipment.ShipmentID,
		TrackingNumber: shipment.TrackingNumber,
		LabelURL:       shipment.LabelURL,
		Extras:         shipment.Extras,
		SentAt:         m.now().UTC().Truncate(time.Microsecond),
	}
	ev, err := models.NewOrderEvent(models.EventShippingSent, order, map[string]any{
		"orderId":        order.ID,
		"orderNumber":    order.OrderNumber,
		"provider":       rec.Provider,
		"shipmentId":     rec.ShipmentID,
		"trackingNumber": rec.TrackingNumber,
		"forceResend":    req.ForceResend,
	}, req.UserID)
	if err != nil {
		return nil, err
	}

	saved, err := m.store.MarkShipmentCreated(ctx, pgshipping.ShipmentCreated{
		CompanyID:      order.CompanyID,
		OrderID:        order.ID,
		Record:         rec,
		ExpectedSentAt: expectedSentAt,
		Event:          ev,
	})
	if err != nil {
		// The carrier holds a shipment the order does not reference.
		slog.Error("shipment created but not stored",
			"order_id", order.ID, "provider", rec.Provider, "shipment_id", rec.ShipmentID, "error", err.Error())
		m.reconcileRequired(ctx, order, adapter.Provider(), rec.ShipmentID, "PERSIST_FAILED", req.UserID)
		se := toError("send", err)
		se.ReconcileRequired = true
		return nil, se
	}

	m.publish(ctx, ev)
	slog.Info("order sent to carrier",
		"order_id", saved.ID, "provider", rec.Provider, "shipment_id", rec.ShipmentID, "resent", expectedSentAt != nil)

	return &SendResult{
		OrderID:        saved.ID,
		OrderNumber:    saved.OrderNumber,
		Provider:       rec.Provider,
		ShipmentID:     rec.ShipmentID,
		TrackingNumber: rec.TrackingNumber,
		LabelURL:       rec.LabelURL,
		SentAt:         rec.SentAt,
		Resent:         expectedSentAt != nil,
	}, nil
}

// CancelShipment cancels the order's current shipment with the carrier that created it.
func (m *Manager) CancelShipment(ctx context.Context, req CancelRequest) (res *CancelResult, err error) {
	defer m.finish("cancel", &err)

	if err := validate(req.CompanyID, req.Ref); err != nil {
		return nil, err
	}

	order, err := m.sentOrder(ctx, req.CompanyID, req.Ref)
	if err != nil {
		return nil, err
	}
	if !models.CanCancel(models.StateOf(order)) {
		return nil, newError(CodeAlreadyCancelled, "shipment is already cancelled")
	}

	adapter, creds, err := m.resolve(ctx, order.CompanyID, order.Provider())
	if err != nil {
		return nil, err
	}

	shipmentID := order.ShippingData.ShipmentID
	reason := strings.TrimSpace(req.Reason)
	if err := adapter.CancelShipment(ctx, shipmentID, creds, reason); err != nil {
		if !errors.Is(err, carrier.ErrAlreadyCancelled) {
			return nil, err
		}
		// An earlier attempt reached the carrier but was never recorded here.
		slog.Info("carrier reports shipment already cancelled, recording cancellation",
			"order_id", order.ID, "provider", order.Provider(), "shipment_id", shipmentID)
	}

	cancelledAt := m.now().UTC().Truncate(time.Microsecond)
	ev, err := models.NewOrderEvent(models.EventShippingCancelled, order, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"provider":    order.Provider(),
		"shipmentId":  shipmentID,
		"reason":      reason,
	}, req.UserID)
	if err != nil {
		return nil, err
	}

	saved, err := m.store.MarkShipmentCancelled(ctx, pgshipping.ShipmentCancelled{
		CompanyID:    order.CompanyID,
		OrderID:      order.ID,
		ShipmentID:   shipmentID,
		Cancellation: models.ShipmentCancellation{CancelledAt: cancelledAt, Reason: reason},
		Event:        ev,
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, ev)
	slog.Info("shipment cancelled", "order_id", order.ID, "provider", order.Provider(), "shipment_id", shipmentID)

	return &CancelResult{
		OrderID:     saved.ID,
		ShipmentID:  shipmentID,
		Status:      models.ShippingStatusCancelled,
		CancelledAt: cancelledAt,
	}, nil
}

// GetTrackingStatus pulls the carrier's current status and stores it on the order.
func (m *Manager) GetTrackingStatus(ctx context.Context, companyID string, ref models.OrderRef) (res *TrackingResult, err error) {
	defer m.finish("tracking", &err)
	return m.trackingStatus(ctx, companyID, ref, "")
}

func (m *Manager) trackingStatus(ctx context.Context, companyID string, ref models.OrderRef, userID string) (*TrackingResult, error) {
	if err := validate(companyID, ref); err != nil {
		return nil, err
	}

	order, err := m.sentOrder(ctx, companyID, ref)
	if err != nil {
		return nil, err
	}
	adapter, creds, err := m.resolve(ctx, order.CompanyID, order.Provider())
	if err != nil {
		return nil, err
	}

	r, err := m.sync.SyncOrder(ctx, order, creds, adapter, userID)
	if err != nil {
		return nil, err
	}

	return &TrackingResult{
		OrderID:          r.Order.ID,
		Provider:         r.Order.Provider(),
		Status:           r.Applied.Status,
		StatusRaw:        r.StatusRaw,
		LastUpdate:       r.Applied.UpdatedAt,
		TrackingNumber:   r.Applied.TrackingNumber,
		CarrierUpdatedAt: r.CarrierUpdatedAt,
		Changed:          r.Applied.Changed(),
		NextCheckAt:      r.NextCheckAt,
	}, nil
}

// GetLabel fetches the shipping label from the carrier. Labels are never stored.
func (m *Manager) GetLabel(ctx context.Context, companyID string, ref models.OrderRef) (res *LabelResult, err error) {
	defer m.finish("label", &err)

	if err := validate(companyID, ref); err != nil {
		return nil, err
	}

	order, err := m.sentOrder(ctx, companyID, ref)
	if err != nil {
		return nil, err
	}
	adapter, creds, err := m.resolve(ctx, order.CompanyID, order.Provider())
	if err != nil {
		return nil, err
	}

	label, err := adapter.GetLabel(ctx, order.ShippingData.ShipmentID, creds)
	if err != nil {
		return nil, err
	}
	if label == nil || len(label.PDF) == 0 {
		return nil, carrier.Rejected("LABEL_UNAVAILABLE", "carrier returned an empty label", nil).WithProvider(adapter.Provider())
	}

	ct := label.ContentType
	if ct == "" {
		ct = "application/pdf"
	}
	return &LabelResult{
		PDF:         label.PDF,
		ContentType: ct,
		Filename:    fmt.Sprintf("shipping-label-%s.pdf", order.OrderNumber),
	}, nil
}

// RefreshTracking pulls tracking for many orders of one company. Each item
// carries its own result or *Error.
func (m *Manager) RefreshTracking(ctx context.Context, companyID string, refs []models.OrderRef, userID string) []trackingsync.BatchItem[*TrackingResult] {
	return trackingsync.RefreshBatch(ctx, m.batcher, refs, func(ctx context.Context, ref models.OrderRef) (res *TrackingResult, err error) {
		defer m.finish("tracking", &err)
		return m.trackingStatus(ctx, companyID, ref, userID)
	})
}

func (m *Manager) BatchStats() trackingsync.Stats {
	return m.batcher.Stats()
}

// ShipmentHistory lists the order's events, newest first.
func (m *Manager) ShipmentHistory(ctx context.Context, companyID string, ref models.OrderRef, limit, offset int) (events []*models.Event, err error) {
	defer m.finish("history", &err)

	if err := validate(companyID, ref); err != nil {
		return nil, err
	}
	order, err := m.store.GetOrder(ctx, companyID, ref)
	if err != nil {
		return nil, err
	}
	return m.store.ListOrderEvents(ctx, companyID, order.ID, limit, offset)
}

func (m *Manager) sentOrder(ctx context.Context, companyID string, ref models.OrderRef) (*models.Order, error) {
	order, err := m.store.GetOrder(ctx, companyID, ref)
	if err != nil {
		return nil, err
	}
	if !order.IsSent() || order.ShippingData.ShipmentID == "" {
		return nil, newError(CodeNotSent, "order was not sent to a carrier")
	}
	return order, nil
}

func (m *Manager) pickProvider(requested string, order *models.Order) string {
	if p := strings.TrimSpace(requested); p != "" {
		return p
	}
	if p := order.Provider(); p != "" {
		return p
	}
	return m.cfg.DefaultProvider
}

func (m *Manager) resolve(ctx context.Context, companyID, provider string) (carrier.Adapter, carrier.Credentials, error) {
	adapter, err := m.registry.Get(provider)
	if err != nil {
		return nil, carrier.Credentials{}, err
	}
	creds, err := m.resolver.Resolve(ctx, companyID, adapter.Provider())
	if err != nil {
		return nil, carrier.Credentials{}, err
	}
	return adapter, creds, nil
}

func (m *Manager) reconcileRequired(ctx context.Context, order *models.Order, provider carrier.ProviderID, shipmentID, cause, userID string) {
	ev, err := models.NewOrderEvent(models.EventShippingReconcileRequired, order, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"provider":    provider,
		"shipmentId":  shipmentID,
		"cause":       cause,
	}, userID)
	if err != nil {
		slog.Error("build reconcile event", "order_id", order.ID, "error", err.Error())
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("store reconcile event", "order_id", order.ID, "error", err.Error())
	}
	m.publish(ctx, ev)
	slog.Warn("shipment needs manual reconciliation", "order_id", order.ID, "provider", provider, "cause", cause)
}

// publish is best effort: the event is already in the order event log.
func (m *Manager) publish(ctx context.Context, ev *models.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("publish shipping event", "order_id", ev.EntityID, "type", ev.Type, "error", err.Error())
	}
}

// finish runs at the boundary of every operation: it turns panics and
// unexpected errors into *Error, logs failures and records the outcome.
func (m *Manager) finish(op string, errp *error) {
	if r := recover(); r != nil {
		slog.Error("shipping operation panicked", "op", op, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		*errp = &Error{Code: CodeInternal, Message: "internal error"}
	}
	if *errp == nil {
		m.metrics.ObserveResult(op, codeOK)
		return
	}
	se := toError(op, *errp)
	*errp = se
	m.metrics.ObserveResult(op, metricCode(se))
	if se.Code != CodeInternal {
		slog.Info("shipping operation refused", "op", op, "code", se.Code, "retryable", se.Retryable, "error", se.Error())
	}
}

func validate(companyID string, ref models.OrderRef) error {
	if strings.TrimSpace(companyID) == "" {
		return newError(CodeInvalidRequest, "company id is required")
	}
	if err := ref.Validate(); err != nil {
		return newError(CodeInvalidRequest, err.Error())
	}
	return nil
}

func alreadySent(order *models.Order) *Error {
	return newError(CodeAlreadySent, fmt.Sprintf("order %s was already sent with %s", order.OrderNumber, order.Provider()))
}

func sendLockKey(order *models.Order) string {
	return "send:" + order.CompanyID + ":" + order.ID
}
