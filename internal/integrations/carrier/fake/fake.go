package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

// Client is an in-process carrier for development and demos.
// Tracking status is derived from a hash of the shipment id, so part of the shipments end up delivered.
type Client struct {
	seq atomic.Uint64

	mu        sync.Mutex
	cancelled map[string]time.Time
}

func New() *Client {
	return &Client{cancelled: make(map[string]time.Time)}
}

func (c *Client) Provider() carrier.ProviderID { return carrier.ProviderFake }

func (c *Client) CreateShipment(ctx context.Context, order *models.Order, creds carrier.Credentials) (*carrier.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, carrier.Transient("REQUEST_CANCELLED", "request cancelled by caller", err).WithProvider(carrier.ProviderFake)
	}
	if cfg, ok := creds.Config.(carrier.FakeConfig); ok && cfg.FailCreate {
		return nil, carrier.Rejected("INVALID_ADDRESS", "fake carrier configured to reject shipments", nil).WithProvider(carrier.ProviderFake)
	}

	n := c.seq.Add(1)
	id := fmt.Sprintf("FAKE-%08x-%d", hash(creds.CompanyID, order.ID), n)
	return &carrier.Shipment{
		ShipmentID:     id,
		TrackingNumber: fmt.Sprintf("FK%010d", hash(id)%10_000_000_000),
		LabelURL:       "fake://labels/" + id,
	}, nil
}

func (c *Client) CancelShipment(ctx context.Context, shipmentID string, creds carrier.Credentials, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cancelled[shipmentID]; ok {
		return carrier.AlreadyCancelled("shipment already cancelled").WithProvider(carrier.ProviderFake)
	}
	c.cancelled[shipmentID] = time.Now().UTC()
	return nil
}

func (c *Client) GetTrackingStatus(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.TrackingStatus, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	at, cancelled := c.cancelled[shipmentID]
	c.mu.Unlock()
	if cancelled {
		return &carrier.TrackingStatus{Status: models.ShippingStatusCancelled, StatusRaw: "CANCELLED", LastUpdate: &at}, nil
	}

	// 20% of shipments are delivered.
	status := models.ShippingStatusInTransit
	if hash(shipmentID)%5 == 0 {
		status = models.ShippingStatusDelivered
	}
	return &carrier.TrackingStatus{
		Status:     status,
		StatusRaw:  "fake carrier update",
		LastUpdate: &now,
	}, nil
}

func (c *Client) GetLabel(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.Label, error) {
	pdf := fmt.Sprintf("%%PDF-1.4\n%% fake label %s\n%%%%EOF\n", shipmentID)
	return &carrier.Label{PDF: []byte(pdf), ContentType: "application/pdf"}, nil
}

func hash(parts ...string) uint64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte("|"))
		}
		_, _ = h.Write([]byte(p))
	}
	return h.Sum64()
}
