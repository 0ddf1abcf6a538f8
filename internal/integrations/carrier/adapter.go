package carrier

import (
	"context"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

type Shipment struct {
	ShipmentID     string
	TrackingNumber string
	LabelURL       string
	Extras         map[string]any
}

type TrackingStatus struct {
	// Status is normalized to the local state names where the carrier's value is recognized.
	Status         string
	StatusRaw      string
	LastUpdate     *time.Time
	TrackingNumber string
}

type Label struct {
	PDF         []byte
	ContentType string
}

// Adapter translates the uniform shipping protocol into one carrier's API.
//
// Failures are reported as *Error so the caller can tell retryable conditions
// from rejections. GetLabel must call the carrier every time.
type Adapter interface {
	Provider() ProviderID
	CreateShipment(ctx context.Context, order *models.Order, creds Credentials) (*Shipment, error)
	CancelShipment(ctx context.Context, shipmentID string, creds Credentials, reason string) error
	GetTrackingStatus(ctx context.Context, shipmentID string, creds Credentials) (*TrackingStatus, error)
	GetLabel(ctx context.Context, shipmentID string, creds Credentials) (*Label, error)
}
