package messages

import (
	"encoding/json"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

// ShippingEvent mirrors one entry of the order event log on the shipping events topic.
type ShippingEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	CompanyID  string          `json:"companyId"`
	Payload    json.RawMessage `json:"payload"`
	UserID     *string         `json:"userId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func FromEvent(ev *models.Event) ShippingEvent {
	return ShippingEvent{
		ID:         ev.ID,
		Type:       ev.Type,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		CompanyID:  ev.CompanyID,
		Payload:    ev.Payload,
		UserID:     ev.UserID,
		OccurredAt: ev.CreatedAt,
	}
}

// ShipmentRequested asks the shipping service to send an order to a carrier.
// Exactly one of OrderID and OrderNumber is expected.
type ShipmentRequested struct {
	CompanyID   string `json:"companyId" validate:"required"`
	OrderID     string `json:"orderId,omitempty" validate:"required_without=OrderNumber"`
	OrderNumber string `json:"orderNumber,omitempty" validate:"required_without=OrderID"`
	Provider    string `json:"provider,omitempty"`
	ForceResend bool   `json:"forceResend,omitempty"`
	UserID      string `json:"userId,omitempty"`
}
