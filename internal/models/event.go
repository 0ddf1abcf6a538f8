package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventShippingSent              = "order.shipping.sent"
	EventShippingCancelled         = "order.shipping.cancelled"
	EventShippingStatusChanged     = "order.shipping.status_changed"
	EventShippingReconcileRequired = "order.shipping.reconcile_required"

	EntityTypeOrder = "order"
)

// Event is an entry in the append-only domain event log.
type Event struct {
	ID         string
	Type       string
	EntityType string
	EntityID   string
	CompanyID  string
	Payload    json.RawMessage
	UserID     *string
	CreatedAt  time.Time
}

// NewOrderEvent builds an order event; payload is marshalled to JSON.
func NewOrderEvent(eventType string, order *Order, payload any, userID string) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityType: EntityTypeOrder,
		EntityID:   order.ID,
		CompanyID:  order.CompanyID,
		Payload:    b,
		CreatedAt:  time.Now().UTC(),
	}
	if userID != "" {
		ev.UserID = &userID
	}
	return ev, nil
}
