package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Address struct {
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber,omitempty"`
	Apartment   string `json:"apartment,omitempty"`
	Floor       string `json:"floor,omitempty"`
	City        string `json:"city"`
	ZipCode     string `json:"zipCode,omitempty"`
}

// Order is the subset of the storefront order that the shipping layer reads and writes.
// Everything except the Shipping* fields is owned by order management.
type Order struct {
	ID          string
	CompanyID   string
	OrderNumber string

	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Address       Address
	Notes         string
	ItemsCount    int

	Total decimal.Decimal
	// CODAmount is the amount the courier collects on delivery; zero when prepaid.
	CODAmount decimal.Decimal

	ShippingProvider        *string
	ShippingSentAt          *time.Time
	ShippingTrackingNumber  *string
	ShippingStatus          *string
	ShippingStatusUpdatedAt *time.Time
	ShippingData            ShippingData

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShipmentRef identifies one carrier-side shipment created for an order.
type ShipmentRef struct {
	ShipmentID     string    `json:"shipmentId"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	LabelURL       string    `json:"labelUrl,omitempty"`
	Provider       string    `json:"provider"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ShippingData is stored as a JSON blob on the order.
type ShippingData struct {
	ShipmentID       string         `json:"shipmentId,omitempty"`
	LabelURL         string         `json:"labelUrl,omitempty"`
	CancelledAt      *time.Time     `json:"cancelledAt,omitempty"`
	CancelReason     string         `json:"cancelReason,omitempty"`
	CarrierStatusRaw string         `json:"carrierStatusRaw,omitempty"`
	CarrierUpdatedAt *time.Time     `json:"carrierUpdatedAt,omitempty"`
	Extras           map[string]any `json:"extras,omitempty"`
	History          []ShipmentRef  `json:"history,omitempty"`
}

// IsSent reports whether a shipment was ever created for the order.
func (o *Order) IsSent() bool {
	return o.ShippingSentAt != nil
}

func (o *Order) Provider() string {
	if o.ShippingProvider == nil {
		return ""
	}
	return *o.ShippingProvider
}

func (o *Order) Status() string {
	if o.ShippingStatus == nil {
		return ""
	}
	return *o.ShippingStatus
}

// ShipmentRecord is what a successful send writes onto the order.
type ShipmentRecord struct {
	Provider       string
	ShipmentID     string
	TrackingNumber string
	LabelURL       string
	Extras         map[string]any
	SentAt         time.Time
}

type ShipmentCancellation struct {
	CancelledAt time.Time
	Reason      string
}

// TrackingSnapshot is one pull of carrier status for an order.
type TrackingSnapshot struct {
	Status           string
	StatusRaw        string
	TrackingNumber   string
	CarrierUpdatedAt *time.Time
	CheckedAt        time.Time
}

// TrackingApplied reports the order state after a snapshot was applied.
type TrackingApplied struct {
	PreviousStatus string
	Status         string
	UpdatedAt      time.Time
	TrackingNumber string
	// Suppressed is true when the polled status was ignored because the
	// shipment is already cancelled locally.
	Suppressed bool
}

func (a TrackingApplied) Changed() bool {
	return a.PreviousStatus != a.Status
}

// WithShipment returns the shipping data after a successful create. Previous
// shipment fields are replaced; the history keeps every shipment ever created.
func (d ShippingData) WithShipment(rec ShipmentRecord) ShippingData {
	history := make([]ShipmentRef, 0, len(d.History)+1)
	history = append(history, d.History...)
	history = append(history, ShipmentRef{
		ShipmentID:     rec.ShipmentID,
		TrackingNumber: rec.TrackingNumber,
		LabelURL:       rec.LabelURL,
		Provider:       rec.Provider,
		CreatedAt:      rec.SentAt,
	})
	return ShippingData{
		ShipmentID: rec.ShipmentID,
		LabelURL:   rec.LabelURL,
		Extras:     rec.Extras,
		History:    history,
	}
}

func (d ShippingData) WithCancellation(c ShipmentCancellation) ShippingData {
	at := c.CancelledAt
	d.CancelledAt = &at
	d.CancelReason = c.Reason
	return d
}

// LaterOf returns the later of prev and next; it keeps status timestamps monotonic.
func LaterOf(prev *time.Time, next time.Time) time.Time {
	if prev != nil && prev.After(next) {
		return *prev
	}
	return next
}
