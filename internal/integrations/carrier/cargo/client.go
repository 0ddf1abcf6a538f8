package cargo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/pkg/errors"
)

const endpoint = "/ws/shipment.php"

// Client talks to the Cargo web service: every call is a query-string request
// answered with a {"status": "ok"|"error"} envelope.
type Client struct {
	httpc *carrier.HTTPClient
}

func New(httpc *carrier.HTTPClient) *Client {
	return &Client{httpc: httpc}
}

func (c *Client) Provider() carrier.ProviderID { return carrier.ProviderCargo }

type envelope struct {
	Status    string          `json:"status"`
	ErrorCode string          `json:"errorCode"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type createData struct {
	DeliveryNumber string `json:"deliveryNumber"`
	LabelURL       string `json:"labelUrl"`
	PickupPoint    string `json:"pickupPoint"`
}

type statusData struct {
	DeliveryNumber string `json:"deliveryNumber"`
	Events         []struct {
		DateTime    string `json:"dateTime"`
		Code        string `json:"code"`
		Description string `json:"description"`
		Place       string `json:"place"`
	} `json:"events"`
}

type labelData struct {
	LabelURL string `json:"labelUrl"`
}

// Error codes the web service uses when the request was not processed at all.
var retryableCodes = map[string]bool{
	"SYSTEM_BUSY": true,
	"TRY_AGAIN":   true,
}

var alreadyCancelledCodes = map[string]bool{
	"DELIVERY_CANCELLED": true,
	"ALREADY_CANCELLED":  true,
}

func (c *Client) CreateShipment(ctx context.Context, order *models.Order, creds carrier.Credentials) (*carrier.Shipment, error) {
	cfg, err := carrier.ConfigAs[carrier.CargoConfig](creds)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("senderCode", cfg.SenderCode)
	q.Set("reference", order.OrderNumber)
	q.Set("name", order.CustomerName)
	q.Set("phone", order.CustomerPhone)
	q.Set("street", order.Address.Street)
	q.Set("house", order.Address.HouseNumber)
	q.Set("apartment", order.Address.Apartment)
	q.Set("city", order.Address.City)
	q.Set("notes", order.Notes)
	if cfg.CollectCOD && order.CODAmount.IsPositive() {
		q.Set("cod", order.CODAmount.StringFixed(2))
	}

	var d createData
	if err := c.call(ctx, http.MethodPost, cfg.Host, "create", creds, q, &d, false); err != nil {
		return nil, err
	}
	if d.DeliveryNumber == "" {
		return nil, carrier.Ambiguous("MALFORMED_RESPONSE", "carrier accepted the shipment without a delivery number", nil).WithProvider(carrier.ProviderCargo)
	}

	var extras map[string]any
	if d.PickupPoint != "" {
		extras = map[string]any{"pickupPoint": d.PickupPoint}
	}
	// The delivery number doubles as the tracking number.
	return &carrier.Shipment{
		ShipmentID:     d.DeliveryNumber,
		TrackingNumber: d.DeliveryNumber,
		LabelURL:       d.LabelURL,
		Extras:         extras,
	}, nil
}

func (c *Client) CancelShipment(ctx context.Context, shipmentID string, creds carrier.Credentials, reason string) error {
	cfg, err := carrier.ConfigAs[carrier.CargoConfig](creds)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("deliveryNumber", shipmentID)
	q.Set("reason", reason)
	return c.call(ctx, http.MethodGet, cfg.Host, "cancel", creds, q, nil, true)
}

func (c *Client) GetTrackingStatus(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.TrackingStatus, error) {
	cfg, err := carrier.ConfigAs[carrier.CargoConfig](creds)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("deliveryNumber", shipmentID)

	var d statusData
	if err := c.call(ctx, http.MethodGet, cfg.Host, "status", creds, q, &d, true); err != nil {
		return nil, err
	}

	ts := &carrier.TrackingStatus{
		Status:         models.ShippingStatusCreated,
		TrackingNumber: d.DeliveryNumber,
	}
	if len(d.Events) == 0 {
		return ts, nil
	}

	last := d.Events[len(d.Events)-1]
	ts.StatusRaw = last.Description
	ts.Status = statusFromEvent(last.Code, last.Description)
	// Example: "02.07.2024 19:16:00", Israel local time.
	if t, err := time.ParseInLocation("02.01.2006 15:04:05", last.DateTime, israel()); err == nil {
		at := t.UTC()
		ts.LastUpdate = &at
	}
	return ts, nil
}

// GetLabel asks for the current label link and downloads it. Links expire, so nothing is kept.
func (c *Client) GetLabel(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.Label, error) {
	cfg, err := carrier.ConfigAs[carrier.CargoConfig](creds)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("deliveryNumber", shipmentID)

	var d labelData
	if err := c.call(ctx, http.MethodGet, cfg.Host, "label", creds, q, &d, true); err != nil {
		return nil, err
	}
	if d.LabelURL == "" {
		return nil, carrier.Rejected("LABEL_UNAVAILABLE", "carrier has no label for this shipment", nil).WithProvider(carrier.ProviderCargo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.LabelURL, nil)
	if err != nil {
		return nil, carrier.Rejected("MALFORMED_RESPONSE", "invalid label url", errors.Wrap(err, "new request")).WithProvider(carrier.ProviderCargo)
	}
	resp, err := c.httpc.Do(req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 || len(resp.Body) == 0 {
		return nil, carrier.Rejected("LABEL_UNAVAILABLE", "label download failed", nil).WithProvider(carrier.ProviderCargo).WithStatus(resp.StatusCode)
	}
	return &carrier.Label{PDF: resp.Body, ContentType: "application/pdf"}, nil
}

func (c *Client) call(ctx context.Context, method, host, action string, creds carrier.Credentials, q url.Values, dst any, idempotent bool) error {
	u, err := url.Parse(strings.TrimRight(host, "/") + endpoint)
	if err != nil {
		return carrier.Rejected("INVALID_CREDENTIALS", "invalid carrier host", errors.Wrap(err, "parse host"))
	}
	q.Set("action", action)
	q.Set("apiKey", creds.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req, idempotent)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		code := "HTTP_ERROR"
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = "INVALID_CREDENTIALS"
		}
		return carrier.Rejected(code, http.StatusText(resp.StatusCode), nil).WithProvider(carrier.ProviderCargo).WithStatus(resp.StatusCode)
	}

	var env envelope
	if err := carrier.DecodeJSON(carrier.ProviderCargo, resp, &env, idempotent); err != nil {
		return err
	}
	if env.Status != "ok" {
		code := env.ErrorCode
		if code == "" {
			code = "CARRIER_ERROR"
		}
		if retryableCodes[code] {
			return carrier.Transient(code, env.Message, nil).WithProvider(carrier.ProviderCargo)
		}
		if alreadyCancelledCodes[code] {
			return carrier.AlreadyCancelled(env.Message).WithProvider(carrier.ProviderCargo)
		}
		return carrier.Rejected(code, env.Message, nil).WithProvider(carrier.ProviderCargo)
	}
	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	return carrier.DecodeJSON(carrier.ProviderCargo, &carrier.Response{StatusCode: resp.StatusCode, Body: env.Data}, dst, idempotent)
}

func statusFromEvent(code, description string) string {
	switch strings.ToUpper(code) {
	case "DELIVERED":
		return models.ShippingStatusDelivered
	case "CANCELLED":
		return models.ShippingStatusCancelled
	case "RETURNED", "FAILED":
		return models.ShippingStatusException
	case "COLLECTED", "IN_TRANSIT", "AT_HUB":
		return models.ShippingStatusInTransit
	case "REGISTERED":
		return models.ShippingStatusCreated
	}
	low := strings.ToLower(description)
	switch {
	case containsAny(low, "נמסר", "delivered"):
		return models.ShippingStatusDelivered
	case containsAny(low, "בוטל", "cancel"):
		return models.ShippingStatusCancelled
	case containsAny(low, "הוחזר", "returned"):
		return models.ShippingStatusException
	case containsAny(low, "נאסף", "בדרך", "transit", "collected"):
		return models.ShippingStatusInTransit
	}
	return models.ShippingStatusUnknown
}

func containsAny(s string, hints ...string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func israel() *time.Location {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		return time.UTC
	}
	return loc
}
