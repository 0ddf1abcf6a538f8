package focus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/pkg/errors"
)

// Client talks to the Focus REST API. Host and customer number come from the tenant's integration.
type Client struct {
	httpc *carrier.HTTPClient
}

func New(httpc *carrier.HTTPClient) *Client {
	return &Client{httpc: httpc}
}

func (c *Client) Provider() carrier.ProviderID { return carrier.ProviderFocus }

type recipient struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber,omitempty"`
	Apartment   string `json:"apartment,omitempty"`
	Floor       string `json:"floor,omitempty"`
	City        string `json:"city"`
	ZipCode     string `json:"zipCode,omitempty"`
}

type createReq struct {
	CustomerNumber string    `json:"customerNumber"`
	Reference      string    `json:"reference"`
	ShipmentType   string    `json:"shipmentType"`
	Packages       int       `json:"packages"`
	Recipient      recipient `json:"recipient"`
	CODAmount      string    `json:"codAmount,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

type createResp struct {
	ShipmentID     string `json:"shipmentId"`
	TrackingNumber string `json:"trackingNumber"`
	LabelURL       string `json:"labelUrl"`
	Branch         string `json:"branch,omitempty"`
}

type trackingResp struct {
	ShipmentID     string    `json:"shipmentId"`
	TrackingNumber string    `json:"trackingNumber"`
	Status         string    `json:"status"`
	StatusText     string    `json:"statusText"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) CreateShipment(ctx context.Context, order *models.Order, creds carrier.Credentials) (*carrier.Shipment, error) {
	cfg, err := carrier.ConfigAs[carrier.FocusConfig](creds)
	if err != nil {
		return nil, err
	}

	body := createReq{
		CustomerNumber: cfg.CustomerNumber,
		Reference:      order.OrderNumber,
		ShipmentType:   cfg.ShipmentType,
		Packages:       cfg.Packages,
		Recipient: recipient{
			Name:        order.CustomerName,
			Phone:       order.CustomerPhone,
			Email:       order.CustomerEmail,
			Street:      order.Address.Street,
			HouseNumber: order.Address.HouseNumber,
			Apartment:   order.Address.Apartment,
			Floor:       order.Address.Floor,
			City:        order.Address.City,
			ZipCode:     order.Address.ZipCode,
		},
		Notes: order.Notes,
	}
	if order.CODAmount.IsPositive() {
		body.CODAmount = order.CODAmount.StringFixed(2)
	}

	resp, err := c.do(ctx, http.MethodPost, cfg.Host, "/api/v1/shipments", creds, body, false)
	if err != nil {
		return nil, err
	}

	var cr createResp
	if err := carrier.DecodeJSON(carrier.ProviderFocus, resp, &cr, false); err != nil {
		return nil, err
	}
	if cr.ShipmentID == "" {
		return nil, carrier.Ambiguous("MALFORMED_RESPONSE", "carrier accepted the shipment without an id", nil).WithProvider(carrier.ProviderFocus)
	}

	var extras map[string]any
	if cr.Branch != "" {
		extras = map[string]any{"branch": cr.Branch}
	}
	return &carrier.Shipment{
		ShipmentID:     cr.ShipmentID,
		TrackingNumber: cr.TrackingNumber,
		LabelURL:       cr.LabelURL,
		Extras:         extras,
	}, nil
}

func (c *Client) CancelShipment(ctx context.Context, shipmentID string, creds carrier.Credentials, reason string) error {
	cfg, err := carrier.ConfigAs[carrier.FocusConfig](creds)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/api/v1/shipments/%s/cancel", url.PathEscape(shipmentID))
	// A repeated cancel is answered with 409 ALREADY_CANCELLED, which callers treat as done.
	_, err = c.do(ctx, http.MethodPost, cfg.Host, path, creds, map[string]string{"reason": reason}, true)
	return err
}

func (c *Client) GetTrackingStatus(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.TrackingStatus, error) {
	cfg, err := carrier.ConfigAs[carrier.FocusConfig](creds)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/v1/shipments/%s/tracking", url.PathEscape(shipmentID))
	resp, err := c.do(ctx, http.MethodGet, cfg.Host, path, creds, nil, true)
	if err != nil {
		return nil, err
	}

	var tr trackingResp
	if err := carrier.DecodeJSON(carrier.ProviderFocus, resp, &tr, true); err != nil {
		return nil, err
	}

	ts := &carrier.TrackingStatus{
		Status:         normalizeStatus(tr.Status),
		StatusRaw:      tr.Status,
		TrackingNumber: tr.TrackingNumber,
	}
	if tr.StatusText != "" {
		ts.StatusRaw = tr.Status + ": " + tr.StatusText
	}
	if !tr.UpdatedAt.IsZero() {
		at := tr.UpdatedAt.UTC()
		ts.LastUpdate = &at
	}
	return ts, nil
}

func (c *Client) GetLabel(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.Label, error) {
	cfg, err := carrier.ConfigAs[carrier.FocusConfig](creds)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/v1/shipments/%s/label", url.PathEscape(shipmentID))
	resp, err := c.do(ctx, http.MethodGet, cfg.Host, path, creds, nil, true)
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, carrier.Rejected("LABEL_UNAVAILABLE", "carrier returned an empty label", nil).WithProvider(carrier.ProviderFocus)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	return &carrier.Label{PDF: resp.Body, ContentType: ct}, nil
}

func (c *Client) do(ctx context.Context, method, host, path string, creds carrier.Credentials, body any, idempotent bool) (*carrier.Response, error) {
	u, err := url.Parse(strings.TrimRight(host, "/") + path)
	if err != nil {
		return nil, carrier.Rejected("INVALID_CREDENTIALS", "invalid carrier host", errors.Wrap(err, "parse host"))
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("X-Api-Key", creds.APIKey)
	req.Header.Set("X-Api-Secret", creds.APISecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req, idempotent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, rejection(resp)
	}
	return resp, nil
}

func rejection(resp *carrier.Response) error {
	var er errorResp
	_ = json.Unmarshal(resp.Body, &er)

	code := er.Code
	switch {
	case code == "ALREADY_CANCELLED", code == "SHIPMENT_CANCELLED":
		code = carrier.CodeAlreadyCancelled
	case code != "":
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		code = "INVALID_CREDENTIALS"
	case resp.StatusCode == http.StatusNotFound:
		code = "SHIPMENT_NOT_FOUND"
	default:
		code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	msg := er.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return carrier.Rejected(code, msg, nil).WithProvider(carrier.ProviderFocus).WithStatus(resp.StatusCode)
}

func normalizeStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW", "CREATED", "REGISTERED":
		return models.ShippingStatusCreated
	case "PICKED_UP", "IN_TRANSIT", "OUT_FOR_DELIVERY", "AT_BRANCH":
		return models.ShippingStatusInTransit
	case "DELIVERED":
		return models.ShippingStatusDelivered
	case "FAILED", "RETURNED", "EXCEPTION":
		return models.ShippingStatusException
	case "CANCELLED", "CANCELED":
		return models.ShippingStatusCancelled
	case "":
		return models.ShippingStatusUnknown
	}
	return models.NormalizeStatus(s)
}
