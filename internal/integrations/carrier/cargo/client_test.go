package cargo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func creds(host string, cod bool) carrier.Credentials {
	return carrier.Credentials{
		CompanyID: "c1",
		Provider:  carrier.ProviderCargo,
		APIKey:    "demo",
		Config:    carrier.CargoConfig{Host: host, SenderCode: "S-9", CollectCOD: cod},
	}
}

func newClient() *Client {
	return New(carrier.NewHTTPClient(carrier.ProviderCargo, time.Second, nil))
}

func TestClient_CreateShipment_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ws/shipment.php", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "create", q.Get("action"))
		require.Equal(t, "demo", q.Get("apiKey"))
		require.Equal(t, "S-9", q.Get("senderCode"))
		require.Equal(t, "2002", q.Get("reference"))
		require.Equal(t, "35.00", q.Get("cod"))

		_, _ = w.Write([]byte(`{"status":"ok","data":{"deliveryNumber":"778899","labelUrl":"https://cargo/l/778899","pickupPoint":"Locker 4"}}`))
	}))
	defer srv.Close()

	order := &models.Order{OrderNumber: "2002", CODAmount: decimal.NewFromInt(35)}
	s, err := newClient().CreateShipment(context.Background(), order, creds(srv.URL, true))
	require.NoError(t, err)
	require.Equal(t, "778899", s.ShipmentID)
	require.Equal(t, "778899", s.TrackingNumber)
	require.Equal(t, "Locker 4", s.Extras["pickupPoint"])
}

func TestClient_CreateShipment_CODOnlyWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.URL.Query().Get("cod"))
		_, _ = w.Write([]byte(`{"status":"ok","data":{"deliveryNumber":"1"}}`))
	}))
	defer srv.Close()

	order := &models.Order{CODAmount: decimal.NewFromInt(35)}
	_, err := newClient().CreateShipment(context.Background(), order, creds(srv.URL, false))
	require.NoError(t, err)
}

func TestClient_EnvelopeErrors(t *testing.T) {
	body := `{"status":"error","errorCode":"BAD_CITY","message":"unknown city"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := newClient().CreateShipment(context.Background(), &models.Order{}, creds(srv.URL, false))
	ce, ok := carrier.AsError(err)
	require.True(t, ok)
	require.Equal(t, "BAD_CITY", ce.Code)
	require.False(t, ce.Retryable)

	body = `{"status":"error","errorCode":"SYSTEM_BUSY"}`
	_, err = newClient().CreateShipment(context.Background(), &models.Order{}, creds(srv.URL, false))
	require.ErrorIs(t, err, carrier.ErrTransient)

	body = `not json`
	_, err = newClient().CreateShipment(context.Background(), &models.Order{}, creds(srv.URL, false))
	ce, ok = carrier.AsError(err)
	require.True(t, ok)
	require.Equal(t, "MALFORMED_RESPONSE", ce.Code)
	require.True(t, ce.Ambiguous)

	body = `{"status":"error","errorCode":"DELIVERY_CANCELLED","message":"delivery already cancelled"}`
	err = newClient().CancelShipment(context.Background(), "778899", creds(srv.URL, false), "again")
	require.ErrorIs(t, err, carrier.ErrAlreadyCancelled)
	ce, ok = carrier.AsError(err)
	require.True(t, ok)
	require.Equal(t, carrier.CodeAlreadyCancelled, ce.Code)
}

func TestClient_GetTrackingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "status", r.URL.Query().Get("action"))
		require.Equal(t, "778899", r.URL.Query().Get("deliveryNumber"))
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": {
    "deliveryNumber": "778899",
    "events": [
      {"dateTime":"01.01.2025 10:00:00","code":"","description":"נאסף מהשולח","place":"Haifa"},
      {"dateTime":"02.01.2025 12:30:00","code":"","description":"המשלוח נמסר ללקוח","place":"Haifa"}
    ]
  }
}`))
	}))
	defer srv.Close()

	ts, err := newClient().GetTrackingStatus(context.Background(), "778899", creds(srv.URL, false))
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusDelivered, ts.Status)
	require.Equal(t, "המשלוח נמסר ללקוח", ts.StatusRaw)
	require.NotNil(t, ts.LastUpdate)
	require.WithinDuration(t, time.Date(2025, 1, 2, 10, 30, 0, 0, time.UTC), *ts.LastUpdate, time.Second)
}

func TestClient_GetLabel_FetchesLinkEveryTime(t *testing.T) {
	var srvURL string
	labelCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/shipment.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "label", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"status":"ok","data":{"labelUrl":"` + srvURL + `/labels/778899.pdf"}}`))
	})
	mux.HandleFunc("/labels/778899.pdf", func(w http.ResponseWriter, r *http.Request) {
		labelCalls++
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := newClient()
	for i := 0; i < 2; i++ {
		l, err := c.GetLabel(context.Background(), "778899", creds(srv.URL, false))
		require.NoError(t, err)
		require.Equal(t, "%PDF-1.7", string(l.PDF))
	}
	require.Equal(t, 2, labelCalls)
}

func TestStatusFromEvent(t *testing.T) {
	require.Equal(t, models.ShippingStatusDelivered, statusFromEvent("DELIVERED", ""))
	require.Equal(t, models.ShippingStatusInTransit, statusFromEvent("", "Collected from sender"))
	require.Equal(t, models.ShippingStatusCancelled, statusFromEvent("", "המשלוח בוטל"))
	require.Equal(t, models.ShippingStatusUnknown, statusFromEvent("", "something else"))
}
