package pgshipping

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipping_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipping_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func insertOrder(t *testing.T, st *Storage, companyID, id, number string) {
	t.Helper()
	_, err := st.db.Exec(context.Background(), `
INSERT INTO orders (id, company_id, order_number, customer_name, address, total, cod_amount)
VALUES ($1, $2, $3, 'Dana', '{"street":"Herzl 1","city":"Haifa"}', 150.00, 150.00)
`, id, companyID, number)
	require.NoError(t, err)
}

func TestPGShipping_OrderLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	st := startStorage(t)
	ctx := context.Background()
	insertOrder(t, st, "c1", "ord-1", "1001")

	o, err := st.GetOrder(ctx, "c1", models.ByNumber("#1001"))
	require.NoError(t, err)
	require.Equal(t, "ord-1", o.ID)
	require.Equal(t, "Haifa", o.Address.City)
	require.Equal(t, "150", o.CODAmount.String())
	require.False(t, o.IsSent())

	_, err = st.GetOrder(ctx, "other-company", models.ByID("ord-1"))
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	sentAt := time.Now().UTC().Truncate(time.Microsecond)
	ev, err := models.NewOrderEvent(models.EventShippingSent, o, map[string]string{"shipmentId": "S1"}, "u1")
	require.NoError(t, err)

	o, err = st.MarkShipmentCreated(ctx, ShipmentCreated{
		CompanyID: "c1",
		OrderID:   "ord-1",
		Record:    models.ShipmentRecord{Provider: "focus", ShipmentID: "S1", TrackingNumber: "T1", SentAt: sentAt},
		Event:     ev,
	})
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCreated, o.Status())

	// Second non-forced write loses: the order is no longer unsent.
	_, err = st.MarkShipmentCreated(ctx, ShipmentCreated{
		CompanyID: "c1",
		OrderID:   "ord-1",
		Record:    models.ShipmentRecord{Provider: "focus", ShipmentID: "S2", SentAt: sentAt},
	})
	require.ErrorIs(t, err, models.ErrShipmentConflict)

	stored, err := st.GetOrder(ctx, "c1", models.ByID("ord-1"))
	require.NoError(t, err)
	require.Equal(t, "S1", stored.ShippingData.ShipmentID)
	require.Len(t, stored.ShippingData.History, 1)

	// Forced resend with the observed marker succeeds and keeps history.
	resentAt := sentAt.Add(time.Minute)
	o, err = st.MarkShipmentCreated(ctx, ShipmentCreated{
		CompanyID:      "c1",
		OrderID:        "ord-1",
		Record:         models.ShipmentRecord{Provider: "focus", ShipmentID: "S2", TrackingNumber: "T2", SentAt: resentAt},
		ExpectedSentAt: stored.ShippingSentAt,
	})
	require.NoError(t, err)
	require.Equal(t, "S2", o.ShippingData.ShipmentID)
	require.Len(t, o.ShippingData.History, 2)

	upd, err := st.ApplyTrackingSnapshot(ctx, TrackingUpdate{
		CompanyID:  "c1",
		OrderID:    "ord-1",
		ShipmentID: "S2",
		Snapshot:   models.TrackingSnapshot{Status: models.ShippingStatusInTransit, StatusRaw: "AT_HUB", CheckedAt: resentAt.Add(time.Minute)},
	})
	require.NoError(t, err)
	require.True(t, upd.Applied.Changed())
	require.NotNil(t, upd.Event)
	require.Equal(t, "T2", upd.Applied.TrackingNumber)

	// A stale poll from an older shipment is rejected.
	_, err = st.ApplyTrackingSnapshot(ctx, TrackingUpdate{CompanyID: "c1", OrderID: "ord-1", ShipmentID: "S1"})
	require.ErrorIs(t, err, models.ErrShipmentConflict)

	cancelAt := resentAt.Add(2 * time.Minute)
	o, err = st.MarkShipmentCancelled(ctx, ShipmentCancelled{
		CompanyID:    "c1",
		OrderID:      "ord-1",
		ShipmentID:   "S2",
		Cancellation: models.ShipmentCancellation{CancelledAt: cancelAt, Reason: "customer"},
	})
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCancelled, o.Status())

	// Polls cannot move a cancelled order, and an older check time does not rewind the timestamp.
	upd, err = st.ApplyTrackingSnapshot(ctx, TrackingUpdate{
		CompanyID:  "c1",
		OrderID:    "ord-1",
		ShipmentID: "S2",
		Snapshot:   models.TrackingSnapshot{Status: models.ShippingStatusDelivered, CheckedAt: sentAt},
	})
	require.NoError(t, err)
	require.True(t, upd.Applied.Suppressed)
	require.Equal(t, models.ShippingStatusCancelled, upd.Applied.Status)
	require.WithinDuration(t, cancelAt, upd.Applied.UpdatedAt, time.Millisecond)
	require.Nil(t, upd.Event)

	// A resend stamped before the last status change keeps the status timestamp monotonic.
	cur, err := st.GetOrder(ctx, "c1", models.ByID("ord-1"))
	require.NoError(t, err)
	o, err = st.MarkShipmentCreated(ctx, ShipmentCreated{
		CompanyID:      "c1",
		OrderID:        "ord-1",
		Record:         models.ShipmentRecord{Provider: "focus", ShipmentID: "S3", SentAt: resentAt.Add(time.Minute)},
		ExpectedSentAt: cur.ShippingSentAt,
	})
	require.NoError(t, err)
	require.WithinDuration(t, cancelAt, *o.ShippingStatusUpdatedAt, time.Millisecond)
	stored, err = st.GetOrder(ctx, "c1", models.ByID("ord-1"))
	require.NoError(t, err)
	require.WithinDuration(t, cancelAt, *stored.ShippingStatusUpdatedAt, time.Millisecond)
	require.Equal(t, models.ShippingStatusCreated, stored.Status())

	evs, err := st.ListOrderEvents(ctx, "c1", "ord-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	types := []string{evs[0].Type, evs[1].Type}
	require.Contains(t, types, models.EventShippingSent)
	require.Contains(t, types, models.EventShippingStatusChanged)
}

func TestPGShipping_Integrations(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	st := startStorage(t)
	ctx := context.Background()

	_, err := st.db.Exec(ctx, `
INSERT INTO integrations (id, company_id, type, api_key, api_secret, config, is_active) VALUES
  ('i1', 'c1', 'focus', 'k', 's', '{"host":"https://focus.test","customerNumber":"7"}', true),
  ('i2', 'c1', 'focus', 'k2', 's2', '{}', false),
  ('i3', 'c2', 'focus', 'k3', 's3', '{}', true)
`)
	require.NoError(t, err)

	list, err := st.ListActiveIntegrations(ctx, "c1", "focus")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "i1", list[0].ID)

	var cfg map[string]string
	require.NoError(t, json.Unmarshal(list[0].Config, &cfg))
	require.Equal(t, "7", cfg["customerNumber"])

	list, err = st.ListActiveIntegrations(ctx, "c1", "cargo")
	require.NoError(t, err)
	require.Empty(t, list)
}
