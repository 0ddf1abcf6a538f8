package pgshipping

import (
	"context"
	"encoding/json"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `
  id, company_id, order_number,
  customer_name, customer_phone, customer_email, address, notes, items_count,
  total::text, cod_amount::text,
  shipping_provider, shipping_sent_at, shipping_tracking_number,
  shipping_status, shipping_status_updated_at, shipping_data,
  created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ShipmentCreated is the conditional write after a carrier accepted a shipment.
type ShipmentCreated struct {
	CompanyID string
	OrderID   string
	Record    models.ShipmentRecord
	// ExpectedSentAt is shipping_sent_at as read before the carrier call; nil means the order was unsent.
	ExpectedSentAt *time.Time
	Event          *models.Event
}

type ShipmentCancelled struct {
	CompanyID string
	OrderID   string
	// ShipmentID must still be the order's current shipment.
	ShipmentID   string
	Cancellation models.ShipmentCancellation
	Event        *models.Event
}

type TrackingUpdate struct {
	CompanyID  string
	OrderID    string
	ShipmentID string
	Snapshot   models.TrackingSnapshot
	UserID     string
}

type TrackingUpdated struct {
	Order   *models.Order
	Applied models.TrackingApplied
	// Event is set when the status changed; it is already stored.
	Event *models.Event
}

func (s *Storage) GetOrder(ctx context.Context, companyID string, ref models.OrderRef) (*models.Order, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return getOrder(ctx, s.db, companyID, ref, false)
}

func getOrder(ctx context.Context, q querier, companyID string, ref models.OrderRef, forUpdate bool) (*models.Order, error) {
	where := `id = $2`
	if ref.Kind == models.OrderRefNumber {
		where = `order_number = $2`
	}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE company_id = $1 AND ` + where
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRow(ctx, sql, companyID, ref.Value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o            models.Order
		address      []byte
		total, cod   string
		shippingData []byte
	)
	if err := row.Scan(
		&o.ID, &o.CompanyID, &o.OrderNumber,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &address, &o.Notes, &o.ItemsCount,
		&total, &cod,
		&o.ShippingProvider, &o.ShippingSentAt, &o.ShippingTrackingNumber,
		&o.ShippingStatus, &o.ShippingStatusUpdatedAt, &shippingData,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, "parse total")
	}
	if o.CODAmount, err = decimal.NewFromString(cod); err != nil {
		return nil, errors.Wrap(err, "parse cod amount")
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.Address); err != nil {
			return nil, errors.Wrap(err, "decode address")
		}
	}
	if len(shippingData) > 0 {
		if err := json.Unmarshal(shippingData, &o.ShippingData); err != nil {
			return nil, errors.Wrap(err, "decode shipping data")
		}
	}
	return &o, nil
}

// MarkShipmentCreated stores a new shipment if the order's sent marker still
// equals upd.ExpectedSentAt, and appends upd.Event in the same transaction.
// A lost race returns models.ErrShipmentConflict.
func (s *Storage) MarkShipmentCreated(ctx context.Context, upd ShipmentCreated) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOrder(ctx, tx, upd.CompanyID, models.ByID(upd.OrderID), true)
	if err != nil {
		return nil, err
	}
	if !sameInstant(cur.ShippingSentAt, upd.ExpectedSentAt) {
		return nil, models.ErrShipmentConflict
	}

	rec := upd.Record
	data := cur.ShippingData.WithShipment(rec)
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "encode shipping data")
	}

	sentAt := rec.SentAt.UTC()
	statusAt := models.LaterOf(cur.ShippingStatusUpdatedAt, sentAt)
	_, err = tx.Exec(ctx, `
UPDATE orders
SET
  shipping_provider = $3,
  shipping_sent_at = $4,
  shipping_tracking_number = $5,
  shipping_status = $6,
  shipping_status_updated_at = $8,
  shipping_data = $7,
  updated_at = now()
WHERE company_id = $1 AND id = $2
`, upd.CompanyID, upd.OrderID, rec.Provider, sentAt, nullable(rec.TrackingNumber), models.ShippingStatusCreated, dataJSON, statusAt)
	if err != nil {
		return nil, errors.Wrap(err, "update order shipment")
	}

	if upd.Event != nil {
		if err := insertEvent(ctx, tx, upd.Event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	status := models.ShippingStatusCreated
	cur.ShippingProvider = &rec.Provider
	cur.ShippingSentAt = &sentAt
	cur.ShippingTrackingNumber = nullable(rec.TrackingNumber)
	cur.ShippingStatus = &status
	cur.ShippingStatusUpdatedAt = &statusAt
	cur.ShippingData = data
	return cur, nil
}

func (s *Storage) MarkShipmentCancelled(ctx context.Context, upd ShipmentCancelled) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOrder(ctx, tx, upd.CompanyID, models.ByID(upd.OrderID), true)
	if err != nil {
		return nil, err
	}
	if !cur.IsSent() {
		return nil, models.ErrShipmentNotSent
	}
	if cur.ShippingData.ShipmentID != upd.ShipmentID {
		return nil, models.ErrShipmentConflict
	}

	data := cur.ShippingData.WithCancellation(upd.Cancellation)
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "encode shipping data")
	}
	updatedAt := models.LaterOf(cur.ShippingStatusUpdatedAt, upd.Cancellation.CancelledAt.UTC())

	_, err = tx.Exec(ctx, `
UPDATE orders
SET
  shipping_status = $3,
  shipping_status_updated_at = $4,
  shipping_data = $5,
  updated_at = now()
WHERE company_id = $1 AND id = $2
`, upd.CompanyID, upd.OrderID, models.ShippingStatusCancelled, updatedAt, dataJSON)
	if err != nil {
		return nil, errors.Wrap(err, "update order cancellation")
	}

	if upd.Event != nil {
		if err := insertEvent(ctx, tx, upd.Event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	status := models.ShippingStatusCancelled
	cur.ShippingStatus = &status
	cur.ShippingStatusUpdatedAt = &updatedAt
	cur.ShippingData = data
	return cur, nil
}

// ApplyTrackingSnapshot overwrites the order's status fields with a polled snapshot.
// A cancelled order keeps its status, the status timestamp never moves backwards,
// and a status change appends an order.shipping.status_changed event.
func (s *Storage) ApplyTrackingSnapshot(ctx context.Context, upd TrackingUpdate) (*TrackingUpdated, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := getOrder(ctx, tx, upd.CompanyID, models.ByID(upd.OrderID), true)
	if err != nil {
		return nil, err
	}
	if !cur.IsSent() {
		return nil, models.ErrShipmentNotSent
	}
	if cur.ShippingData.ShipmentID != upd.ShipmentID {
		return nil, models.ErrShipmentConflict
	}

	snap := upd.Snapshot
	prev := models.StateOf(cur)
	status, suppressed := models.ResolvePolledStatus(prev, snap.Status)
	updatedAt := models.LaterOf(cur.ShippingStatusUpdatedAt, snap.CheckedAt.UTC())

	tracking := cur.ShippingTrackingNumber
	if snap.TrackingNumber != "" {
		tracking = &snap.TrackingNumber
	}

	data := cur.ShippingData
	if snap.StatusRaw != "" {
		data.CarrierStatusRaw = snap.StatusRaw
	}
	if snap.CarrierUpdatedAt != nil {
		at := snap.CarrierUpdatedAt.UTC()
		data.CarrierUpdatedAt = &at
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "encode shipping data")
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET
  shipping_status = $3,
  shipping_status_updated_at = $4,
  shipping_tracking_number = $5,
  shipping_data = $6,
  updated_at = now()
WHERE company_id = $1 AND id = $2
`, upd.CompanyID, upd.OrderID, status, updatedAt, tracking, dataJSON)
	if err != nil {
		return nil, errors.Wrap(err, "update order tracking")
	}

	applied := models.TrackingApplied{
		PreviousStatus: prev,
		Status:         status,
		UpdatedAt:      updatedAt,
		Suppressed:     suppressed,
	}
	if tracking != nil {
		applied.TrackingNumber = *tracking
	}

	cur.ShippingStatus = &status
	cur.ShippingStatusUpdatedAt = &updatedAt
	cur.ShippingTrackingNumber = tracking
	cur.ShippingData = data

	out := &TrackingUpdated{Order: cur, Applied: applied}
	if applied.Changed() {
		ev, err := models.NewOrderEvent(models.EventShippingStatusChanged, cur, map[string]any{
			"orderId":        cur.ID,
			"orderNumber":    cur.OrderNumber,
			"provider":       cur.Provider(),
			"shipmentId":     data.ShipmentID,
			"previousStatus": prev,
			"status":         status,
			"statusRaw":      snap.StatusRaw,
		}, upd.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "build status event")
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return nil, err
		}
		out.Event = ev
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
