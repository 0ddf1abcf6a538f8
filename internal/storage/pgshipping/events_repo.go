package pgshipping

import (
	"context"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Storage) AppendEvent(ctx context.Context, ev *models.Event) error {
	return insertEvent(ctx, s.db, ev)
}

func insertEvent(ctx context.Context, db execer, ev *models.Event) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := db.Exec(ctx, `
INSERT INTO order_events (id, type, entity_type, entity_id, company_id, payload, user_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, ev.ID, ev.Type, ev.EntityType, ev.EntityID, ev.CompanyID, payload, ev.UserID, ev.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert order event")
	}
	return nil
}

// ListOrderEvents returns the order's events, newest first.
func (s *Storage) ListOrderEvents(ctx context.Context, companyID, orderID string, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, type, entity_type, entity_id, company_id, payload, user_id, created_at
FROM order_events
WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3
ORDER BY created_at DESC, id
LIMIT $4 OFFSET $5
`, companyID, models.EntityTypeOrder, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.EntityType, &e.EntityID, &e.CompanyID, &payload, &e.UserID, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Payload = payload
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
