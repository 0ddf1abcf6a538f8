package pgshipping

import (
	"context"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListActiveIntegrations(ctx context.Context, companyID, integrationType string) ([]*models.Integration, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, company_id, type, api_key, api_secret, config, is_active, created_at, updated_at
FROM integrations
WHERE company_id = $1 AND type = $2 AND is_active
ORDER BY created_at
`, companyID, integrationType)
	if err != nil {
		return nil, errors.Wrap(err, "select integrations")
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		var in models.Integration
		var cfg []byte
		if err := rows.Scan(
			&in.ID, &in.CompanyID, &in.Type, &in.APIKey, &in.APISecret, &cfg, &in.IsActive, &in.CreatedAt, &in.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan integration")
		}
		in.Config = cfg
		out = append(out, &in)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
