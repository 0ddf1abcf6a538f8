package models

import (
	"encoding/json"
	"time"
)

// Integration is a tenant's stored carrier account. Owned by tenant settings.
type Integration struct {
	ID        string
	CompanyID string
	Type      string
	APIKey    string
	APISecret string
	Config    json.RawMessage
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
