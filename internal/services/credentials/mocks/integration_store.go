package mocks

import (
	"context"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockIntegrationStore struct {
	mock.Mock
}

func (m *MockIntegrationStore) ListActiveIntegrations(ctx context.Context, companyID, integrationType string) ([]*models.Integration, error) {
	args := m.Called(ctx, companyID, integrationType)
	var out []*models.Integration
	if v := args.Get(0); v != nil {
		out = v.([]*models.Integration)
	}
	return out, args.Error(1)
}
