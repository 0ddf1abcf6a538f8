package mocks

import (
	"context"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ApplyTrackingSnapshot(ctx context.Context, upd pgshipping.TrackingUpdate) (*pgshipping.TrackingUpdated, error) {
	args := m.Called(ctx, upd)
	var out *pgshipping.TrackingUpdated
	if v := args.Get(0); v != nil {
		out = v.(*pgshipping.TrackingUpdated)
	}
	return out, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, ev *models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
