package mocks

import (
	"context"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/trackingsync"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
	"github.com/stretchr/testify/mock"
)

type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) GetOrder(ctx context.Context, companyID string, ref models.OrderRef) (*models.Order, error) {
	args := m.Called(ctx, companyID, ref)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockOrderStore) MarkShipmentCreated(ctx context.Context, upd pgshipping.ShipmentCreated) (*models.Order, error) {
	args := m.Called(ctx, upd)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockOrderStore) MarkShipmentCancelled(ctx context.Context, upd pgshipping.ShipmentCancelled) (*models.Order, error) {
	args := m.Called(ctx, upd)
	return orderArg(args, 0), args.Error(1)
}

func (m *MockOrderStore) AppendEvent(ctx context.Context, ev *models.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockOrderStore) ListOrderEvents(ctx context.Context, companyID, orderID string, limit, offset int) ([]*models.Event, error) {
	args := m.Called(ctx, companyID, orderID, limit, offset)
	var out []*models.Event
	if v := args.Get(0); v != nil {
		out = v.([]*models.Event)
	}
	return out, args.Error(1)
}

func orderArg(args mock.Arguments, i int) *models.Order {
	if v := args.Get(i); v != nil {
		return v.(*models.Order)
	}
	return nil
}

type MockCredentialResolver struct {
	mock.Mock
}

func (m *MockCredentialResolver) Resolve(ctx context.Context, companyID string, provider carrier.ProviderID) (carrier.Credentials, error) {
	args := m.Called(ctx, companyID, provider)
	return args.Get(0).(carrier.Credentials), args.Error(1)
}

type MockLocker struct {
	mock.Mock
	Released int
}

// Acquire returns a release func that counts calls when the mock grants the lock.
func (m *MockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, key, ttl)
	ok := args.Bool(0)
	if !ok || args.Error(1) != nil {
		return nil, ok, args.Error(1)
	}
	return func(context.Context) error {
		m.Released++
		return nil
	}, true, nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, ev *models.Event) error {
	return m.Called(ctx, ev).Error(0)
}

type MockStateSync struct {
	mock.Mock
}

func (m *MockStateSync) SyncOrder(ctx context.Context, order *models.Order, creds carrier.Credentials, adapter carrier.Adapter, userID string) (*trackingsync.Result, error) {
	args := m.Called(ctx, order, creds, adapter, userID)
	var out *trackingsync.Result
	if v := args.Get(0); v != nil {
		out = v.(*trackingsync.Result)
	}
	return out, args.Error(1)
}

// MockAdapter is a carrier adapter whose provider id is fixed at construction.
type MockAdapter struct {
	mock.Mock
	ID carrier.ProviderID
}

func NewMockAdapter(id carrier.ProviderID) *MockAdapter {
	return &MockAdapter{ID: id}
}

func (m *MockAdapter) Provider() carrier.ProviderID { return m.ID }

func (m *MockAdapter) CreateShipment(ctx context.Context, order *models.Order, creds carrier.Credentials) (*carrier.Shipment, error) {
	args := m.Called(ctx, order, creds)
	var out *carrier.Shipment
	if v := args.Get(0); v != nil {
		out = v.(*carrier.Shipment)
	}
	return out, args.Error(1)
}

func (m *MockAdapter) CancelShipment(ctx context.Context, shipmentID string, creds carrier.Credentials, reason string) error {
	return m.Called(ctx, shipmentID, creds, reason).Error(0)
}

func (m *MockAdapter) GetTrackingStatus(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.TrackingStatus, error) {
	args := m.Called(ctx, shipmentID, creds)
	var out *carrier.TrackingStatus
	if v := args.Get(0); v != nil {
		out = v.(*carrier.TrackingStatus)
	}
	return out, args.Error(1)
}

func (m *MockAdapter) GetLabel(ctx context.Context, shipmentID string, creds carrier.Credentials) (*carrier.Label, error) {
	args := m.Called(ctx, shipmentID, creds)
	var out *carrier.Label
	if v := args.Get(0); v != nil {
		out = v.(*carrier.Label)
	}
	return out, args.Error(1)
}
