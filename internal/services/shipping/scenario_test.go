package shipping

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/itadmit/quickshopcrm-sub010/internal/cache/rediscache"
	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	fakecarrier "github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier/fake"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/credentials"
	shippingmocks "github.com/itadmit/quickshopcrm-sub010/internal/services/shipping/mocks"
	"github.com/itadmit/quickshopcrm-sub010/internal/storage/pgshipping"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore keeps orders in memory with the same conditional writes as Postgres.
type memStore struct {
	mu           sync.Mutex
	orders       map[string]*models.Order
	events       []*models.Event
	integrations []*models.Integration
	// failCancels makes the next n cancellation writes fail.
	failCancels int
}

func (s *memStore) GetOrder(_ context.Context, companyID string, ref models.OrderRef) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CompanyID != companyID {
			continue
		}
		if (ref.Kind == models.OrderRefID && o.ID == ref.Value) || (ref.Kind == models.OrderRefNumber && o.OrderNumber == ref.Value) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *memStore) MarkShipmentCreated(_ context.Context, upd pgshipping.ShipmentCreated) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	if (o.ShippingSentAt == nil) != (upd.ExpectedSentAt == nil) ||
		(o.ShippingSentAt != nil && !o.ShippingSentAt.Equal(*upd.ExpectedSentAt)) {
		return nil, models.ErrShipmentConflict
	}
	rec := upd.Record
	status := models.ShippingStatusCreated
	sentAt := rec.SentAt
	statusAt := models.LaterOf(o.ShippingStatusUpdatedAt, sentAt)
	o.ShippingProvider = &rec.Provider
	o.ShippingSentAt = &sentAt
	o.ShippingTrackingNumber = &rec.TrackingNumber
	o.ShippingStatus = &status
	o.ShippingStatusUpdatedAt = &statusAt
	o.ShippingData = o.ShippingData.WithShipment(rec)
	s.events = append(s.events, upd.Event)
	cp := *o
	return &cp, nil
}

func (s *memStore) MarkShipmentCancelled(_ context.Context, upd pgshipping.ShipmentCancelled) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	if o.ShippingData.ShipmentID != upd.ShipmentID {
		return nil, models.ErrShipmentConflict
	}
	if s.failCancels > 0 {
		s.failCancels--
		return nil, errors.New("connection reset")
	}
	status := models.ShippingStatusCancelled
	at := models.LaterOf(o.ShippingStatusUpdatedAt, upd.Cancellation.CancelledAt)
	o.ShippingStatus = &status
	o.ShippingStatusUpdatedAt = &at
	o.ShippingData = o.ShippingData.WithCancellation(upd.Cancellation)
	s.events = append(s.events, upd.Event)
	cp := *o
	return &cp, nil
}

func (s *memStore) AppendEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) ListOrderEvents(_ context.Context, _, orderID string, _, _ int) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EntityID == orderID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memStore) ListActiveIntegrations(_ context.Context, companyID, integrationType string) ([]*models.Integration, error) {
	var out []*models.Integration
	for _, in := range s.integrations {
		if in.CompanyID == companyID && in.Type == integrationType && in.IsActive {
			out = append(out, in)
		}
	}
	return out, nil
}

func TestScenario_SendResendCancelLabel(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.NewClient(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })
	locker := rediscache.NewLocker(rc)

	store := &memStore{
		orders: map[string]*models.Order{
			"o1": {ID: "o1", CompanyID: "c1", OrderNumber: "1001", CustomerName: "Dana", Address: models.Address{Street: "Herzl", City: "Haifa"}},
			"o2": {ID: "o2", CompanyID: "c1", OrderNumber: "1002"},
		},
		integrations: []*models.Integration{{
			ID: "i1", CompanyID: "c1", Type: "focus", APIKey: "key", APISecret: "secret", IsActive: true,
			Config: json.RawMessage(`{"host":"https://focus.example","customerNumber":"77"}`),
		}},
	}

	focus := shippingmocks.NewMockAdapter(carrier.ProviderFocus)
	focus.On("CreateShipment", mock.Anything, mock.Anything, mock.Anything).
		Return(&carrier.Shipment{ShipmentID: "S1", TrackingNumber: "T1"}, nil).Once()
	focus.On("CancelShipment", mock.Anything, "S1", mock.Anything, "customer request").Return(nil).Once()
	focus.On("GetLabel", mock.Anything, "S1", mock.Anything).Return(&carrier.Label{PDF: []byte("%PDF-1.4")}, nil).Twice()

	reg, err := carrier.NewRegistry(focus, shippingmocks.NewMockAdapter(carrier.ProviderCargo), shippingmocks.NewMockAdapter(carrier.ProviderFake))
	require.NoError(t, err)

	m := New(store, credentials.New(store), reg, locker, nil, nil, nil, nil, Config{})
	ctx := context.Background()

	res, err := m.SendOrder(ctx, SendRequest{CompanyID: "c1", Ref: models.ByID("o1"), Provider: "focus", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "S1", res.ShipmentID)
	require.Equal(t, "T1", res.TrackingNumber)

	o1, err := store.GetOrder(ctx, "c1", models.ByID("o1"))
	require.NoError(t, err)
	require.Equal(t, "focus", o1.Provider())
	require.Equal(t, "T1", *o1.ShippingTrackingNumber)
	require.Equal(t, models.ShippingStatusCreated, o1.Status())
	require.NotNil(t, o1.ShippingSentAt)

	_, err = m.SendOrder(ctx, SendRequest{CompanyID: "c1", Ref: models.ByID("o1"), Provider: "focus"})
	se, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeAlreadySent, se.Code)
	focus.AssertNumberOfCalls(t, "CreateShipment", 1)

	cres, err := m.CancelShipment(ctx, CancelRequest{CompanyID: "c1", Ref: models.ByNumber("#1001"), Reason: "customer request"})
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCancelled, cres.Status)
	o1, err = store.GetOrder(ctx, "c1", models.ByID("o1"))
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCancelled, o1.Status())
	require.Equal(t, "customer request", o1.ShippingData.CancelReason)

	for i := 0; i < 2; i++ {
		l, err := m.GetLabel(ctx, "c1", models.ByID("o1"))
		require.NoError(t, err)
		require.Equal(t, "application/pdf", l.ContentType)
	}
	focus.AssertNumberOfCalls(t, "GetLabel", 2)

	_, err = m.SendOrder(ctx, SendRequest{CompanyID: "c1", Ref: models.ByID("o2"), Provider: "unknown-carrier"})
	se, ok = AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeUnsupportedProvider, se.Code)
	require.False(t, se.Retryable)

	events, err := store.ListOrderEvents(ctx, "c1", "o1", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.EventShippingCancelled, events[0].Type)
	require.Equal(t, models.EventShippingSent, events[1].Type)

	// the send lock was released after every attempt
	require.False(t, mr.Exists("lock:send:c1:o1"))
	require.False(t, mr.Exists("lock:send:c1:o2"))
}

func TestScenario_ConcurrentSendsCreateOneShipment(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.NewClient(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })
	locker := rediscache.NewLocker(rc)

	store := &memStore{
		orders: map[string]*models.Order{"o1": {ID: "o1", CompanyID: "c1", OrderNumber: "1001"}},
		integrations: []*models.Integration{{
			CompanyID: "c1", Type: "fake", APIKey: "k", IsActive: true,
		}},
	}

	release := make(chan struct{})
	fake := shippingmocks.NewMockAdapter(carrier.ProviderFake)
	fake.On("CreateShipment", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&carrier.Shipment{ShipmentID: "F1"}, nil)

	reg, err := carrier.NewRegistry(fake, shippingmocks.NewMockAdapter(carrier.ProviderFocus), shippingmocks.NewMockAdapter(carrier.ProviderCargo))
	require.NoError(t, err)
	m := New(store, credentials.New(store), reg, locker, nil, nil, nil, nil, Config{DefaultProvider: "fake"})

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.SendOrder(context.Background(), SendRequest{CompanyID: "c1", Ref: models.ByID("o1")})
		}(i)
	}
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		se, isSE := AsError(err)
		require.True(t, isSE)
		require.Contains(t, []string{CodeSendInProgress, CodeAlreadySent}, se.Code)
		refused++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, refused)
	fake.AssertNumberOfCalls(t, "CreateShipment", 1)
}

func TestScenario_CancelRetryAfterLostWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.NewClient(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	store := &memStore{
		orders: map[string]*models.Order{"o1": {ID: "o1", CompanyID: "c1", OrderNumber: "1001"}},
		integrations: []*models.Integration{{
			CompanyID: "c1", Type: "fake", APIKey: "k", IsActive: true,
		}},
		failCancels: 1,
	}
	reg, err := carrier.NewRegistry(fakecarrier.New(), shippingmocks.NewMockAdapter(carrier.ProviderFocus), shippingmocks.NewMockAdapter(carrier.ProviderCargo))
	require.NoError(t, err)
	m := New(store, credentials.New(store), reg, rediscache.NewLocker(rc), nil, nil, nil, nil, Config{DefaultProvider: "fake"})
	ctx := context.Background()

	sent, err := m.SendOrder(ctx, SendRequest{CompanyID: "c1", Ref: models.ByID("o1")})
	require.NoError(t, err)

	// The carrier cancels the shipment but the local write is lost.
	_, err = m.CancelShipment(ctx, CancelRequest{CompanyID: "c1", Ref: models.ByID("o1"), Reason: "customer request"})
	se, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeInternal, se.Code)
	o1, err := store.GetOrder(ctx, "c1", models.ByID("o1"))
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCreated, o1.Status())

	// The retry meets the carrier's own cancellation and records it.
	res, err := m.CancelShipment(ctx, CancelRequest{CompanyID: "c1", Ref: models.ByID("o1"), Reason: "customer request"})
	require.NoError(t, err)
	require.Equal(t, sent.ShipmentID, res.ShipmentID)
	o1, err = store.GetOrder(ctx, "c1", models.ByID("o1"))
	require.NoError(t, err)
	require.Equal(t, models.ShippingStatusCancelled, o1.Status())
	require.Equal(t, "customer request", o1.ShippingData.CancelReason)

	events, err := store.ListOrderEvents(ctx, "c1", "o1", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.EventShippingCancelled, events[0].Type)

	_, err = m.CancelShipment(ctx, CancelRequest{CompanyID: "c1", Ref: models.ByID("o1")})
	se, ok = AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeAlreadyCancelled, se.Code)
}
