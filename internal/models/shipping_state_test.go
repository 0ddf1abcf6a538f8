package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateOf(t *testing.T) {
	o := &Order{}
	require.Equal(t, ShippingStatusUnsent, StateOf(o))

	now := time.Now()
	o.ShippingSentAt = &now
	require.Equal(t, ShippingStatusCreated, StateOf(o))

	s := ShippingStatusInTransit
	o.ShippingStatus = &s
	require.Equal(t, ShippingStatusInTransit, StateOf(o))
}

func TestResolvePolledStatus(t *testing.T) {
	cases := []struct {
		current, polled string
		want            string
		suppressed      bool
	}{
		{ShippingStatusCreated, " IN_TRANSIT ", ShippingStatusInTransit, false},
		{ShippingStatusInTransit, "", ShippingStatusInTransit, false},
		{ShippingStatusCancelled, ShippingStatusDelivered, ShippingStatusCancelled, true},
		{ShippingStatusCancelled, ShippingStatusCancelled, ShippingStatusCancelled, false},
		{ShippingStatusDelivered, ShippingStatusException, ShippingStatusException, false},
	}
	for _, tc := range cases {
		got, suppressed := ResolvePolledStatus(tc.current, tc.polled)
		require.Equal(t, tc.want, got, "%s <- %q", tc.current, tc.polled)
		require.Equal(t, tc.suppressed, suppressed, "%s <- %q", tc.current, tc.polled)
	}
}

func TestCanCancel(t *testing.T) {
	require.False(t, CanCancel(ShippingStatusUnsent))
	require.False(t, CanCancel(ShippingStatusCancelled))
	require.True(t, CanCancel(ShippingStatusCreated))
	require.True(t, CanCancel(ShippingStatusInTransit))
	require.True(t, CanCancel("carrier_specific"))
}
