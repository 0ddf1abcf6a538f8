package carrier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newReq(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	require.NoError(t, err)
	return req
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(ProviderFocus, time.Second, nil)

	resp, err := c.Do(newReq(t, context.Background(), srv.URL), false)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(resp.Body))

	status = http.StatusTooManyRequests
	_, err = c.Do(newReq(t, context.Background(), srv.URL), false)
	ce, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, "RATE_LIMITED", ce.Code)
	require.True(t, ce.Retryable)

	status = http.StatusBadGateway
	_, err = c.Do(newReq(t, context.Background(), srv.URL), false)
	ce, ok = AsError(err)
	require.True(t, ok)
	require.Equal(t, "CARRIER_UNAVAILABLE", ce.Code)
	require.Equal(t, http.StatusBadGateway, ce.HTTPStatus)
	require.True(t, ce.Retryable)

	status = http.StatusUnprocessableEntity
	resp, err = c.Do(newReq(t, context.Background(), srv.URL), false)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHTTPClient_TimeoutDependsOnIdempotency(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(ProviderFocus, 50*time.Millisecond, nil)

	_, err := c.Do(newReq(t, context.Background(), srv.URL), true)
	ce, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, "TIMEOUT", ce.Code)
	require.True(t, ce.Retryable)

	_, err = c.Do(newReq(t, context.Background(), srv.URL), false)
	ce, ok = AsError(err)
	require.True(t, ok)
	require.Equal(t, "TIMEOUT_AMBIGUOUS", ce.Code)
	require.False(t, ce.Retryable)
	require.True(t, ce.Ambiguous)
}

func TestHTTPClient_DialFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(ProviderCargo, time.Second, nil)
	_, err := c.Do(newReq(t, context.Background(), url), false)
	ce, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, "NETWORK_ERROR", ce.Code)
	require.True(t, ce.Retryable)
}

func TestHTTPClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(ProviderFocus, time.Second, nil)
	for i := 0; i < 5; i++ {
		_, err := c.Do(newReq(t, context.Background(), srv.URL), true)
		require.ErrorIs(t, err, ErrTransient)
	}

	_, err := c.Do(newReq(t, context.Background(), srv.URL), true)
	ce, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, "CIRCUIT_OPEN", ce.Code)
	require.True(t, ce.Retryable)
	require.Equal(t, 5, calls)
}

func TestHTTPClient_BreakerGaugeCountsPerProvider(t *testing.T) {
	failing := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }
	srvA := httptest.NewServer(http.HandlerFunc(failing))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(failing))
	defer srvB.Close()

	reg := prometheus.NewRegistry()
	c := NewHTTPClient(ProviderCargo, time.Second, metrics.New(reg))
	for _, u := range []string{srvA.URL, srvB.URL} {
		for i := 0; i < 5; i++ {
			_, _ = c.Do(newReq(t, context.Background(), u), true)
		}
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var series int
	var open float64
	for _, f := range families {
		if f.GetName() != "shipping_carrier_breakers_open" {
			continue
		}
		for _, mt := range f.GetMetric() {
			series++
			open += mt.GetGauge().GetValue()
			require.Len(t, mt.GetLabel(), 1)
		}
	}
	require.Equal(t, 1, series)
	require.Equal(t, 2.0, open)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var dst struct{ ID string }
	err := DecodeJSON(ProviderFocus, &Response{StatusCode: 200, Body: []byte("<html>")}, &dst, false)
	ce, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, "MALFORMED_RESPONSE", ce.Code)
	require.False(t, ce.Retryable)
	require.True(t, ce.Ambiguous)
}
