package carrier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/metrics"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

const maxResponseBody = 16 << 20

var (
	errServerStatus = errors.New("carrier server error")
	errBodyRead     = errors.New("read response body")
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient is the outbound transport shared by the HTTP adapters of one provider.
// Every call has a bounded timeout and goes through a circuit breaker per carrier host.
type HTTPClient struct {
	provider ProviderID
	httpc    *http.Client
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTPClient(provider ProviderID, timeout time.Duration, m *metrics.Metrics) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		provider: provider,
		httpc:    &http.Client{Timeout: timeout},
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *HTTPClient) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(c.provider) + "@" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("carrier circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			c.metrics.BreakerStateChanged(string(c.provider), from == gobreaker.StateOpen, to == gobreaker.StateOpen)
		},
	})
	c.breakers[host] = cb
	return cb
}

// Do executes req and classifies every failure into an *Error.
// idempotent tells whether repeating the request is safe when no answer arrived.
func (c *HTTPClient) Do(req *http.Request, idempotent bool) (*Response, error) {
	cb := c.breaker(req.URL.Host)
	res, err := cb.Execute(func() (interface{}, error) {
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, errors.Wrap(errBodyRead, err.Error())
		}
		r := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if resp.StatusCode >= 500 {
			return r, errServerStatus
		}
		return r, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, Transient("CIRCUIT_OPEN", "carrier temporarily disabled after repeated failures", err).WithProvider(c.provider)
	case errors.Is(err, errServerStatus):
		r := res.(*Response)
		return nil, Transient("CARRIER_UNAVAILABLE", http.StatusText(r.StatusCode), nil).WithProvider(c.provider).WithStatus(r.StatusCode)
	case err != nil:
		return nil, classifyTransportError(req.Context(), err, idempotent).WithProvider(c.provider)
	}

	r := res.(*Response)
	if r.StatusCode == http.StatusTooManyRequests {
		return nil, Transient("RATE_LIMITED", "carrier rate limit", nil).WithProvider(c.provider).WithStatus(r.StatusCode)
	}
	return r, nil
}

func classifyTransportError(ctx context.Context, err error, idempotent bool) *Error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		// The request never left this process.
		return Transient("NETWORK_ERROR", "carrier unreachable", err)
	}

	timedOut := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timedOut = true
	}

	if idempotent {
		if timedOut {
			return Transient("TIMEOUT", "carrier did not answer in time", err)
		}
		if ctx.Err() == context.Canceled {
			return Transient("REQUEST_CANCELLED", "request cancelled by caller", err)
		}
		return Transient("NETWORK_ERROR", "carrier connection failed", err)
	}
	// The carrier may have applied the request.
	return Ambiguous("TIMEOUT_AMBIGUOUS", "carrier outcome unknown, reconcile before retrying", err)
}

// DecodeJSON decodes a successful body. A body that cannot be decoded is a
// non-retryable failure; for non-idempotent calls it is also ambiguous.
func DecodeJSON(p ProviderID, r *Response, dst any, idempotent bool) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		e := Rejected("MALFORMED_RESPONSE", "carrier response could not be decoded", err).WithProvider(p).WithStatus(r.StatusCode)
		e.Ambiguous = !idempotent
		return e
	}
	return nil
}
