package models

import "strings"

// Local shipment states. Carriers may report other values, which are kept as-is.
const (
	ShippingStatusUnsent    = "unsent"
	ShippingStatusCreated   = "created"
	ShippingStatusInTransit = "in_transit"
	ShippingStatusDelivered = "delivered"
	ShippingStatusException = "exception"
	ShippingStatusCancelled = "cancelled"
	ShippingStatusUnknown   = "unknown"
)

// StateOf returns the local view of the order's shipment state.
func StateOf(o *Order) string {
	if !o.IsSent() {
		return ShippingStatusUnsent
	}
	if s := o.Status(); s != "" {
		return s
	}
	return ShippingStatusCreated
}

// IsTerminal reports whether a polled carrier status may no longer replace s.
func IsTerminal(s string) bool {
	return s == ShippingStatusCancelled
}

// ResolvePolledStatus decides which status to store after a tracking poll.
// A locally recorded cancellation wins over whatever the carrier reports.
func ResolvePolledStatus(current, polled string) (string, bool) {
	if IsTerminal(current) {
		return current, polled != current
	}
	polled = NormalizeStatus(polled)
	if polled == "" {
		return current, false
	}
	return polled, false
}

// CanCancel reports whether a cancel request makes sense from the given local state.
func CanCancel(state string) bool {
	switch state {
	case ShippingStatusUnsent, ShippingStatusCancelled:
		return false
	}
	return true
}

func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
