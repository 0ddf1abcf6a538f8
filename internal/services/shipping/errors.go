package shipping

import (
	"log/slog"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/credentials"
	"github.com/pkg/errors"
)

// Result codes of the manager. Carrier failures keep the carrier's own code.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadySent         = "ALREADY_SENT"
	CodeNotSent             = "NOT_SENT"
	CodeAlreadyCancelled    = "ALREADY_CANCELLED"
	CodeConfigError         = "CONFIG_ERROR"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeSendInProgress      = "SEND_IN_PROGRESS"
	CodeShipmentConflict    = "SHIPMENT_CONFLICT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInternal            = "INTERNAL_ERROR"

	codeOK = "OK"

	codeCarrierRejected  = "CARRIER_REJECTED"
	codeCarrierTransient = "CARRIER_TRANSIENT"
	codeCarrierAmbiguous = "CARRIER_AMBIGUOUS"
)

// Error is what every manager operation returns on failure.
type Error struct {
	Code    string
	Message string
	// Retryable is true only when repeating the same call may succeed without side effects.
	Retryable bool
	// Carrier is set when the failure came from the carrier adapter.
	Carrier bool
	// ReconcileRequired means the carrier may hold a shipment this order does not know about.
	ReconcileRequired bool
	Err               error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// toError maps any failure onto the manager's error type. Retryability of
// carrier errors is copied as-is.
func toError(op string, err error) *Error {
	if se, ok := AsError(err); ok {
		return se
	}

	if ce, ok := carrier.AsError(err); ok {
		return &Error{
			Code:              ce.Code,
			Message:           ce.Error(),
			Retryable:         ce.Retryable,
			Carrier:           true,
			ReconcileRequired: ce.Ambiguous,
			Err:               err,
		}
	}

	var upe *carrier.UnsupportedProviderError
	var cfgErr *credentials.ConfigurationError
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return &Error{Code: CodeNotFound, Message: "order not found", Err: err}
	case errors.Is(err, models.ErrShipmentNotSent):
		return &Error{Code: CodeNotSent, Message: "order was not sent to a carrier", Err: err}
	case errors.Is(err, models.ErrShipmentConflict):
		return &Error{Code: CodeShipmentConflict, Message: "order shipment changed concurrently", Err: err}
	case errors.As(err, &upe):
		return &Error{Code: CodeUnsupportedProvider, Message: upe.Error(), Err: err}
	case errors.As(err, &cfgErr):
		return &Error{Code: CodeConfigError, Message: cfgErr.Error(), Err: err}
	}

	slog.Error("shipping operation failed", "op", op, "error", err.Error())
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// metricCode is the result label for metrics. Carrier codes are free-form, so
// they are reduced to the carrier outcome.
func metricCode(se *Error) string {
	if !se.Carrier {
		return se.Code
	}
	switch {
	case se.ReconcileRequired:
		return codeCarrierAmbiguous
	case se.Retryable:
		return codeCarrierTransient
	default:
		return codeCarrierRejected
	}
}
