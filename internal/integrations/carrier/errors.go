package carrier

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTransient = errors.New("carrier transient failure")
	ErrRejected  = errors.New("carrier rejected request")
	// ErrAlreadyCancelled matches a cancel the carrier refused because the
	// shipment is cancelled on its side already.
	ErrAlreadyCancelled = errors.New("shipment already cancelled at carrier")
)

// CodeAlreadyCancelled is the code every adapter uses for ErrAlreadyCancelled.
const CodeAlreadyCancelled = "ALREADY_CANCELLED"

// Error is the failure type every adapter returns. Retryable is decided by the
// adapter and must not be changed by callers.
type Error struct {
	Provider ProviderID
	Code     string
	Message  string
	// Retryable means repeating the call cannot duplicate a real-world effect.
	Retryable bool
	// Ambiguous means the carrier may have applied the request even though no
	// answer arrived. Such errors are never retryable.
	Ambiguous  bool
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable
	case ErrRejected:
		return !e.Retryable && !e.Ambiguous
	case ErrAlreadyCancelled:
		return e.Code == CodeAlreadyCancelled
	}
	return false
}

func Transient(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Retryable: true, Err: err}
}

func Rejected(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func AlreadyCancelled(message string) *Error {
	return Rejected(CodeAlreadyCancelled, message, nil)
}

func Ambiguous(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Ambiguous: true, Err: err}
}

func (e *Error) WithProvider(p ProviderID) *Error {
	e.Provider = p
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Outcome labels an adapter result for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	ce, ok := AsError(err)
	switch {
	case !ok:
		return "error"
	case ce.Ambiguous:
		return "ambiguous"
	case ce.Retryable:
		return "transient"
	default:
		return "rejected"
	}
}

type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported shipping provider %q", e.Provider)
}
