package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type OrderRefKind int

const (
	// OrderRefID addresses the order by its primary key (UUID or CUID form, stored as text).
	OrderRefID OrderRefKind = iota + 1
	// OrderRefNumber addresses the order by its human-facing order number.
	OrderRefNumber
)

// OrderRef is an explicitly typed order identifier. Callers pick the lookup
// entry point instead of having the identifier format guessed.
type OrderRef struct {
	Kind  OrderRefKind
	Value string
}

func ByID(id string) OrderRef {
	return OrderRef{Kind: OrderRefID, Value: strings.TrimSpace(id)}
}

func ByUUID(id uuid.UUID) OrderRef {
	return OrderRef{Kind: OrderRefID, Value: id.String()}
}

func ByNumber(number string) OrderRef {
	return OrderRef{Kind: OrderRefNumber, Value: strings.TrimPrefix(strings.TrimSpace(number), "#")}
}

func (r OrderRef) Validate() error {
	if r.Value == "" {
		return errors.New("order reference is empty")
	}
	switch r.Kind {
	case OrderRefID, OrderRefNumber:
		return nil
	default:
		return errors.Errorf("unknown order reference kind %d", r.Kind)
	}
}

func (r OrderRef) String() string {
	if r.Kind == OrderRefNumber {
		return "#" + r.Value
	}
	return r.Value
}
