package models

import "github.com/pkg/errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrShipmentNotSent is returned by conditional writes that require an existing shipment.
	ErrShipmentNotSent = errors.New("shipment not sent")
	// ErrShipmentConflict means the order's shipment changed between the read and the conditional write.
	ErrShipmentConflict = errors.New("shipment changed concurrently")
)
