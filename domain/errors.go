package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure a caller can observe matches exactly one of
// these with errors.Is.
var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrGatewayNotFound        = errors.New("gateway not found")
	ErrSensorNotFound         = errors.New("sensor not found")
	ErrSensorTypeNotFound     = errors.New("sensor type not found")
	ErrSensorAlreadyConnected = errors.New("sensor already connected to a gateway")
	ErrInternal               = errors.New("internal error")
)

// Kind names a taxonomy member.
type Kind int

// Taxonomy kinds
const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindGatewayNotFound
	KindSensorNotFound
	KindSensorTypeNotFound
	KindSensorAlreadyConnected
)

var kindNames = map[Kind]string{
	KindInternal:               "Internal",
	KindInvalidRequest:         "InvalidRequest",
	KindGatewayNotFound:        "GatewayNotFound",
	KindSensorNotFound:         "SensorNotFound",
	KindSensorTypeNotFound:     "SensorTypeNotFound",
	KindSensorAlreadyConnected: "SensorAlreadyConnected",
}

func (k Kind) String() string {
	return kindNames[k]
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrGatewayNotFound):
		return KindGatewayNotFound
	case errors.Is(err, ErrSensorNotFound):
		return KindSensorNotFound
	case errors.Is(err, ErrSensorTypeNotFound):
		return KindSensorTypeNotFound
	case errors.Is(err, ErrSensorAlreadyConnected):
		return KindSensorAlreadyConnected
	default:
		return KindInternal
	}
}

// InvalidRequest builds an InvalidRequest error with a message for the caller.
func InvalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// GatewayNotFound builds a GatewayNotFound error for id.
func GatewayNotFound(id int64) error {
	return fmt.Errorf("%w: %d", ErrGatewayNotFound, id)
}

// SensorNotFound builds a SensorNotFound error for id.
func SensorNotFound(id int64) error {
	return fmt.Errorf("%w: %d", ErrSensorNotFound, id)
}

// SensorTypeNotFound builds a SensorTypeNotFound error for name.
func SensorTypeNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrSensorTypeNotFound, name)
}

// SensorAlreadyConnected builds a SensorAlreadyConnected error.
func SensorAlreadyConnected(sensorID, gatewayID int64) error {
	return fmt.Errorf("%w: sensor %d is connected to gateway %d", ErrSensorAlreadyConnected, sensorID, gatewayID)
}

// Internal wraps an infrastructure failure. Taxonomy errors pass through unchanged.
func Internal(err error) error {
	if err == nil || KindOf(err) != KindInternal || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
