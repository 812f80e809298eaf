package client

import (
	"errors"
	"fmt"

	"lite-rpc/transport"
)

// ServiceNotFoundError means a lookup returned no providers for the key.
type ServiceNotFoundError struct {
	ServiceKey string
}

func (e *ServiceNotFoundError) Error() string {
	return "service not found: " + e.ServiceKey
}

// TransportError wraps a dial or write failure toward one provider.
type TransportError struct {
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error to %s: %v", e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError carries a FAIL response from the provider.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (code %d): %s", e.Code, e.Message)
}

// IsTimeout reports whether err is an awaiter timeout.
func IsTimeout(err error) bool {
	var te *transport.TimeoutError
	return errors.As(err, &te)
}

// IsServiceNotFound reports whether err is a missing-provider condition.
func IsServiceNotFound(err error) bool {
	var se *ServiceNotFoundError
	return errors.As(err, &se)
}

// IsTransport reports whether err is a dial/write/teardown failure.
func IsTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, transport.ErrConnectionClosed)
}
