package domain

import (
	"errors"
	"fmt"
)

var ErrSessionNotFound = errors.New("session not found")

// ErrorKind classifies why a remote generation failed.
type ErrorKind string

const (
	// CredentialRejected means the endpoint declined the access key (401/403).
	CredentialRejected ErrorKind = "credential_rejected"
	// RemoteError covers other non-2xx statuses and malformed or empty streams.
	RemoteError ErrorKind = "remote_error"
	// NetworkFailure means the request failed before a usable response arrived.
	NetworkFailure ErrorKind = "network_failure"
)

// TransportError is the only error type a StreamTransport returns.
type TransportError struct {
	Kind   ErrorKind
	Status int // HTTP status when one was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(kind ErrorKind, status int, err error) *TransportError {
	return &TransportError{Kind: kind, Status: status, Err: err}
}

// AsTransportError normalizes any error into a *TransportError.
// Errors of unknown shape are treated as network failures.
func AsTransportError(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: NetworkFailure, Err: err}
}
