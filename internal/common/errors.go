// Package common defines shared sentinel errors used across the server
// layers of lifelog. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Storage / entry-manager errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Output projection errors: a referenced durable payload could not be
	// resolved into a client-usable handle.
	ErrDataUnavailable = errors.New("data unavailable")

	// Scheduler dispatch errors.
	ErrConnectorNotFound = errors.New("connector not found")
	ErrRPCNotFound       = errors.New("rpc not found")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Generic/internal flow control.
	ErrInternal = errors.New("internal error")
)
