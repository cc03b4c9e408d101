// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across catalog, store and session layers.
var (
	// ErrNotFound indicates the requested asset, entry or participant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed request (empty name, bad owner id, ...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensions indicates image dimensions outside the accepted-size policy,
	// or a secondary image whose dimensions differ from the primary one.
	ErrDimensions = errors.New("unsupported dimensions")

	// ErrTooLarge indicates a payload above the maximum asset size.
	ErrTooLarge = errors.New("payload too large")

	// ErrMalformedChunk indicates a chunk that cannot belong to any transfer.
	ErrMalformedChunk = errors.New("malformed chunk")

	// ErrSelected indicates an operation refused because the entry is currently selected.
	ErrSelected = errors.New("entry is selected")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock due to repeated auth failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates the durable store could not be reached or answered non-success.
	ErrUnavailable = errors.New("store unavailable")
)
