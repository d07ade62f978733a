// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/gateway layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	// For mailbox reads this is an expected outcome, not a fault.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates an unknown user key or a missing platform session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates an unparseable request or a missing required field.
	ErrValidation = errors.New("validation")

	// ErrUnencodable indicates a record property whose kind cannot be flattened.
	ErrUnencodable = errors.New("cannot encode")
)
