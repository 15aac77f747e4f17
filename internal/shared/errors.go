package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingPrincipal occurs when a request carries no principal header.
	ErrMissingPrincipal = errors.New("missing principal")
)
