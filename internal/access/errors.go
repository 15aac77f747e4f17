package access

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("access: not found")
	// ErrInvalidTTL indicates a non-positive cache TTL at configuration time.
	ErrInvalidTTL = errors.New("access: cache ttl must be positive")
	// ErrInvalidGrant indicates a grant that fails validation.
	ErrInvalidGrant = errors.New("access: invalid grant")
)
