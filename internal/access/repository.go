package access

import (
	"context"
	"time"
)

// Repository defines the persistence operations the engine consumes. The
// surrounding application implements it against its role and grant store;
// PostgresRepository is the reference implementation. Every method is a
// blocking call and must honour context cancellation. A failing repository
// propagates as a hard error so authorization fails closed.
type Repository interface {
	// ListActiveRoleAssignments returns the principal's current assignments
	// with each role's permission set embedded. An unknown principal yields
	// an empty slice, not an error.
	ListActiveRoleAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)

	// GetResourceAccessGrant fetches the direct grant for the tuple, or
	// ErrNotFound. Expired grants are treated as absent.
	GetResourceAccessGrant(ctx context.Context, principalID string, resourceType ResourceType, resourceID string) (ResourceAccessGrant, error)

	// ListAccessibleResourceIDs returns the ids of all unexpired direct
	// grants of at least minLevel for the principal and type.
	ListAccessibleResourceIDs(ctx context.Context, principalID string, resourceType ResourceType, minLevel AccessLevel) ([]string, error)

	// UpsertResourceAccessGrant inserts or replaces the grant for its
	// (principal, type, id) tuple and returns the stored row.
	UpsertResourceAccessGrant(ctx context.Context, grant ResourceAccessGrant) (ResourceAccessGrant, error)

	// DeleteResourceAccessGrant removes the grant for the tuple. Returns
	// ErrNotFound when nothing was deleted.
	DeleteResourceAccessGrant(ctx context.Context, principalID string, resourceType ResourceType, resourceID string) error

	// DeleteExpiredGrants removes grants whose expiry is at or before now
	// and returns how many were removed.
	DeleteExpiredGrants(ctx context.Context, now time.Time) (int64, error)

	// HighestHierarchy returns the maximum role hierarchy across the
	// principal's active assignments, 0 when there are none.
	HighestHierarchy(ctx context.Context, principalID string) (int, error)
}
