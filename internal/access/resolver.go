package access

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Metrics receives engine events. Implementations must be safe for
// concurrent use; a nil Metrics disables instrumentation.
type Metrics interface {
	CacheHit()
	CacheMiss()
	Decision(allowed bool)
}

// Resolver flattens a principal's active role assignments into a permission
// set, memoized through the cache. It is the single choke point for
// repository load on the decision path: all downstream checks go through
// Resolve so each principal has exactly one cache entry.
type Resolver struct {
	repo    Repository
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics Metrics
	group   singleflight.Group
}

// NewResolver constructs a resolver. The TTL must be positive; zero or
// negative values are a configuration error, rejected here rather than at
// request time.
func NewResolver(repo Repository, cache Cache, ttl time.Duration, logger *slog.Logger, metrics Metrics) (*Resolver, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, cache: cache, ttl: ttl, logger: logger, metrics: metrics}, nil
}

// Resolve returns the principal's flattened permissions, serving from the
// cache when possible. An unknown principal resolves to an empty set, never
// an error. Cache failures degrade to a repository load and are logged; only
// repository failures propagate, so authorization fails closed.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (ResolvedPermissions, error) {
	key := permissionsKey(principalID)

	if payload, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("permission cache get failed, falling back to repository",
			slog.String("principal", principalID), slog.Any("error", err))
	} else if ok {
		var resolved ResolvedPermissions
		if err := json.Unmarshal(payload, &resolved); err != nil {
			r.logger.Warn("permission cache entry corrupt, discarding",
				slog.String("principal", principalID), slog.Any("error", err))
			_ = r.cache.Delete(ctx, key)
		} else {
			if r.metrics != nil {
				r.metrics.CacheHit()
			}
			return resolved, nil
		}
	}
	if r.metrics != nil {
		r.metrics.CacheMiss()
	}

	// Collapse concurrent misses for the same principal into one load. A
	// duplicate populate race would still be harmless (Set is atomic and
	// last-writer-wins), this just spares the repository.
	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.load(ctx, principalID, key)
	})
	if err != nil {
		return ResolvedPermissions{}, err
	}
	return value.(ResolvedPermissions), nil
}

func (r *Resolver) load(ctx context.Context, principalID, key string) (ResolvedPermissions, error) {
	assignments, err := r.repo.ListActiveRoleAssignments(ctx, principalID)
	if err != nil {
		return ResolvedPermissions{}, err
	}
	resolved := flattenAssignments(principalID, assignments)

	payload, err := json.Marshal(resolved)
	if err != nil {
		return ResolvedPermissions{}, fmt.Errorf("access: marshal resolved permissions: %w", err)
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
		r.logger.Warn("permission cache set failed",
			slog.String("principal", principalID), slog.Any("error", err))
	}
	return resolved, nil
}

// InvalidateUser drops one principal's cache entry. Owners of role
// assignment changes must call this so the next Resolve reflects them.
func (r *Resolver) InvalidateUser(ctx context.Context, principalID string) error {
	return r.cache.Delete(ctx, permissionsKey(principalID))
}

// InvalidateAll drops every principal's cache entry. Required when a role's
// own permission set changes, since the affected principal set is unknown
// without a reverse index.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	return r.cache.DeletePattern(ctx, permissionsPattern())
}

func flattenAssignments(principalID string, assignments []RoleAssignment) ResolvedPermissions {
	permSet := make(map[Permission]struct{})
	roles := make([]ResolvedRole, 0, len(assignments))
	for _, a := range assignments {
		perms := make([]Permission, len(a.Permissions))
		copy(perms, a.Permissions)
		sortPermissions(perms)
		roles = append(roles, ResolvedRole{
			RoleID:       a.Role.ID,
			Name:         a.Role.Name,
			IsSystem:     a.Role.IsSystem,
			Hierarchy:    a.Role.Hierarchy,
			ResourceType: a.ResourceType,
			ResourceIDs:  a.ResourceIDs,
			Permissions:  perms,
		})
		for _, p := range a.Permissions {
			permSet[p] = struct{}{}
		}
	}
	union := make([]Permission, 0, len(permSet))
	for p := range permSet {
		union = append(union, p)
	}
	sortPermissions(union)
	return ResolvedPermissions{
		PrincipalID: principalID,
		Permissions: union,
		Roles:       roles,
		ResolvedAt:  time.Now().UTC(),
	}
}
