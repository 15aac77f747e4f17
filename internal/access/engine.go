package access

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Engine answers allow/deny questions by combining the resolver's flattened
// role view with the direct grant table. It is a pure read component: it
// never mutates the cache or the repository, so any number of goroutines may
// call it concurrently for the same or different principals.
type Engine struct {
	resolver *Resolver
	repo     Repository
	logger   *slog.Logger
	metrics  Metrics
}

// NewEngine constructs an Engine.
func NewEngine(resolver *Resolver, repo Repository, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, repo: repo, logger: logger, metrics: metrics}
}

// Resolver exposes the underlying resolver for invalidation wiring.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// CheckPermission decides whether the principal may exercise perm, optionally
// against a concrete resource. Empty resourceType means "ignore scoping";
// empty resourceID with a type set means "any instance of this type".
//
// Evaluation order: fast negative on the flattened set, global roles
// short-circuit, then the union of all matching restricted roles' id lists,
// then the direct grant table. The restricted id lists are unioned across
// every matching role before the containment test so the outcome does not
// depend on role iteration order.
func (e *Engine) CheckPermission(ctx context.Context, principalID string, perm Permission, resourceType ResourceType, resourceID string) (Decision, error) {
	decision, err := e.checkAtLevel(ctx, principalID, perm, resourceType, resourceID, perm.MinLevel())
	if err != nil {
		return Decision{}, err
	}
	if e.metrics != nil {
		e.metrics.Decision(decision.Allowed)
	}
	return decision, nil
}

// CheckPermissions evaluates several permissions against the same resource
// with a single resolution.
func (e *Engine) CheckPermissions(ctx context.Context, principalID string, perms []Permission, resourceType ResourceType, resourceID string) (map[Permission]Decision, error) {
	resolved, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	decisions := make(map[Permission]Decision, len(perms))
	for _, perm := range perms {
		decision, err := e.decide(ctx, resolved, perm, resourceType, resourceID, perm.MinLevel())
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.Decision(decision.Allowed)
		}
		decisions[perm] = decision
	}
	return decisions, nil
}

func (e *Engine) checkAtLevel(ctx context.Context, principalID string, perm Permission, resourceType ResourceType, resourceID string, minLevel AccessLevel) (Decision, error) {
	resolved, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Decision{}, err
	}
	return e.decide(ctx, resolved, perm, resourceType, resourceID, minLevel)
}

func (e *Engine) decide(ctx context.Context, resolved ResolvedPermissions, perm Permission, resourceType ResourceType, resourceID string, minLevel AccessLevel) (Decision, error) {
	principalID := resolved.PrincipalID

	// Fast negative: the permission is in no role at all, so neither scoping
	// nor the grant table can change the outcome.
	if !resolved.Has(perm) {
		return Decision{}, nil
	}

	var (
		restricted bool
		allowedIDs []string
		seen       = make(map[string]struct{})
	)
	for _, role := range resolved.Roles {
		if !role.Grants(perm) {
			continue
		}
		if role.ResourceType.IsGlobal() {
			return Decision{Allowed: true}, nil
		}
		if resourceType != "" && role.ResourceType == resourceType {
			restricted = true
			for _, id := range role.ResourceIDs {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				allowedIDs = append(allowedIDs, id)
			}
		}
	}

	// No resource scoping requested: holding the permission is enough.
	if resourceType == "" {
		return Decision{Allowed: true}, nil
	}

	if resourceID == "" {
		// Type-level question: allowed when at least one restricted role
		// covers this type, with the id union as the visible scope.
		return Decision{Allowed: restricted, ResourceRestricted: restricted, AllowedResourceIDs: allowedIDs}, nil
	}

	if _, ok := seen[resourceID]; ok {
		return Decision{Allowed: true, ResourceRestricted: true, AllowedResourceIDs: allowedIDs}, nil
	}

	// Restricted roles did not cover the instance: fall through to the
	// direct grant table, read live so revocations take effect immediately.
	grant, err := e.repo.GetResourceAccessGrant(ctx, principalID, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{ResourceRestricted: restricted, AllowedResourceIDs: allowedIDs}, nil
		}
		return Decision{}, err
	}
	if grant.Expired(time.Now()) || !grant.Level.Satisfies(minLevel) {
		return Decision{ResourceRestricted: restricted, AllowedResourceIDs: allowedIDs}, nil
	}
	return Decision{Allowed: true, ResourceRestricted: restricted, AllowedResourceIDs: allowedIDs}, nil
}

// HasPermission reports whether the principal holds perm anywhere, ignoring
// resource scoping.
func (e *Engine) HasPermission(ctx context.Context, principalID string, perm Permission) (bool, error) {
	resolved, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	return resolved.Has(perm), nil
}

// HasAllPermissions quantifies over a permission list with a single
// resolution.
func (e *Engine) HasAllPermissions(ctx context.Context, principalID string, perms ...Permission) (bool, error) {
	resolved, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	return resolved.HasAll(perms...), nil
}

// HasAnyPermission quantifies over a permission list with a single
// resolution.
func (e *Engine) HasAnyPermission(ctx context.Context, principalID string, perms ...Permission) (bool, error) {
	resolved, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	return resolved.HasAny(perms...), nil
}

// HasWriteAccess runs the standard check but requires direct grants to carry
// at least WRITE.
func (e *Engine) HasWriteAccess(ctx context.Context, principalID string, perm Permission, resourceType ResourceType, resourceID string) (Decision, error) {
	return e.checkAtLevel(ctx, principalID, perm, resourceType, resourceID, LevelWrite)
}

// HasAdminAccess runs the standard check but requires direct grants to carry
// ADMIN.
func (e *Engine) HasAdminAccess(ctx context.Context, principalID string, perm Permission, resourceType ResourceType, resourceID string) (Decision, error) {
	return e.checkAtLevel(ctx, principalID, perm, resourceType, resourceID, LevelAdmin)
}

// ParentLookup resolves a child resource id to its parent's id, e.g. a
// turbine to its park. An empty id means the child has no parent.
type ParentLookup func(ctx context.Context, childID string) (string, error)

// HasAccessViaParent allows access to a child resource transitively through
// its declared parent. Exactly one level of indirection is supported; deeper
// chains must be flattened by the caller.
func (e *Engine) HasAccessViaParent(ctx context.Context, principalID string, perm Permission, childType ResourceType, childID string, parentType ResourceType, lookup ParentLookup) (Decision, error) {
	decision, err := e.CheckPermission(ctx, principalID, perm, childType, childID)
	if err != nil {
		return Decision{}, err
	}
	if decision.Allowed {
		return decision, nil
	}
	parentID, err := lookup(ctx, childID)
	if err != nil {
		return Decision{}, err
	}
	if parentID == "" {
		return decision, nil
	}
	return e.CheckPermission(ctx, principalID, perm, parentType, parentID)
}
