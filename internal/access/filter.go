package access

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// FilteredResult is the outcome of filtering a collection by access.
type FilteredResult[T any] struct {
	Items                   []T  `json:"items"`
	TotalCount              int  `json:"totalCount"`
	FilteredCount           int  `json:"filteredCount"`
	HasResourceRestrictions bool `json:"hasResourceRestrictions"`
}

// Predicate is a structural "allowed ids" filter for pushing access checks
// into a backing store instead of loading rows and discarding them. A nil
// *Predicate means unrestricted: no filtering needed.
type Predicate struct {
	IDs []string `json:"ids"`
}

// Match reports whether a resource id passes the predicate.
func (p *Predicate) Match(id string) bool {
	if p == nil {
		return true
	}
	for _, allowed := range p.IDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// SQL renders the predicate as a where-clause fragment for the given column,
// with its id list bound at the given positional argument. An empty allowed
// set renders FALSE so no rows ever leak.
func (p *Predicate) SQL(column string, argIndex int) (string, []any) {
	if p == nil {
		return "TRUE", nil
	}
	if len(p.IDs) == 0 {
		return "FALSE", nil
	}
	return fmt.Sprintf("%s = ANY($%d)", column, argIndex), []any{p.IDs}
}

// allowedIDSet computes the union of restricted-role ids and unexpired
// direct-grant ids for the principal and type. Either source is sufficient
// for visibility. The two sources are independent, so they are fetched
// concurrently; a global match makes the set irrelevant and is reported via
// unrestricted.
func (e *Engine) allowedIDSet(ctx context.Context, principalID string, resourceType ResourceType, perm Permission) (unrestricted bool, ids map[string]struct{}, err error) {
	minLevel := LevelRead
	if perm != "" {
		minLevel = perm.MinLevel()
	}

	var (
		resolved ResolvedPermissions
		grantIDs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resolved, err = e.resolver.Resolve(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		grantIDs, err = e.repo.ListAccessibleResourceIDs(gctx, principalID, resourceType, minLevel)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, nil, err
	}

	ids = make(map[string]struct{})
	for _, role := range resolved.Roles {
		if perm != "" && !role.Grants(perm) {
			continue
		}
		if role.ResourceType.IsGlobal() {
			return true, nil, nil
		}
		if role.ResourceType != resourceType {
			continue
		}
		for _, id := range role.ResourceIDs {
			ids[id] = struct{}{}
		}
	}
	for _, id := range grantIDs {
		ids[id] = struct{}{}
	}
	return false, ids, nil
}

// FilterByAccess keeps only the items the principal may see. When a global
// role applies the collection is returned unfiltered without any membership
// test. An empty perm filters by visibility alone: any matching restricted
// role or a READ-level grant suffices.
func FilterByAccess[T any](ctx context.Context, e *Engine, principalID string, resourceType ResourceType, perm Permission, items []T, id func(T) string) (FilteredResult[T], error) {
	unrestricted, allowed, err := e.allowedIDSet(ctx, principalID, resourceType, perm)
	if err != nil {
		return FilteredResult[T]{}, err
	}
	if unrestricted {
		return FilteredResult[T]{
			Items:         items,
			TotalCount:    len(items),
			FilteredCount: len(items),
		}, nil
	}

	kept := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := allowed[id(item)]; ok {
			kept = append(kept, item)
		}
	}
	return FilteredResult[T]{
		Items:                   kept,
		TotalCount:              len(items),
		FilteredCount:           len(kept),
		HasResourceRestrictions: true,
	}, nil
}

// BuildWhereClause returns the predicate callers must push into their list
// queries, or nil when the principal is unrestricted for the type. Loading a
// full table and filtering afterwards is never acceptable at scale; this is
// the supported alternative.
func (e *Engine) BuildWhereClause(ctx context.Context, principalID string, resourceType ResourceType, perm Permission) (*Predicate, error) {
	unrestricted, allowed, err := e.allowedIDSet(ctx, principalID, resourceType, perm)
	if err != nil {
		return nil, err
	}
	if unrestricted {
		return nil, nil
	}
	ids := make([]string, 0, len(allowed))
	for id := range allowed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Predicate{IDs: ids}, nil
}
