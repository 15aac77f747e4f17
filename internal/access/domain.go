package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// GlobalScope marks a role assignment whose permissions apply to every
// resource instance rather than an explicit id list.
const GlobalScope ResourceType = "__global__"

// Permission is a flat capability token of the form "resource:action",
// e.g. "parks:read" or "turbines:update".
type Permission string

// ErrInvalidPermission indicates a malformed permission token.
var ErrInvalidPermission = errors.New("access: invalid permission")

// ParsePermission validates and normalizes a permission token.
func ParsePermission(s string) (Permission, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q must have form resource:action", ErrInvalidPermission, s)
	}
	for _, seg := range parts {
		if seg == "" || !isPermissionSegment(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
		}
	}
	return Permission(s), nil
}

func isPermissionSegment(seg string) bool {
	for _, r := range seg {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// String returns the raw token.
func (p Permission) String() string { return string(p) }

// Action returns the action segment, or "" for a malformed token.
func (p Permission) Action() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[i+1:]
	}
	return ""
}

// MinLevel maps a permission to the minimum grant level that satisfies it.
// Read-style actions need READ, everything else needs WRITE.
func (p Permission) MinLevel() AccessLevel {
	switch p.Action() {
	case "read", "view", "list", "export":
		return LevelRead
	default:
		return LevelWrite
	}
}

// ResourceType tags the kind of domain entity being protected. The engine
// treats it as opaque beyond equality and the global sentinel.
type ResourceType string

// ErrInvalidResourceType indicates an empty or malformed resource type.
var ErrInvalidResourceType = errors.New("access: invalid resource type")

// ParseResourceType validates and normalizes a resource type tag.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", ErrInvalidResourceType
	}
	if strings.EqualFold(s, string(GlobalScope)) {
		return GlobalScope, nil
	}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceType, s)
	}
	return ResourceType(s), nil
}

// IsGlobal reports whether the type is the global sentinel.
func (t ResourceType) IsGlobal() bool { return t == GlobalScope }

// AccessLevel orders direct grants: READ < WRITE < ADMIN.
type AccessLevel string

const (
	LevelRead  AccessLevel = "READ"
	LevelWrite AccessLevel = "WRITE"
	LevelAdmin AccessLevel = "ADMIN"
)

func (l AccessLevel) rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelAdmin:
		return 3
	}
	return 0
}

// Valid reports whether the level is one of the three defined values.
func (l AccessLevel) Valid() bool { return l.rank() > 0 }

// Satisfies reports whether a grant at this level covers the required minimum.
func (l AccessLevel) Satisfies(min AccessLevel) bool {
	return l.rank() >= min.rank() && min.rank() > 0
}

// Role is a named permission bundle with a privilege hierarchy level.
type Role struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsSystem  bool   `json:"isSystem"`
	Hierarchy int    `json:"hierarchy"`
}

// RoleAssignment binds a principal to a role with an access scope. A
// GlobalScope assignment applies everywhere; any other resource type limits
// the role's permissions to the listed instances of that type. A non-global
// assignment with an empty id list grants nothing.
type RoleAssignment struct {
	Role         Role         `json:"role"`
	PrincipalID  string       `json:"principalId"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceIDs  []string     `json:"resourceIds"`
	Permissions  []Permission `json:"permissions"`
}

// ResourceAccessGrant is a direct per-resource override, independent of
// roles. At most one grant exists per (principal, type, id) tuple.
type ResourceAccessGrant struct {
	ID           string       `json:"id"`
	PrincipalID  string       `json:"principalId"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	Level        AccessLevel  `json:"level"`
	GrantedBy    string       `json:"grantedBy"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Expired reports whether the grant has lapsed at the given instant. A grant
// without an expiry never expires.
func (g ResourceAccessGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// ResolvedRole is one role assignment flattened into the cached view,
// keeping the restriction metadata the decision engine needs.
type ResolvedRole struct {
	RoleID       int64        `json:"roleId"`
	Name         string       `json:"name"`
	IsSystem     bool         `json:"isSystem"`
	Hierarchy    int          `json:"hierarchy"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceIDs  []string     `json:"resourceIds"`
	Permissions  []Permission `json:"permissions"`
}

// Grants reports whether the role grants the permission.
func (r ResolvedRole) Grants(perm Permission) bool {
	return containsPermission(r.Permissions, perm)
}

// ResolvedPermissions is the flattened, cacheable view of one principal's
// active role assignments. Permission slices are kept sorted so snapshots
// are deterministic and membership tests stay cheap after a cache round trip.
type ResolvedPermissions struct {
	PrincipalID string         `json:"principalId"`
	Permissions []Permission   `json:"permissions"`
	Roles       []ResolvedRole `json:"roles"`
	ResolvedAt  time.Time      `json:"resolvedAt"`
}

// Has reports whether the union set contains the permission.
func (r ResolvedPermissions) Has(perm Permission) bool {
	return containsPermission(r.Permissions, perm)
}

// HasAll reports whether every permission is in the union set.
func (r ResolvedPermissions) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !r.Has(p) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one permission is in the union set.
func (r ResolvedPermissions) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if r.Has(p) {
			return true
		}
	}
	return false
}

func containsPermission(sorted []Permission, perm Permission) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= perm })
	return i < len(sorted) && sorted[i] == perm
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}

// Decision is the outcome of a permission check. A denial is a normal
// result, not an error; AllowedResourceIDs lets callers explain a scoped
// denial without another round trip.
type Decision struct {
	Allowed            bool     `json:"allowed"`
	ResourceRestricted bool     `json:"resourceRestricted"`
	AllowedResourceIDs []string `json:"allowedResourceIds,omitempty"`
}
