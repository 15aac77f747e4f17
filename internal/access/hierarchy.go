package access

import "context"

// HierarchyClass is a coarse privilege class derived from the numeric role
// hierarchy, used for route-level gating only. Fine-grained decisions always
// go through CheckPermission.
type HierarchyClass string

const (
	ClassSuperadmin HierarchyClass = "SUPERADMIN"
	ClassAdmin      HierarchyClass = "ADMIN"
	ClassManager    HierarchyClass = "MANAGER"
	ClassStaff      HierarchyClass = "STAFF"
	ClassReadOnly   HierarchyClass = "READONLY"
	ClassPortal     HierarchyClass = "PORTAL"
	ClassNone       HierarchyClass = "NONE"
)

// ClassOf maps a hierarchy level to its class using fixed thresholds.
func ClassOf(hierarchy int) HierarchyClass {
	switch {
	case hierarchy >= 100:
		return ClassSuperadmin
	case hierarchy >= 80:
		return ClassAdmin
	case hierarchy >= 60:
		return ClassManager
	case hierarchy >= 50:
		return ClassStaff
	case hierarchy >= 40:
		return ClassReadOnly
	case hierarchy > 0 && hierarchy <= 20:
		return ClassPortal
	default:
		return ClassNone
	}
}

// AtLeast reports whether the class ranks at or above min.
func (c HierarchyClass) AtLeast(min HierarchyClass) bool {
	return classRank(c) >= classRank(min)
}

func classRank(c HierarchyClass) int {
	switch c {
	case ClassSuperadmin:
		return 6
	case ClassAdmin:
		return 5
	case ClassManager:
		return 4
	case ClassStaff:
		return 3
	case ClassReadOnly:
		return 2
	case ClassPortal:
		return 1
	}
	return 0
}

// HighestHierarchy returns the maximum hierarchy across the principal's
// active role assignments, 0 when there are none. Deliberately uncached:
// it is cheap to recompute and only gates coarse routes.
func (e *Engine) HighestHierarchy(ctx context.Context, principalID string) (int, error) {
	return e.repo.HighestHierarchy(ctx, principalID)
}
