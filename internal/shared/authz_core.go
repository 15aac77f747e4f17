package shared

// Permissions guarding the engine's own administrative surface.
const (
	PermGrantsView      = "access:grants.view"
	PermGrantsManage    = "access:grants.manage"
	PermCacheInvalidate = "access:cache.invalidate"
)

// CoreScopes lists all permissions the access service itself enforces.
func CoreScopes() []string {
	return []string{
		PermGrantsView,
		PermGrantsManage,
		PermCacheInvalidate,
	}
}
