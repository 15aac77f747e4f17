package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides PostgreSQL backed persistence for role
// assignments and direct resource grants.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListActiveRoleAssignments returns the principal's active assignments with
// each role's permission names aggregated in one query.
func (r *PostgresRepository) ListActiveRoleAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ra.resource_type,
		       COALESCE(ra.resource_ids, '{}'),
		       ro.id, ro.name, ro.is_system, ro.hierarchy,
		       COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = ro.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ra.principal_id = $1 AND ra.active
		GROUP BY ra.id, ra.resource_type, ra.resource_ids, ro.id
		ORDER BY ro.hierarchy DESC, ro.id`, principalID)
	if err != nil {
		return nil, fmt.Errorf("access: list role assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		var (
			a         RoleAssignment
			rawType   string
			permNames []string
		)
		if err := rows.Scan(&rawType, &a.ResourceIDs, &a.Role.ID, &a.Role.Name, &a.Role.IsSystem, &a.Role.Hierarchy, &permNames); err != nil {
			return nil, fmt.Errorf("access: scan role assignment: %w", err)
		}
		a.PrincipalID = principalID
		a.ResourceType = ResourceType(rawType)
		a.Permissions = make([]Permission, len(permNames))
		for i, name := range permNames {
			a.Permissions[i] = Permission(name)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("access: list role assignments: %w", err)
	}
	return assignments, nil
}

// GetResourceAccessGrant fetches the unexpired grant for the tuple.
func (r *PostgresRepository) GetResourceAccessGrant(ctx context.Context, principalID string, resourceType ResourceType, resourceID string) (ResourceAccessGrant, error) {
	var g ResourceAccessGrant
	err := r.pool.QueryRow(ctx, `
		SELECT id, principal_id, resource_type, resource_id, level, granted_by,
		       expires_at, COALESCE(notes, ''), created_at, updated_at
		FROM resource_access_grants
		WHERE principal_id = $1 AND resource_type = $2 AND resource_id = $3
		  AND (expires_at IS NULL OR expires_at > now())`,
		principalID, string(resourceType), resourceID,
	).Scan(&g.ID, &g.PrincipalID, &g.ResourceType, &g.ResourceID, &g.Level, &g.GrantedBy, &g.ExpiresAt, &g.Notes, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResourceAccessGrant{}, ErrNotFound
		}
		return ResourceAccessGrant{}, fmt.Errorf("access: get grant: %w", err)
	}
	return g, nil
}

// ListAccessibleResourceIDs returns ids of unexpired grants at or above
// minLevel, so the filter can push membership into the query.
func (r *PostgresRepository) ListAccessibleResourceIDs(ctx context.Context, principalID string, resourceType ResourceType, minLevel AccessLevel) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT resource_id
		FROM resource_access_grants
		WHERE principal_id = $1 AND resource_type = $2
		  AND (expires_at IS NULL OR expires_at > now())
		  AND CASE level WHEN 'READ' THEN 1 WHEN 'WRITE' THEN 2 WHEN 'ADMIN' THEN 3 ELSE 0 END >= $3
		ORDER BY resource_id`,
		principalID, string(resourceType), minLevel.rank())
	if err != nil {
		return nil, fmt.Errorf("access: list accessible ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("access: scan accessible id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("access: list accessible ids: %w", err)
	}
	return ids, nil
}

// UpsertResourceAccessGrant inserts or replaces the grant for its tuple.
func (r *PostgresRepository) UpsertResourceAccessGrant(ctx context.Context, grant ResourceAccessGrant) (ResourceAccessGrant, error) {
	var g ResourceAccessGrant
	err := r.pool.QueryRow(ctx, `
		INSERT INTO resource_access_grants
			(id, principal_id, resource_type, resource_id, level, granted_by, expires_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (principal_id, resource_type, resource_id) DO UPDATE
		SET level = EXCLUDED.level,
		    granted_by = EXCLUDED.granted_by,
		    expires_at = EXCLUDED.expires_at,
		    notes = EXCLUDED.notes,
		    updated_at = now()
		RETURNING id, principal_id, resource_type, resource_id, level, granted_by,
		          expires_at, COALESCE(notes, ''), created_at, updated_at`,
		grant.ID, grant.PrincipalID, string(grant.ResourceType), grant.ResourceID,
		string(grant.Level), grant.GrantedBy, grant.ExpiresAt, grant.Notes,
	).Scan(&g.ID, &g.PrincipalID, &g.ResourceType, &g.ResourceID, &g.Level, &g.GrantedBy, &g.ExpiresAt, &g.Notes, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23503" || pgErr.Code == "23514") {
			return ResourceAccessGrant{}, fmt.Errorf("%w: %s", ErrInvalidGrant, pgErr.Detail)
		}
		return ResourceAccessGrant{}, fmt.Errorf("access: upsert grant: %w", err)
	}
	return g, nil
}

// DeleteResourceAccessGrant removes the grant for the tuple.
func (r *PostgresRepository) DeleteResourceAccessGrant(ctx context.Context, principalID string, resourceType ResourceType, resourceID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM resource_access_grants
		WHERE principal_id = $1 AND resource_type = $2 AND resource_id = $3`,
		principalID, string(resourceType), resourceID)
	if err != nil {
		return fmt.Errorf("access: delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredGrants removes lapsed grants. Lazy expiry in the read paths
// keeps this safe to run at any cadence.
func (r *PostgresRepository) DeleteExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM resource_access_grants
		WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("access: delete expired grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HighestHierarchy returns the principal's maximum active role hierarchy.
func (r *PostgresRepository) HighestHierarchy(ctx context.Context, principalID string) (int, error) {
	var hierarchy int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(ro.hierarchy), 0)
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.principal_id = $1 AND ra.active`, principalID).Scan(&hierarchy)
	if err != nil {
		return 0, fmt.Errorf("access: highest hierarchy: %w", err)
	}
	return hierarchy, nil
}
