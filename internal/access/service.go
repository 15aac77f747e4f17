package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service owns the write side of the engine: direct grant administration
// and the cache invalidation hooks the surrounding application must call
// when it edits roles or assignments.
type Service struct {
	repo     Repository
	resolver *Resolver
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(repo Repository, resolver *Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, logger: logger, validate: validator.New()}
}

// UpsertGrantInput carries a grant create-or-replace request.
type UpsertGrantInput struct {
	PrincipalID  string `validate:"required"`
	ResourceType string `validate:"required"`
	ResourceID   string `validate:"required"`
	Level        string `validate:"required,oneof=READ WRITE ADMIN"`
	GrantedBy    string `validate:"required"`
	ExpiresAt    *time.Time
	Notes        string `validate:"max=500"`
}

// UpsertGrant inserts or replaces the direct grant for the input's
// (principal, type, id) tuple. Grants are not cached, so no invalidation
// happens here: the next restricted-role miss reads the new row live.
func (s *Service) UpsertGrant(ctx context.Context, input UpsertGrantInput) (ResourceAccessGrant, error) {
	if err := s.validate.Struct(input); err != nil {
		return ResourceAccessGrant{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	resourceType, err := ParseResourceType(input.ResourceType)
	if err != nil {
		return ResourceAccessGrant{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if resourceType.IsGlobal() {
		return ResourceAccessGrant{}, fmt.Errorf("%w: grants target concrete resources, not the global scope", ErrInvalidGrant)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return ResourceAccessGrant{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidGrant)
	}

	grant := ResourceAccessGrant{
		ID:           uuid.NewString(),
		PrincipalID:  input.PrincipalID,
		ResourceType: resourceType,
		ResourceID:   input.ResourceID,
		Level:        AccessLevel(input.Level),
		GrantedBy:    input.GrantedBy,
		ExpiresAt:    input.ExpiresAt,
		Notes:        input.Notes,
	}
	stored, err := s.repo.UpsertResourceAccessGrant(ctx, grant)
	if err != nil {
		return ResourceAccessGrant{}, err
	}
	s.logger.Info("resource access grant upserted",
		slog.String("principal", stored.PrincipalID),
		slog.String("resourceType", string(stored.ResourceType)),
		slog.String("resourceId", stored.ResourceID),
		slog.String("level", string(stored.Level)))
	return stored, nil
}

// DeleteGrant removes the grant for the tuple.
func (s *Service) DeleteGrant(ctx context.Context, principalID, resourceType, resourceID string) error {
	parsed, err := ParseResourceType(resourceType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	return s.repo.DeleteResourceAccessGrant(ctx, principalID, parsed, resourceID)
}

// CleanupExpiredGrants sweeps lapsed grants. Correctness never depends on
// it: reads already treat expired grants as absent.
func (s *Service) CleanupExpiredGrants(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpiredGrants(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired resource access grants removed", slog.Int64("count", count))
	}
	return count, nil
}

// OnRoleAssignmentsChanged must be called after a principal's role
// assignments change so the next Resolve reflects them.
func (s *Service) OnRoleAssignmentsChanged(ctx context.Context, principalID string) error {
	return s.resolver.InvalidateUser(ctx, principalID)
}

// OnRolePermissionsChanged must be called after a role's own permission set
// changes. Every holder of the role is affected and there is no reverse
// index, so the whole namespace is invalidated.
func (s *Service) OnRolePermissionsChanged(ctx context.Context) error {
	return s.resolver.InvalidateAll(ctx)
}
