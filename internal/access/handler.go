package access

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/aiolos-energy/aiolos-access/internal/platform/httpx"
	"github.com/aiolos-energy/aiolos-access/internal/shared"
)

// Handler exposes the decision engine over HTTP for the platform's other
// services and the gateway middleware.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	service  *Service
	authz    Middleware
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		service:  service,
		authz:    Middleware{Engine: engine, Logger: logger},
		validate: validator.New(),
	}
}

// MountRoutes registers the decision and admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(600, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if principalID, ok := shared.PrincipalFromContext(r.Context()); ok {
			return principalID, nil
		}
		return r.RemoteAddr, nil
	}))

	r.Group(func(r chi.Router) {
		r.With(limiter).Post("/check", h.check)
		r.With(limiter).Post("/check/batch", h.checkBatch)
		r.Get("/principals/{principalID}/permissions", h.resolvedPermissions)
		r.Get("/principals/{principalID}/hierarchy", h.hierarchy)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(shared.PermGrantsManage))
		r.Put("/grants", h.upsertGrant)
		r.Delete("/grants", h.deleteGrant)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(shared.PermCacheInvalidate))
		r.Post("/invalidate", h.invalidateAll)
		r.Post("/invalidate/{principalID}", h.invalidatePrincipal)
	})
}

type checkRequest struct {
	PrincipalID  string `json:"principalId" validate:"required"`
	Permission   string `json:"permission" validate:"required"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perm, resourceType, ok := h.parseScope(w, req.Permission, req.ResourceType)
	if !ok {
		return
	}

	decision, err := h.engine.CheckPermission(r.Context(), req.PrincipalID, perm, resourceType, req.ResourceID)
	if err != nil {
		h.logger.Error("check permission", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Decision Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

type batchCheckRequest struct {
	PrincipalID  string   `json:"principalId" validate:"required"`
	Permissions  []string `json:"permissions" validate:"required,min=1,dive,required"`
	ResourceType string   `json:"resourceType"`
	ResourceID   string   `json:"resourceId"`
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perms := make([]Permission, 0, len(req.Permissions))
	for _, raw := range req.Permissions {
		perm, err := ParsePermission(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Permission", err.Error())
			return
		}
		perms = append(perms, perm)
	}
	var resourceType ResourceType
	if req.ResourceType != "" {
		var err error
		resourceType, err = ParseResourceType(req.ResourceType)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Resource Type", err.Error())
			return
		}
	}

	decisions, err := h.engine.CheckPermissions(r.Context(), req.PrincipalID, perms, resourceType, req.ResourceID)
	if err != nil {
		h.logger.Error("batch check permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Decision Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (h *Handler) resolvedPermissions(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	resolved, err := h.engine.Resolver().Resolve(r.Context(), principalID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Resolution Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, resolved)
}

func (h *Handler) hierarchy(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	hierarchy, err := h.engine.HighestHierarchy(r.Context(), principalID)
	if err != nil {
		h.logger.Error("highest hierarchy", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Hierarchy Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"hierarchy": hierarchy,
		"class":     ClassOf(hierarchy),
	})
}

type grantRequest struct {
	PrincipalID  string     `json:"principalId" validate:"required"`
	ResourceType string     `json:"resourceType" validate:"required"`
	ResourceID   string     `json:"resourceId" validate:"required"`
	Level        string     `json:"level" validate:"required,oneof=READ WRITE ADMIN"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Notes        string     `json:"notes,omitempty" validate:"max=500"`
}

func (h *Handler) upsertGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	grantedBy, _ := shared.PrincipalFromContext(r.Context())

	grant, err := h.service.UpsertGrant(r.Context(), UpsertGrantInput{
		PrincipalID:  req.PrincipalID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Level:        req.Level,
		GrantedBy:    grantedBy,
		ExpiresAt:    req.ExpiresAt,
		Notes:        req.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Grant", err.Error())
			return
		}
		h.logger.Error("upsert grant", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) deleteGrant(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principalID := q.Get("principalId")
	resourceType := q.Get("resourceType")
	resourceID := q.Get("resourceId")
	if principalID == "" || resourceType == "" || resourceID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principalId, resourceType and resourceId are required")
		return
	}
	if err := h.service.DeleteGrant(r.Context(), principalID, resourceType, resourceID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no such grant")
		case errors.Is(err, ErrInvalidGrant):
			httpx.Problem(w, http.StatusBadRequest, "Invalid Grant", err.Error())
		default:
			h.logger.Error("delete grant", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.OnRolePermissionsChanged(r.Context()); err != nil {
		h.logger.Error("invalidate all", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidatePrincipal(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	if err := h.service.OnRoleAssignmentsChanged(r.Context(), principalID); err != nil {
		h.logger.Error("invalidate principal", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseScope(w http.ResponseWriter, rawPerm, rawType string) (Permission, ResourceType, bool) {
	perm, err := ParsePermission(rawPerm)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Permission", err.Error())
		return "", "", false
	}
	var resourceType ResourceType
	if rawType != "" {
		resourceType, err = ParseResourceType(rawType)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Resource Type", err.Error())
			return "", "", false
		}
	}
	return perm, resourceType, true
}
