package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"timesheet/internal/cron"
	"timesheet/internal/integration"
	"timesheet/internal/models"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type IntegrationReader interface {
	FindByID(ctx context.Context, id string) (*models.Integration, error)
	FindByWorkspace(ctx context.Context, workspaceID string) ([]models.Integration, error)
}

// ConfigStore is the write side of integrations; *integration.Store satisfies it.
type ConfigStore interface {
	Create(ctx context.Context, integ *models.Integration, cfg integration.Config) error
	Persist(ctx context.Context, integ *models.Integration, cfg integration.Config) error
	Delete(ctx context.Context, integrationID string) error
	ResolveForDisplay(ctx context.Context, integ *models.Integration) (integration.Config, error)
}

type RunLister interface {
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]models.IntegrationRun, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (cron.Result, error)
}

// IntegrationHandler serves integration CRUD, run history and reconciliation.
type IntegrationHandler struct {
	integrations IntegrationReader
	store        ConfigStore
	runs         RunLister
	reconciler   Reconciler
	logger       *zap.Logger
}

func NewIntegrationHandler(integrations IntegrationReader, store ConfigStore, runs RunLister, reconciler Reconciler, logger *zap.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		integrations: integrations,
		store:        store,
		runs:         runs,
		reconciler:   reconciler,
		logger:       logger,
	}
}

// integrationView is an integration with its config, secrets masked.
type integrationView struct {
	*models.Integration
	Config json.RawMessage `json:"config,omitempty"`
}

// Create handles POST /api/integrations.
func (h *IntegrationHandler) Create(c echo.Context) error {
	var req models.CreateIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.WorkspaceID) == "" || strings.TrimSpace(req.Name) == "" {
		return errorResponse(c, http.StatusBadRequest, "workspaceId and name are required")
	}
	cfg, err := integration.ParseConfig(req.Config)
	if err != nil {
		return h.fail(c, err)
	}

	integ := &models.Integration{
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Name:        strings.TrimSpace(req.Name),
	}
	if err := h.store.Create(c.Request().Context(), integ, cfg); err != nil {
		return h.fail(c, err)
	}
	return createdResponse(c, "Integration created", h.view(c.Request().Context(), integ))
}

// List handles GET /api/integrations?workspaceId=.
func (h *IntegrationHandler) List(c echo.Context) error {
	workspaceID := c.QueryParam("workspaceId")
	if workspaceID == "" {
		return errorResponse(c, http.StatusBadRequest, "workspaceId is required")
	}
	integrations, err := h.integrations.FindByWorkspace(c.Request().Context(), workspaceID)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "Successful", integrations)
}

// Get handles GET /api/integrations/:id. The config is shown with secrets masked.
func (h *IntegrationHandler) Get(c echo.Context) error {
	integ, err := h.integrations.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	cfg, err := h.store.ResolveForDisplay(c.Request().Context(), integ)
	if err != nil {
		return h.fail(c, err)
	}
	raw, err := integration.MarshalConfig(cfg)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "Successful", integrationView{Integration: integ, Config: raw})
}

// UpdateConfig handles PUT /api/integrations/:id/config. The integration type cannot change.
func (h *IntegrationHandler) UpdateConfig(c echo.Context) error {
	var req models.UpdateIntegrationConfigRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	cfg, err := integration.ParseConfig(req.Config)
	if err != nil {
		return h.fail(c, err)
	}

	ctx := c.Request().Context()
	integ, err := h.integrations.FindByID(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if integ.Type != "" && integ.Type != cfg.Type() {
		return errorResponse(c, http.StatusBadRequest, "integration type cannot change from "+integ.Type+" to "+cfg.Type())
	}
	if err := h.store.Persist(ctx, integ, cfg); err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "Integration updated", h.view(ctx, integ))
}

// Delete handles DELETE /api/integrations/:id.
func (h *IntegrationHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	integ, err := h.integrations.FindByID(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.store.Delete(ctx, integ.ID); err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "Integration deleted", nil)
}

// Runs handles GET /api/integrations/:id/runs?limit=.
func (h *IntegrationHandler) Runs(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultRunLimit)
	if err != nil || limit <= 0 {
		return errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	ctx := c.Request().Context()
	integ, err := h.integrations.FindByID(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	runs, err := h.runs.ListByIntegration(ctx, integ.ID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	if runs == nil {
		runs = []models.IntegrationRun{}
	}
	return successResponse(c, "Successful", runs)
}

// Reconcile handles POST /api/schedule/reconcile.
func (h *IntegrationHandler) Reconcile(c echo.Context) error {
	res, err := h.reconciler.Reconcile(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "Schedule reconciled", res)
}

func (h *IntegrationHandler) view(ctx context.Context, integ *models.Integration) integrationView {
	v := integrationView{Integration: integ}
	cfg, err := h.store.ResolveForDisplay(ctx, integ)
	if err != nil {
		return v
	}
	if raw, err := integration.MarshalConfig(cfg); err == nil {
		v.Config = raw
	}
	return v
}

func (h *IntegrationHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, integration.ErrValidation):
		return errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorResponse(c, http.StatusNotFound, "Integration not found")
	case errors.Is(err, integration.ErrConfigCorrupt):
		return errorResponse(c, http.StatusUnprocessableEntity, "Integration config cannot be read; store a new config to repair it")
	default:
		h.logger.Error("API request failed", zap.String("path", c.Path()), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}
