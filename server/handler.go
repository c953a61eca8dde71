package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"
	"go-easm/models"
	"go-easm/orchestrator"
	"go-easm/workflow"
)

// ActorHeader carries the id of the user behind a request. Identity is
// established upstream; requests without it act as the system.
const ActorHeader = "X-User-ID"

// Dispatcher runs scans in the background.
type Dispatcher interface {
	Submit(ctx context.Context, id uint) (*models.Scan, error)
}

// Capacity reports the scan admission usage.
type Capacity interface {
	Running() int64
	Max() int64
}

// Handler defines an HTTP handler.
type Handler struct {
	scans      *orchestrator.Service // scans defines the orchestrator used in scan operations.
	vulns      *workflow.Machine
	dispatcher Dispatcher
	capacity   Capacity
	metrics    http.Handler
	ping       func(ctx context.Context) error
	tier       string
}

// NewHandler returns a new *Handler.
func NewHandler(scans *orchestrator.Service, vulns *workflow.Machine, dispatcher Dispatcher, capacity Capacity, metrics http.Handler, ping func(context.Context) error, tier string) *Handler {
	return &Handler{
		scans:      scans,
		vulns:      vulns,
		dispatcher: dispatcher,
		capacity:   capacity,
		metrics:    metrics,
		ping:       ping,
		tier:       tier,
	}
}

var invalidData = response{Error: true, Message: "Invalid data provided."}

// fail maps an error to its HTTP status.
func fail(ctx fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrConfiguration):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrValidation):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrCapabilityDisabled):
		status = fiber.StatusForbidden
	case errors.Is(err, models.ErrAdmissionDenied):
		status = fiber.StatusTooManyRequests
	}

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		logrus.Errorf("%s %s: %v", ctx.Method(), ctx.Path(), err)
		message = "Unexpected internal error occurred."
	}
	return ctx.Status(status).JSON(response{Error: true, Message: message})
}

func paramID(ctx fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(ctx.Params("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid id %q", models.ErrValidation, ctx.Params("id"))
	}
	return uint(id), nil
}

func actor(ctx fiber.Ctx) (models.UserID, error) {
	raw := ctx.Get(ActorHeader)
	if raw == "" {
		return models.System, nil
	}
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s header", models.ErrValidation, ActorHeader)
	}
	return models.UserID(id), nil
}

// CreateScanHandler defines the handler for POST /scans.
func (h *Handler) CreateScanHandler(ctx fiber.Ctx) error {
	var data CreateScanAPI
	if err := ctx.Bind().Body(&data); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	if !data.Validate() {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	user, err := actor(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	scan, err := h.scans.CreateScan(ctx.Context(), orchestrator.CreateScanRequest{
		AssetID:    data.AssetID,
		TemplateID: data.TemplateID,
		Target:     data.Target,
		Name:       data.Name,
		Overrides:  data.Config,
		Actor:      user,
	})
	if err != nil {
		return fail(ctx, err)
	}

	if data.Execute {
		if scan, err = h.dispatcher.Submit(ctx.Context(), scan.ID); err != nil {
			return fail(ctx, err)
		}
		return ctx.Status(fiber.StatusAccepted).JSON(scan)
	}
	return ctx.Status(fiber.StatusCreated).JSON(scan)
}

// TriggerScanHandler defines the handler for POST /scans/trigger.
func (h *Handler) TriggerScanHandler(ctx fiber.Ctx) error {
	var data TriggerScanAPI
	if err := ctx.Bind().Body(&data); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	if !data.Validate() {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	user, err := actor(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	res := TriggerResponse{Scans: make([]*models.Scan, 0, len(data.AssetIDs))}
	for _, assetID := range data.AssetIDs {
		scan, err := h.scans.CreateScan(ctx.Context(), orchestrator.CreateScanRequest{
			AssetID:    assetID,
			TemplateID: data.TemplateID,
			Overrides:  data.Config,
			Actor:      user,
		})
		if err == nil {
			scan, err = h.dispatcher.Submit(ctx.Context(), scan.ID)
		}
		if err != nil {
			logrus.Warnf("failed to trigger scan of asset %d: %v", assetID, err)
			res.Errors = append(res.Errors, TriggerError{AssetID: assetID, Message: err.Error()})
			continue
		}
		res.Scans = append(res.Scans, scan)
	}

	if len(res.Scans) == 0 {
		return ctx.Status(fiber.StatusBadRequest).JSON(res)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(res)
}

// GetScanHandler defines the handler for GET /scans/:id.
func (h *Handler) GetScanHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	scan, err := h.scans.GetScan(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusOK).JSON(scan)
}

// ExecuteScanHandler defines the handler for POST /scans/:id/execute.
func (h *Handler) ExecuteScanHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	scan, err := h.dispatcher.Submit(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(scan)
}

// CancelScanHandler defines the handler for POST /scans/:id/cancel.
func (h *Handler) CancelScanHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	scan, err := h.scans.CancelScan(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusOK).JSON(scan)
}

// CreateTemplateHandler defines the handler for POST /templates.
func (h *Handler) CreateTemplateHandler(ctx fiber.Ctx) error {
	var data TemplateAPI
	if err := ctx.Bind().Body(&data); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	if !data.Validate() {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}

	tpl, err := h.scans.CreateTemplate(ctx.Context(), &models.ScanTemplate{
		Name:        data.Name,
		Description: data.Description,
		Patch:       data.Config,
	})
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(tpl)
}

// GetTemplateHandler defines the handler for GET /templates/:id.
func (h *Handler) GetTemplateHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	tpl, err := h.scans.GetTemplate(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusOK).JSON(tpl)
}

// GetVulnerabilityHandler defines the handler for GET /vulnerabilities/:id.
func (h *Handler) GetVulnerabilityHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	v, err := h.vulns.Get(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusOK).JSON(v)
}

// HistoryHandler defines the handler for GET /vulnerabilities/:id/history.
func (h *Handler) HistoryHandler(ctx fiber.Ctx) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}
	events, err := h.vulns.History(ctx.Context(), id)
	if err != nil {
		return fail(ctx, err)
	}
	if events == nil {
		events = []models.VulnerabilityEvent{}
	}
	return ctx.Status(fiber.StatusOK).JSON(events)
}

// vulnerabilityAction binds the body of a workflow request and runs fn.
func vulnerabilityAction[T any](ctx fiber.Ctx, validate func(*T) bool, fn func(id uint, user models.UserID, data *T) (*models.Vulnerability, error)) error {
	id, err := paramID(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	var data T
	if err := ctx.Bind().Body(&data); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}
	if validate != nil && !validate(&data) {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(invalidData)
	}

	user, err := actor(ctx)
	if err != nil {
		return fail(ctx, err)
	}

	v, err := fn(id, user, &data)
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.Status(fiber.StatusOK).JSON(v)
}

// ChangeStateHandler defines the handler for POST /vulnerabilities/:id/state.
func (h *Handler) ChangeStateHandler(ctx fiber.Ctx) error {
	return vulnerabilityAction(ctx, (*StateAPI).Validate, func(id uint, user models.UserID, data *StateAPI) (*models.Vulnerability, error) {
		return h.vulns.ChangeState(ctx.Context(), id, data.State, user)
	})
}

// AssignHandler defines the handler for POST /vulnerabilities/:id/assign.
func (h *Handler) AssignHandler(ctx fiber.Ctx) error {
	return vulnerabilityAction(ctx, (*AssignAPI).Validate, func(id uint, user models.UserID, data *AssignAPI) (*models.Vulnerability, error) {
		return h.vulns.Assign(ctx.Context(), id, data.UserID, user)
	})
}

// AcceptRiskHandler defines the handler for POST /vulnerabilities/:id/accept-risk.
func (h *Handler) AcceptRiskHandler(ctx fiber.Ctx) error {
	return vulnerabilityAction(ctx, nil, func(id uint, user models.UserID, data *AcceptRiskAPI) (*models.Vulnerability, error) {
		return h.vulns.AcceptRisk(ctx.Context(), id, data.Reason, user)
	})
}

// ReopenHandler defines the handler for POST /vulnerabilities/:id/reopen.
func (h *Handler) ReopenHandler(ctx fiber.Ctx) error {
	return vulnerabilityAction(ctx, nil, func(id uint, user models.UserID, data *ReopenAPI) (*models.Vulnerability, error) {
		return h.vulns.Reopen(ctx.Context(), id, user, data.Note)
	})
}

// HealthHandler defines the handler for GET /health.
func (h *Handler) HealthHandler(ctx fiber.Ctx) error {
	res := HealthResponse{Status: "ok", Database: "ok", Tier: h.tier}
	if h.capacity != nil {
		res.RunningScan = h.capacity.Running()
		res.MaxScans = h.capacity.Max()
	}

	status := fiber.StatusOK
	if h.ping != nil {
		if err := h.ping(ctx.Context()); err != nil {
			logrus.Errorf("health check: database unreachable: %v", err)
			res.Status = "degraded"
			res.Database = "unreachable"
			status = fiber.StatusServiceUnavailable
		}
	}
	return ctx.Status(status).JSON(res)
}

// MetricsHandler defines the handler for GET /metrics.
func (h *Handler) MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(h.metrics)
}
