package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/domains/maintenance/be/service"
	"github.com/collabridge/rapport-tracker/platform/go/httpx"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type operation string

const (
	healthOperation       operation = "maintenanceHealth"
	statsOperation        operation = "maintenanceStats"
	indexesOperation      operation = "maintenanceIndexes"
	bulkDeleteOperation   operation = "maintenanceBulkDelete"
	bulkRestoreOperation  operation = "maintenanceBulkRestore"
	cleanupOperation      operation = "maintenanceCleanup"
	updatePolicyOperation operation = "maintenanceUpdatePolicy"
)

// Handler exposes soft-delete maintenance to administrators.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("maintenance service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// AdminRoutes mounts the maintenance endpoints. Callers must already be
// authenticated administrators.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Route("/admin/maintenance", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.UpdatePolicy)
		r.Get("/{entity}/stats", h.Stats)
		r.Get("/{entity}/indexes", h.Indexes)
		r.Post("/{entity}/bulk-delete", h.BulkDelete)
		r.Post("/{entity}/bulk-restore", h.BulkRestore)
		r.Post("/{entity}/cleanup", h.Cleanup)
	})
}

type bulkRequest struct {
	IDs    []uuid.UUID `json:"ids"`
	Reason *string     `json:"reason"`
}

type bulkResponse struct {
	Entity    string `json:"entity"`
	Requested int    `json:"requested"`
	Affected  int64  `json:"affected"`
}

type cleanupRequest struct {
	RetentionDays *int `json:"retentionDays"`
}

type cleanupResponse struct {
	Entity        string `json:"entity"`
	RetentionDays int    `json:"retentionDays"`
	Removed       int64  `json:"removed"`
}

// Health always answers 200; the report itself carries the verdict.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Health(r.Context())
	if !report.Healthy {
		h.loggerFrom(r.Context()).Warn("database health degraded",
			zap.String("operation", string(healthOperation)),
			zap.String("overall", report.OverallHealth),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		h.writeError(w, r, err, statsOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) Indexes(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Indexes(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		h.writeError(w, r, err, indexesOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	res, err := h.svc.BulkDelete(r.Context(), chi.URLParam(r, "entity"), service.BulkInput{IDs: body.IDs, Reason: body.Reason})
	if err != nil {
		h.writeError(w, r, err, bulkDeleteOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("bulk soft delete completed",
		zap.String("entity", res.Entity),
		zap.Int("requested", res.Requested),
		zap.Int64("affected", res.Affected),
	)
	httpx.WriteJSON(w, http.StatusOK, bulkResponse(res))
}

func (h *Handler) BulkRestore(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	res, err := h.svc.BulkRestore(r.Context(), chi.URLParam(r, "entity"), body.IDs)
	if err != nil {
		h.writeError(w, r, err, bulkRestoreOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bulkResponse(res))
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequest
	if err := httpx.DecodeJSON(r, &body); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		h.writeBadRequest(w, err)
		return
	}

	res, err := h.svc.Cleanup(r.Context(), chi.URLParam(r, "entity"), body.RetentionDays)
	if err != nil {
		h.writeError(w, r, err, cleanupOperation)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cleanupResponse(res))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.svc.Policy())
}

// UpdatePolicy overlays the body on the active policy, so omitted options keep
// their current value.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	next := h.svc.Policy()
	if err := httpx.DecodeJSON(r, &next); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	updated, err := h.svc.UpdatePolicy(next)
	if err != nil {
		h.writeError(w, r, err, updatePolicyOperation)
		return
	}

	h.loggerFrom(r.Context()).Info("soft delete policy updated", zap.String("operation", string(updatePolicyOperation)))
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, err error) {
	problem.Write(w, h.buildProblem("Invalid request", err.Error(), "validation-error", http.StatusBadRequest, nil))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	problem.Write(w, h.problemForError(r.Context(), err, op))
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) problem.Details {
	status, title, detail, problemType, fields := h.classifyError(err)

	logger := h.loggerFrom(ctx)
	fieldsForLog := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("maintenance operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("maintenance target not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("maintenance request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return h.buildProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", "validation-error", validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", err.Error(), "not-found", nil
	case errors.Is(err, service.ErrNotSoftDeletable):
		return http.StatusUnprocessableEntity, "Unsupported entity", err.Error(), "not-soft-deletable", nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Conflict", err.Error(), "conflict", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout", "the maintenance operation exceeded the query timeout", "timeout", nil
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", "internal-error", nil
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int, fieldErrors service.FieldErrors) problem.Details {
	p := problem.New(status, problemType, title, detail)
	if len(fieldErrors) > 0 {
		p.Errors = map[string][]string(fieldErrors)
	}
	return p
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
