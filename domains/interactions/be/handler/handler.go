package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/domains/interactions/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/httpx"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type operation string

const (
	createOperation  operation = "interactionsCreate"
	listOperation    operation = "interactionsList"
	getOperation     operation = "interactionsGet"
	updateOperation  operation = "interactionsUpdate"
	deleteOperation  operation = "interactionsDelete"
	restoreOperation operation = "interactionsRestore"
)

// Handler exposes the interactions service over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("interactions service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the interaction endpoints; callers must be authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/interactions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{interactionId}", h.Get)
		r.Patch("/{interactionId}", h.Update)
		r.Delete("/{interactionId}", h.Delete)
		r.Post("/{interactionId}/restore", h.Restore)
	})
}

type interactionBody struct {
	ContactID           uuid.UUID `json:"contactId"`
	InteractionDatetime time.Time `json:"interactionDatetime"`
	Medium              string    `json:"medium"`
	Topic               string    `json:"topic"`
	UserNotes           *string   `json:"userNotes"`
	RapportScorePost    int       `json:"rapportScorePost"`
	ObservedNonVerbal   *string   `json:"observedNonVerbal"`
}

type tacticLogBody struct {
	TacticID           uuid.UUID `json:"tacticId"`
	EffectivenessScore *int      `json:"effectivenessScore"`
	Notes              *string   `json:"notes"`
}

type createRequest struct {
	Interaction interactionBody `json:"interaction"`
	TacticLogs  []tacticLogBody `json:"tacticLogs"`
}

type updateRequest struct {
	InteractionDatetime *time.Time `json:"interactionDatetime"`
	Medium              *string    `json:"medium"`
	Topic               *string    `json:"topic"`
	UserNotes           *string    `json:"userNotes"`
	RapportScorePost    *int       `json:"rapportScorePost"`
	ObservedNonVerbal   *string    `json:"observedNonVerbal"`
}

type deletionResponse struct {
	DeletedAt time.Time `json:"deletedAt"`
	DeletedBy *string   `json:"deletedBy,omitempty"`
	Reason    *string   `json:"deletionReason,omitempty"`
}

type tacticLogResponse struct {
	ID                 uuid.UUID `json:"id"`
	TacticID           uuid.UUID `json:"tacticId"`
	EffectivenessScore *int      `json:"effectivenessScore,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
}

type interactionResponse struct {
	ID                  uuid.UUID           `json:"id"`
	UserID              uuid.UUID           `json:"userId"`
	ContactID           uuid.UUID           `json:"contactId"`
	InteractionDatetime time.Time           `json:"interactionDatetime"`
	Medium              string              `json:"medium"`
	Topic               string              `json:"topic"`
	UserNotes           *string             `json:"userNotes,omitempty"`
	RapportScorePost    int                 `json:"rapportScorePost"`
	ObservedNonVerbal   *string             `json:"observedNonVerbal,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
	Deletion            *deletionResponse   `json:"deletion,omitempty"`
	TacticLogs          []tacticLogResponse `json:"tacticLogs,omitempty"`
}

type listResponse struct {
	Items      []interactionResponse `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	TotalItems int                   `json:"totalItems"`
	TotalPages int                   `json:"totalPages"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var body createRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	input := service.CreateInput{
		ContactID:           body.Interaction.ContactID,
		InteractionDatetime: body.Interaction.InteractionDatetime,
		Medium:              body.Interaction.Medium,
		Topic:               body.Interaction.Topic,
		UserNotes:           body.Interaction.UserNotes,
		RapportScorePost:    body.Interaction.RapportScorePost,
		ObservedNonVerbal:   body.Interaction.ObservedNonVerbal,
	}
	for _, l := range body.TacticLogs {
		input.TacticLogs = append(input.TacticLogs, service.TacticLogInput{
			TacticID:           l.TacticID,
			EffectivenessScore: l.EffectivenessScore,
			Notes:              l.Notes,
		})
	}

	created, err := h.svc.Create(r.Context(), ownerID, input)
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/interactions/%s", created.ID))
	httpx.WriteJSON(w, http.StatusCreated, toAPIInteraction(created))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	opts := service.ListOptions{
		Medium: httpx.QueryString(r, "medium"),
		Sort:   httpx.QueryString(r, "sort"),
	}
	if raw := httpx.QueryString(r, "contactId"); raw != nil {
		id, err := uuid.Parse(*raw)
		if err != nil {
			h.writeBadRequest(w, errors.New("contactId must be a valid UUID"))
			return
		}
		opts.ContactID = &id
	}

	var err error
	if opts.Page, err = httpx.QueryInt(r, "page"); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	if opts.PageSize, err = httpx.QueryInt(r, "pageSize"); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	if opts.IncludeDeleted, err = httpx.QueryBool(r, "includeDeleted"); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	if opts.OnlyDeleted, err = httpx.QueryBool(r, "onlyDeleted"); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	result, err := h.svc.List(r.Context(), ownerID, opts)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	items := make([]interactionResponse, 0, len(result.Interactions))
	for _, i := range result.Interactions {
		items = append(items, toAPIInteraction(i))
	}

	httpx.WriteJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}
	includeDeleted, err := httpx.QueryBool(r, "includeDeleted")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	interaction, err := h.svc.Get(r.Context(), ownerID, id, service.GetOptions{
		IncludeDeleted: includeDeleted,
		With:           httpx.QueryList(r, "with"),
	})
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIInteraction(interaction))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	updated, err := h.svc.Update(r.Context(), ownerID, id, service.UpdateInput{
		InteractionDatetime: body.InteractionDatetime,
		Medium:              body.Medium,
		Topic:               body.Topic,
		UserNotes:           body.UserNotes,
		RapportScorePost:    body.RapportScorePost,
		ObservedNonVerbal:   body.ObservedNonVerbal,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIInteraction(updated))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), ownerID, id, service.DeleteInput{Reason: httpx.QueryString(r, "reason")}); err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}

	interaction, err := h.svc.Restore(r.Context(), ownerID, id)
	if err != nil {
		h.writeError(w, r, err, restoreOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIInteraction(interaction))
}

func toAPIInteraction(i service.Interaction) interactionResponse {
	out := interactionResponse{
		ID:                  i.ID,
		UserID:              i.UserID,
		ContactID:           i.ContactID,
		InteractionDatetime: i.InteractionDatetime,
		Medium:              i.Medium,
		Topic:               i.Topic,
		UserNotes:           i.UserNotes,
		RapportScorePost:    i.RapportScorePost,
		ObservedNonVerbal:   i.ObservedNonVerbal,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
	if i.Deletion != nil {
		out.Deletion = &deletionResponse{DeletedAt: i.Deletion.At, DeletedBy: i.Deletion.By, Reason: i.Deletion.Reason}
	}
	for _, l := range i.TacticLogs {
		out.TacticLogs = append(out.TacticLogs, tacticLogResponse{
			ID:                 l.ID,
			TacticID:           l.TacticID,
			EffectivenessScore: l.EffectivenessScore,
			Notes:              l.Notes,
		})
	}
	return out
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	credentials, ok := platformauth.UserFromContext(r.Context())
	if !ok || credentials == nil {
		problem.Write(w, h.buildProblem("Unauthorized", "missing credentials", "unauthorized", http.StatusUnauthorized, nil))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(credentials.Id)
	if err != nil {
		problem.Write(w, h.buildProblem("Unauthorized", "invalid user id", "unauthorized", http.StatusUnauthorized, nil))
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) requireUserAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := httpx.PathUUID(r, "interactionId")
	if err != nil {
		h.writeBadRequest(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
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
		logger.Error("interactions operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("interaction not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("interactions request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return h.buildProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", "validation-error", validationErr.Fields
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Forbidden", service.ErrForbidden.Error(), "forbidden", nil
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "interaction not found", "not-found", nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Conflict", err.Error(), "conflict", nil
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
