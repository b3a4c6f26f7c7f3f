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

	"github.com/collabridge/rapport-tracker/domains/contacts/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/httpx"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type operation string

const (
	createOperation           operation = "contactsCreate"
	listOperation             operation = "contactsList"
	getOperation              operation = "contactsGet"
	updateOperation           operation = "contactsUpdate"
	deleteOperation           operation = "contactsDelete"
	restoreOperation          operation = "contactsRestore"
	listInteractionsOperation operation = "contactsListInteractions"
)

// Handler exposes the contacts service over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("contacts service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the contact endpoints; callers must be authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/contacts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{contactId}", h.Get)
		r.Patch("/{contactId}", h.Update)
		r.Delete("/{contactId}", h.Delete)
		r.Post("/{contactId}/restore", h.Restore)
		r.Get("/{contactId}/interactions", h.ListInteractions)
	})
}

type deletionResponse struct {
	DeletedAt time.Time `json:"deletedAt"`
	DeletedBy *string   `json:"deletedBy,omitempty"`
	Reason    *string   `json:"deletionReason,omitempty"`
}

type contactResponse struct {
	ID                      uuid.UUID         `json:"id"`
	UserID                  uuid.UUID         `json:"userId"`
	Name                    string            `json:"name"`
	Title                   *string           `json:"title,omitempty"`
	Level                   string            `json:"level"`
	CommonGroundNotes       *string           `json:"commonGroundNotes,omitempty"`
	CommunicationStyleNotes *string           `json:"communicationStyleNotes,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
	Deletion                *deletionResponse `json:"deletion,omitempty"`
}

type listResponse struct {
	Items      []contactResponse `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
}

type interactionResponse struct {
	ID                  uuid.UUID `json:"id"`
	InteractionDatetime time.Time `json:"interactionDatetime"`
	Medium              string    `json:"medium"`
	Topic               string    `json:"topic"`
	UserNotes           *string   `json:"userNotes,omitempty"`
	RapportScorePost    int       `json:"rapportScorePost"`
	ObservedNonVerbal   *string   `json:"observedNonVerbal,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

type interactionListResponse struct {
	Items      []interactionResponse `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	TotalItems int                   `json:"totalItems"`
	TotalPages int                   `json:"totalPages"`
}

type deleteResponse struct {
	Deleted bool           `json:"deleted"`
	Counts  map[string]int `json:"counts"`
}

type contactRequest struct {
	Name                    *string `json:"name"`
	Title                   *string `json:"title"`
	Level                   *string `json:"level"`
	CommonGroundNotes       *string `json:"commonGroundNotes"`
	CommunicationStyleNotes *string `json:"communicationStyleNotes"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var body contactRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	created, err := h.svc.Create(r.Context(), ownerID, service.CreateInput{
		Name:                    deref(body.Name),
		Title:                   body.Title,
		Level:                   deref(body.Level),
		CommonGroundNotes:       body.CommonGroundNotes,
		CommunicationStyleNotes: body.CommunicationStyleNotes,
	})
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/contacts/%s", created.ID))
	httpx.WriteJSON(w, http.StatusCreated, toAPIContact(created))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	opts := service.ListOptions{
		Name:  httpx.QueryString(r, "name"),
		Level: httpx.QueryString(r, "level"),
		Sort:  httpx.QueryString(r, "sort"),
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

	items := make([]contactResponse, 0, len(result.Contacts))
	for _, c := range result.Contacts {
		items = append(items, toAPIContact(c))
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

	contact, err := h.svc.Get(r.Context(), ownerID, id, includeDeleted)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIContact(contact))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}

	var body contactRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	updated, err := h.svc.Update(r.Context(), ownerID, id, service.UpdateInput{
		Name:                    body.Name,
		Title:                   body.Title,
		Level:                   body.Level,
		CommonGroundNotes:       body.CommonGroundNotes,
		CommunicationStyleNotes: body.CommunicationStyleNotes,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIContact(updated))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}
	cascade, err := httpx.QueryBool(r, "cascade")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	res, err := h.svc.Delete(r.Context(), ownerID, id, service.DeleteInput{
		Reason:  httpx.QueryString(r, "reason"),
		Cascade: cascade,
	})
	if err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, deleteResponse{Deleted: true, Counts: res.Counts})
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}

	contact, err := h.svc.Restore(r.Context(), ownerID, id)
	if err != nil {
		h.writeError(w, r, err, restoreOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIContact(contact))
}

func (h *Handler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.requireUserAndID(w, r)
	if !ok {
		return
	}
	page, err := httpx.QueryInt(r, "page")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	pageSize, err := httpx.QueryInt(r, "pageSize")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	result, err := h.svc.ListInteractions(r.Context(), ownerID, id, page, pageSize)
	if err != nil {
		h.writeError(w, r, err, listInteractionsOperation)
		return
	}

	items := make([]interactionResponse, 0, len(result.Interactions))
	for _, i := range result.Interactions {
		items = append(items, interactionResponse{
			ID:                  i.ID,
			InteractionDatetime: i.InteractionDatetime,
			Medium:              i.Medium,
			Topic:               i.Topic,
			UserNotes:           i.UserNotes,
			RapportScorePost:    i.RapportScorePost,
			ObservedNonVerbal:   i.ObservedNonVerbal,
			CreatedAt:           i.CreatedAt,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, interactionListResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func toAPIContact(c service.Contact) contactResponse {
	out := contactResponse{
		ID:                      c.ID,
		UserID:                  c.UserID,
		Name:                    c.Name,
		Title:                   c.Title,
		Level:                   c.Level,
		CommonGroundNotes:       c.CommonGroundNotes,
		CommunicationStyleNotes: c.CommunicationStyleNotes,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
	if c.Deletion != nil {
		out.Deletion = &deletionResponse{DeletedAt: c.Deletion.At, DeletedBy: c.Deletion.By, Reason: c.Deletion.Reason}
	}
	return out
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := extractUserID(r.Context())
	if err != nil {
		problem.Write(w, h.buildProblem("Unauthorized", err.Error(), "unauthorized", http.StatusUnauthorized, nil))
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) requireUserAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := httpx.PathUUID(r, "contactId")
	if err != nil {
		h.writeBadRequest(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func extractUserID(ctx context.Context) (uuid.UUID, error) {
	credentials, ok := platformauth.UserFromContext(ctx)
	if !ok || credentials == nil {
		return uuid.Nil, errors.New("missing credentials")
	}

	id, err := uuid.Parse(credentials.Id)
	if err != nil {
		return uuid.Nil, errors.New("invalid user id")
	}

	return id, nil
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
		logger.Error("contacts operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("contact not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("contacts request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return h.buildProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", "validation-error", validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "contact not found", "not-found", nil
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
