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

	"github.com/collabridge/rapport-tracker/domains/users/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/httpx"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type operation string

const (
	registerOperation operation = "authRegister"
	loginOperation    operation = "authLogin"
	listOperation     operation = "usersList"
	getOperation      operation = "usersGet"
	updateOperation   operation = "usersUpdate"
	deleteOperation   operation = "usersDelete"
	restoreOperation  operation = "usersRestore"
	meGetOperation    operation = "usersMe"
	meUpdateOperation operation = "usersUpdateMe"
	meDeleteOperation operation = "usersDeleteMe"
)

// Handler exposes the users service over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("users service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// PublicRoutes mounts registration and login.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
}

// Routes mounts the self-service endpoints; callers must be authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/me", h.Me)
	r.Patch("/users/me", h.UpdateMe)
	r.Delete("/users/me", h.DeleteMe)
}

// AdminRoutes mounts user administration; callers must be admins.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/admin/users", h.List)
	r.Get("/admin/users/{userId}", h.Get)
	r.Patch("/admin/users/{userId}", h.Update)
	r.Delete("/admin/users/{userId}", h.Delete)
	r.Post("/admin/users/{userId}/restore", h.Restore)
}

type deletionResponse struct {
	DeletedAt time.Time `json:"deletedAt"`
	DeletedBy *string   `json:"deletedBy,omitempty"`
	Reason    *string   `json:"deletionReason,omitempty"`
}

type userResponse struct {
	ID               uuid.UUID         `json:"id"`
	Email            string            `json:"email"`
	FullName         string            `json:"fullName"`
	IsActive         bool              `json:"isActive"`
	IsAdmin          bool              `json:"isAdmin"`
	OnboardingStatus string            `json:"onboardingStatus"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Deletion         *deletionResponse `json:"deletion,omitempty"`
}

type listResponse struct {
	Items      []userResponse `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalItems int            `json:"totalItems"`
	TotalPages int            `json:"totalPages"`
}

type deleteResponse struct {
	Deleted bool           `json:"deleted"`
	Counts  map[string]int `json:"counts"`
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateRequest struct {
	FullName *string `json:"fullName"`
	IsActive *bool   `json:"isActive"`
	IsAdmin  *bool   `json:"isAdmin"`
}

type updateMeRequest struct {
	FullName *string `json:"fullName"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	created, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    body.Email,
		FullName: body.FullName,
		Password: body.Password,
	})
	if err != nil {
		h.writeError(w, r, err, registerOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/users/%s", created.ID))
	httpx.WriteJSON(w, http.StatusCreated, toAPIUser(created))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	token, err := h.svc.Login(r.Context(), service.LoginInput{Email: body.Email, Password: body.Password})
	if err != nil {
		h.writeError(w, r, err, loginOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, token)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := buildListOptions(r)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	items := make([]userResponse, 0, len(result.Users))
	for _, user := range result.Users {
		items = append(items, toAPIUser(user))
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
	id, err := httpx.PathUUID(r, "userId")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	includeDeleted, err := httpx.QueryBool(r, "includeDeleted")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	user, err := h.svc.Get(r.Context(), id, includeDeleted)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIUser(user))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "userId")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	var body updateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	updated, err := h.svc.Update(r.Context(), id, service.UpdateInput{
		FullName: body.FullName,
		IsActive: body.IsActive,
		IsAdmin:  body.IsAdmin,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIUser(updated))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "userId")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	cascade, err := httpx.QueryBool(r, "cascade")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	res, err := h.svc.Delete(r.Context(), id, service.DeleteInput{
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
	id, err := httpx.PathUUID(r, "userId")
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	if err := h.svc.Restore(r.Context(), id); err != nil {
		h.writeError(w, r, err, restoreOperation)
		return
	}

	user, err := h.svc.Get(r.Context(), id, false)
	if err != nil {
		h.writeError(w, r, err, restoreOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIUser(user))
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := h.extractUserID(r.Context())
	if err != nil {
		h.writeUnauthorized(w, err)
		return
	}

	user, svcErr := h.svc.Get(r.Context(), userID, false)
	if svcErr != nil {
		h.writeError(w, r, svcErr, meGetOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIUser(user))
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.extractUserID(r.Context())
	if err != nil {
		h.writeUnauthorized(w, err)
		return
	}

	var body updateMeRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	updated, svcErr := h.svc.UpdateSelf(r.Context(), userID, service.UpdateSelfInput{FullName: body.FullName})
	if svcErr != nil {
		h.writeError(w, r, svcErr, meUpdateOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAPIUser(updated))
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.extractUserID(r.Context())
	if err != nil {
		h.writeUnauthorized(w, err)
		return
	}

	res, svcErr := h.svc.DeleteSelf(r.Context(), userID)
	if svcErr != nil {
		h.writeError(w, r, svcErr, meDeleteOperation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, deleteResponse{Deleted: true, Counts: res.Counts})
}

func buildListOptions(r *http.Request) (service.ListOptions, error) {
	opts := service.ListOptions{
		Email: httpx.QueryString(r, "email"),
		Sort:  httpx.QueryString(r, "sort"),
	}

	var err error
	if opts.Page, err = httpx.QueryInt(r, "page"); err != nil {
		return opts, err
	}
	if opts.PageSize, err = httpx.QueryInt(r, "pageSize"); err != nil {
		return opts, err
	}
	if opts.IncludeDeleted, err = httpx.QueryBool(r, "includeDeleted"); err != nil {
		return opts, err
	}
	if opts.OnlyDeleted, err = httpx.QueryBool(r, "onlyDeleted"); err != nil {
		return opts, err
	}

	return opts, nil
}

func toAPIUser(user service.User) userResponse {
	out := userResponse{
		ID:               user.ID,
		Email:            user.Email,
		FullName:         user.FullName,
		IsActive:         user.IsActive,
		IsAdmin:          user.IsAdmin,
		OnboardingStatus: user.OnboardingStatus,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
	if user.Deletion != nil {
		out.Deletion = &deletionResponse{DeletedAt: user.Deletion.At, DeletedBy: user.Deletion.By, Reason: user.Deletion.Reason}
	}
	return out
}

func (h *Handler) extractUserID(ctx context.Context) (uuid.UUID, error) {
	credentials, ok := platformauth.UserFromContext(ctx)
	if !ok || credentials == nil {
		return uuid.Nil, errors.New("missing credentials")
	}

	id, err := uuid.Parse(credentials.Id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id")
	}

	return id, nil
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, err error) {
	problem.Write(w, h.buildProblem("Invalid request", err.Error(), "validation-error", http.StatusBadRequest, nil))
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, err error) {
	problem.Write(w, h.buildProblem("Unauthorized", err.Error(), "unauthorized", http.StatusUnauthorized, nil))
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
		logger.Error("users operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("users resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("users request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return h.buildProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			"one or more fields are invalid",
			"validation-error",
			validationErr.Fields
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized,
			"Unauthorized",
			"invalid email or password",
			"invalid-credentials",
			nil
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"user not found",
			"not-found",
			nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict,
			"Conflict",
			err.Error(),
			"conflict",
			nil
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			"internal-error",
			nil
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int, fieldErrors service.FieldErrors) problem.Details {
	p := problem.New(status, problemType, title, detail)

	if len(fieldErrors) > 0 {
		copied := make(map[string][]string, len(fieldErrors))
		for field, messages := range fieldErrors {
			copied[field] = append([]string(nil), messages...)
		}
		p.Errors = copied
	}

	return p
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
