package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/domains/tactics/be/service"
	"github.com/collabridge/rapport-tracker/platform/go/httpx"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

// Handler exposes the tactics catalogue over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tactics service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the catalogue endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/rapport/tactics", h.List)
}

type tacticResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Domain      string    `json:"domain"`
}

type listResponse struct {
	Items []tacticResponse `json:"items"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tactics, err := h.svc.List(r.Context(), httpx.QueryString(r, "domain"))
	if err != nil {
		logger := platformlogging.FromRequest(r, h.logger)
		if errors.Is(err, service.ErrInvalidDomain) {
			logger.Warn("tactics request rejected", zap.Error(err))
			p := problem.New(http.StatusBadRequest, "validation-error", "Validation failed", err.Error())
			p.Errors = map[string][]string{"domain": {err.Error()}}
			problem.Write(w, p)
			return
		}
		logger.Error("list tactics failed", zap.Error(err))
		problem.Write(w, problem.New(http.StatusInternalServerError, "internal-error", "Internal server error", "an unexpected error occurred"))
		return
	}

	items := make([]tacticResponse, 0, len(tactics))
	for _, t := range tactics {
		items = append(items, tacticResponse{ID: t.ID, Name: t.Name, Description: t.Description, Domain: t.Domain})
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}
