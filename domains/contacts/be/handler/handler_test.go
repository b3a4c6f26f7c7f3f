package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/collabridge/rapport-tracker/domains/contacts/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

type mockService struct {
	createFn           func(ctx context.Context, ownerID uuid.UUID, input service.CreateInput) (service.Contact, error)
	listFn             func(ctx context.Context, ownerID uuid.UUID, opts service.ListOptions) (service.ListResult, error)
	getFn              func(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (service.Contact, error)
	updateFn           func(ctx context.Context, ownerID, id uuid.UUID, input service.UpdateInput) (service.Contact, error)
	deleteFn           func(ctx context.Context, ownerID, id uuid.UUID, input service.DeleteInput) (service.DeleteResult, error)
	restoreFn          func(ctx context.Context, ownerID, id uuid.UUID) (service.Contact, error)
	listInteractionsFn func(ctx context.Context, ownerID, id uuid.UUID, page, pageSize int) (service.InteractionList, error)
}

func (m *mockService) Create(ctx context.Context, ownerID uuid.UUID, input service.CreateInput) (service.Contact, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, ownerID, input)
}

func (m *mockService) List(ctx context.Context, ownerID uuid.UUID, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, ownerID, opts)
}

func (m *mockService) Get(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (service.Contact, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, ownerID, id, includeDeleted)
}

func (m *mockService) Update(ctx context.Context, ownerID, id uuid.UUID, input service.UpdateInput) (service.Contact, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, ownerID, id, input)
}

func (m *mockService) Delete(ctx context.Context, ownerID, id uuid.UUID, input service.DeleteInput) (service.DeleteResult, error) {
	if m.deleteFn == nil {
		panic("deleteFn not configured")
	}
	return m.deleteFn(ctx, ownerID, id, input)
}

func (m *mockService) Restore(ctx context.Context, ownerID, id uuid.UUID) (service.Contact, error) {
	if m.restoreFn == nil {
		panic("restoreFn not configured")
	}
	return m.restoreFn(ctx, ownerID, id)
}

func (m *mockService) ListInteractions(ctx context.Context, ownerID, id uuid.UUID, page, pageSize int) (service.InteractionList, error) {
	if m.listInteractionsFn == nil {
		panic("listInteractionsFn not configured")
	}
	return m.listInteractionsFn(ctx, ownerID, id, page, pageSize)
}

func serveAs(t *testing.T, svc service.Service, userID uuid.UUID, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	h := New(svc, zaptest.NewLogger(t))
	r := chi.NewRouter()
	h.Routes(r)

	if userID != uuid.Nil {
		req = req.WithContext(platformauth.WithUser(req.Context(), &platformauth.UserCredentials{Id: userID.String()}))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateContact(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	contactID := uuid.New()

	svc := &mockService{}
	svc.createFn = func(ctx context.Context, ownerID uuid.UUID, input service.CreateInput) (service.Contact, error) {
		require.Equal(t, owner, ownerID)
		require.Equal(t, "Mentor", input.Level)
		return service.Contact{ID: contactID, UserID: ownerID, Name: input.Name, Level: input.Level}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/contacts", strings.NewReader(`{"name":"Dana","level":"Mentor"}`))
	rec := serveAs(t, svc, owner, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/v1/contacts/"+contactID.String(), rec.Header().Get("Location"))
}

func TestCreateContactValidation(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.createFn = func(ctx context.Context, ownerID uuid.UUID, input service.CreateInput) (service.Contact, error) {
		return service.Contact{}, &service.ValidationError{Fields: service.FieldErrors{"level": {"must be one of: Mentor"}}}
	}

	req := httptest.NewRequest(http.MethodPost, "/contacts", strings.NewReader(`{"name":"Dana","level":"Pal"}`))
	rec := serveAs(t, svc, uuid.New(), req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Contains(t, p.Errors, "level")
}

func TestContactsRequireUser(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	rec := serveAs(t, &mockService{}, uuid.Nil, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetContactNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.getFn = func(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (service.Contact, error) {
		return service.Contact{}, service.ErrNotFound
	}

	req := httptest.NewRequest(http.MethodGet, "/contacts/"+uuid.NewString(), nil)
	rec := serveAs(t, svc, uuid.New(), req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteContactCascade(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.deleteFn = func(ctx context.Context, ownerID, id uuid.UUID, input service.DeleteInput) (service.DeleteResult, error) {
		require.True(t, input.Cascade)
		require.Nil(t, input.Reason)
		return service.DeleteResult{Counts: map[string]int{"Contact": 1, "Interaction": 2}}, nil
	}

	req := httptest.NewRequest(http.MethodDelete, "/contacts/"+uuid.NewString()+"?cascade=true", nil)
	rec := serveAs(t, svc, uuid.New(), req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Counts["Interaction"])
}

func TestRestoreContactConflict(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.restoreFn = func(ctx context.Context, ownerID, id uuid.UUID) (service.Contact, error) {
		return service.Contact{}, service.ErrConflict
	}

	req := httptest.NewRequest(http.MethodPost, "/contacts/"+uuid.NewString()+"/restore", nil)
	rec := serveAs(t, svc, uuid.New(), req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListContactInteractions(t *testing.T) {
	t.Parallel()

	contactID := uuid.New()
	svc := &mockService{}
	svc.listInteractionsFn = func(ctx context.Context, ownerID, id uuid.UUID, page, pageSize int) (service.InteractionList, error) {
		require.Equal(t, contactID, id)
		require.Equal(t, 3, pageSize)
		return service.InteractionList{
			Interactions: []service.Interaction{{ID: uuid.New(), Medium: "In-person", Topic: "coffee", InteractionDatetime: time.Now().UTC()}},
			Page:         1, PageSize: 3, TotalItems: 1, TotalPages: 1,
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/contacts/"+contactID.String()+"/interactions?pageSize=3", nil)
	rec := serveAs(t, svc, uuid.New(), req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body interactionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "coffee", body.Items[0].Topic)
}
