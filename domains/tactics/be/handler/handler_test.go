package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/collabridge/rapport-tracker/domains/tactics/be/service"
)

type mockService struct {
	listFn func(ctx context.Context, domain *string) ([]service.Tactic, error)
}

func (m *mockService) List(ctx context.Context, domain *string) ([]service.Tactic, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, domain)
}

func (m *mockService) Seed(ctx context.Context) (int, error) {
	panic("seed not expected")
}

func serve(t *testing.T, svc service.Service, target string) *httptest.ResponseRecorder {
	t.Helper()

	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListTactics(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.listFn = func(ctx context.Context, domain *string) ([]service.Tactic, error) {
		require.Nil(t, domain)
		return []service.Tactic{{ID: uuid.New(), Name: "Pacing and Leading", Domain: "Communication Studies"}}, nil
	}

	rec := serve(t, svc, "/rapport/tactics")
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "Pacing and Leading", body.Items[0].Name)
}

func TestListTacticsErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "bad domain", err: service.ErrInvalidDomain, status: http.StatusBadRequest},
		{name: "storage", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockService{listFn: func(ctx context.Context, domain *string) ([]service.Tactic, error) {
				return nil, tc.err
			}}
			rec := serve(t, svc, "/rapport/tactics?domain=x")
			require.Equal(t, tc.status, rec.Code)
		})
	}
}
