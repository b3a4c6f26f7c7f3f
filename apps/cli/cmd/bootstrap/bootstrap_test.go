package bootstrap

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	usersservice "github.com/collabridge/rapport-tracker/domains/users/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
)

type mockUsers struct {
	registerFn func(ctx context.Context, input usersservice.RegisterInput) (usersservice.User, error)
	listFn     func(ctx context.Context, opts usersservice.ListOptions) (usersservice.ListResult, error)
	updateFn   func(ctx context.Context, id uuid.UUID, input usersservice.UpdateInput) (usersservice.User, error)
}

func (m *mockUsers) Register(ctx context.Context, input usersservice.RegisterInput) (usersservice.User, error) {
	if m.registerFn == nil {
		panic("registerFn not configured")
	}
	return m.registerFn(ctx, input)
}

func (m *mockUsers) Login(context.Context, usersservice.LoginInput) (platformauth.Token, error) {
	panic("Login not expected")
}

func (m *mockUsers) List(ctx context.Context, opts usersservice.ListOptions) (usersservice.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, opts)
}

func (m *mockUsers) Get(context.Context, uuid.UUID, bool) (usersservice.User, error) {
	panic("Get not expected")
}

func (m *mockUsers) Update(ctx context.Context, id uuid.UUID, input usersservice.UpdateInput) (usersservice.User, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, id, input)
}

func (m *mockUsers) UpdateSelf(context.Context, uuid.UUID, usersservice.UpdateSelfInput) (usersservice.User, error) {
	panic("UpdateSelf not expected")
}

func (m *mockUsers) Delete(context.Context, uuid.UUID, usersservice.DeleteInput) (usersservice.DeleteResult, error) {
	panic("Delete not expected")
}

func (m *mockUsers) DeleteSelf(context.Context, uuid.UUID) (usersservice.DeleteResult, error) {
	panic("DeleteSelf not expected")
}

func (m *mockUsers) Restore(context.Context, uuid.UUID) error {
	panic("Restore not expected")
}

func TestEnsureAdminUserRegistersAndPromotes(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	var promoted usersservice.UpdateInput
	svc := &mockUsers{
		registerFn: func(_ context.Context, input usersservice.RegisterInput) (usersservice.User, error) {
			require.Equal(t, "admin@example.com", input.Email)
			return usersservice.User{ID: id, Email: input.Email, IsActive: true}, nil
		},
		updateFn: func(_ context.Context, got uuid.UUID, input usersservice.UpdateInput) (usersservice.User, error) {
			require.Equal(t, id, got)
			promoted = input
			return usersservice.User{ID: id, Email: "admin@example.com", IsActive: true, IsAdmin: true}, nil
		},
	}

	user, err := ensureAdminUser(context.Background(), svc, "admin@example.com", "Admin", "password123")
	require.NoError(t, err)
	require.True(t, user.IsAdmin)
	require.NotNil(t, promoted.IsAdmin)
	require.True(t, *promoted.IsAdmin)
}

func TestEnsureAdminUserPromotesExistingExactMatch(t *testing.T) {
	t.Parallel()

	target := usersservice.User{ID: uuid.New(), Email: "admin@example.com", IsActive: true}
	svc := &mockUsers{
		registerFn: func(context.Context, usersservice.RegisterInput) (usersservice.User, error) {
			return usersservice.User{}, usersservice.ErrConflict
		},
		listFn: func(context.Context, usersservice.ListOptions) (usersservice.ListResult, error) {
			return usersservice.ListResult{Users: []usersservice.User{
				{ID: uuid.New(), Email: "superadmin@example.com"},
				target,
			}}, nil
		},
		updateFn: func(_ context.Context, id uuid.UUID, _ usersservice.UpdateInput) (usersservice.User, error) {
			require.Equal(t, target.ID, id)
			out := target
			out.IsAdmin = true
			return out, nil
		},
	}

	user, err := ensureAdminUser(context.Background(), svc, "Admin@Example.com", "Admin", "password123")
	require.NoError(t, err)
	require.Equal(t, target.ID, user.ID)
	require.True(t, user.IsAdmin)
}

func TestEnsureAdminUserSkipsUpdateWhenAlreadyAdmin(t *testing.T) {
	t.Parallel()

	existing := usersservice.User{ID: uuid.New(), Email: "admin@example.com", IsActive: true, IsAdmin: true}
	svc := &mockUsers{
		registerFn: func(context.Context, usersservice.RegisterInput) (usersservice.User, error) {
			return usersservice.User{}, usersservice.ErrConflict
		},
		listFn: func(context.Context, usersservice.ListOptions) (usersservice.ListResult, error) {
			return usersservice.ListResult{Users: []usersservice.User{existing}}, nil
		},
	}

	user, err := ensureAdminUser(context.Background(), svc, "admin@example.com", "Admin", "password123")
	require.NoError(t, err)
	require.Equal(t, existing.ID, user.ID)
}

func TestEnsureAdminUserRejectsDeletedHolder(t *testing.T) {
	t.Parallel()

	svc := &mockUsers{
		registerFn: func(context.Context, usersservice.RegisterInput) (usersservice.User, error) {
			return usersservice.User{}, usersservice.ErrConflict
		},
		listFn: func(context.Context, usersservice.ListOptions) (usersservice.ListResult, error) {
			return usersservice.ListResult{}, nil
		},
	}

	_, err := ensureAdminUser(context.Background(), svc, "admin@example.com", "Admin", "password123")
	require.ErrorContains(t, err, "deleted account")
}
