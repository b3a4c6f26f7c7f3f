package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// Repository defines the persistence operations required by the users service.
type Repository interface {
	Create(ctx context.Context, values persistence.Values) (persistence.User, error)
	GetByEmail(ctx context.Context, email string) (persistence.User, error)
	Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (persistence.User, error)
	List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.User], error)
	Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.User, error)
	SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error)
	Restore(ctx context.Context, id uuid.UUID) (bool, error)
}

type postgresRepository struct {
	store *persistence.UserStore
	data  *dataservice.Service[persistence.User]
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.UserStore, data *dataservice.Service[persistence.User]) Repository {
	if store == nil {
		panic("user store is required")
	}
	if data == nil {
		panic("user data service is required")
	}
	return &postgresRepository{store: store, data: data}
}

func (r *postgresRepository) Create(ctx context.Context, values persistence.Values) (persistence.User, error) {
	return r.data.Create(ctx, values)
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (persistence.User, error) {
	return r.store.GetByEmail(ctx, email)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (persistence.User, error) {
	return r.data.Get(ctx, id, dataservice.GetOptions{IncludeDeleted: includeDeleted})
}

func (r *postgresRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.User], error) {
	return r.data.List(ctx, query)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.User, error) {
	return r.data.Update(ctx, id, values)
}

func (r *postgresRepository) SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error) {
	return r.data.SoftDelete(ctx, id, opts)
}

func (r *postgresRepository) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.data.Restore(ctx, id)
}
