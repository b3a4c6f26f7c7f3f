package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// Repository defines the persistence operations required by the contacts service.
type Repository interface {
	Create(ctx context.Context, values persistence.Values) (persistence.Contact, error)
	Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (persistence.Contact, error)
	List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Contact], error)
	Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Contact, error)
	SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error)
	Restore(ctx context.Context, id uuid.UUID) (bool, error)
	ListInteractions(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error)
}

type postgresRepository struct {
	contacts     *dataservice.Service[persistence.Contact]
	interactions *dataservice.Service[persistence.Interaction]
}

// NewPostgresRepository constructs a repository backed by the shared data services.
func NewPostgresRepository(contacts *dataservice.Service[persistence.Contact], interactions *dataservice.Service[persistence.Interaction]) Repository {
	if contacts == nil {
		panic("contact data service is required")
	}
	if interactions == nil {
		panic("interaction data service is required")
	}
	return &postgresRepository{contacts: contacts, interactions: interactions}
}

func (r *postgresRepository) Create(ctx context.Context, values persistence.Values) (persistence.Contact, error) {
	return r.contacts.Create(ctx, values)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (persistence.Contact, error) {
	return r.contacts.Get(ctx, id, dataservice.GetOptions{IncludeDeleted: includeDeleted})
}

func (r *postgresRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Contact], error) {
	return r.contacts.List(ctx, query)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Contact, error) {
	return r.contacts.Update(ctx, id, values)
}

func (r *postgresRepository) SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error) {
	return r.contacts.SoftDelete(ctx, id, opts)
}

func (r *postgresRepository) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.contacts.Restore(ctx, id)
}

// ListInteractions pages interactions; callers scope it with contact and owner filters.
func (r *postgresRepository) ListInteractions(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error) {
	return r.interactions.List(ctx, query)
}
