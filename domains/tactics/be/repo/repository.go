package repo

import (
	"context"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// Repository defines the persistence operations required by the tactics service.
type Repository interface {
	List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.RapportTactic], error)
	Seed(ctx context.Context, tactics []persistence.RapportTactic) (int, error)
}

type postgresRepository struct {
	store *persistence.TacticStore
	data  *dataservice.Service[persistence.RapportTactic]
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.TacticStore, data *dataservice.Service[persistence.RapportTactic]) Repository {
	if store == nil {
		panic("tactic store is required")
	}
	if data == nil {
		panic("tactic data service is required")
	}
	return &postgresRepository{store: store, data: data}
}

func (r *postgresRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.RapportTactic], error) {
	return r.data.List(ctx, query)
}

func (r *postgresRepository) Seed(ctx context.Context, tactics []persistence.RapportTactic) (int, error) {
	return r.store.Seed(ctx, tactics)
}
