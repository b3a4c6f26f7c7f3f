package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// PreloadTacticLogs is the GetOptions.Preload name that attaches tactic logs.
const PreloadTacticLogs = "tacticLogs"

// Repository defines the persistence operations required by the interactions service.
type Repository interface {
	CreateWithTacticLogs(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error)
	GetContact(ctx context.Context, id uuid.UUID) (persistence.Contact, error)
	Get(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error)
	List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error)
	Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Interaction, error)
	SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error)
	Restore(ctx context.Context, id uuid.UUID) (bool, error)
}

type postgresRepository struct {
	store    *persistence.InteractionStore
	data     *dataservice.Service[persistence.Interaction]
	contacts *dataservice.Service[persistence.Contact]
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.InteractionStore, data *dataservice.Service[persistence.Interaction], contacts *dataservice.Service[persistence.Contact]) Repository {
	if store == nil {
		panic("interaction store is required")
	}
	if data == nil {
		panic("interaction data service is required")
	}
	if contacts == nil {
		panic("contact data service is required")
	}
	return &postgresRepository{store: store, data: data, contacts: contacts}
}

// TacticLogsPreloader loads the tactic logs of an interaction.
func TacticLogsPreloader(store *persistence.InteractionStore) dataservice.Preloader[persistence.Interaction] {
	return func(ctx context.Context, record *persistence.Interaction) error {
		logs, err := store.ListTacticLogs(ctx, record.ID)
		if err != nil {
			return err
		}
		record.TacticLogs = logs
		return nil
	}
}

func (r *postgresRepository) CreateWithTacticLogs(ctx context.Context, values persistence.Values, logs []persistence.TacticLogValues) (persistence.Interaction, error) {
	return r.store.CreateWithTacticLogs(ctx, r.data.StampCreator(ctx, values), logs)
}

func (r *postgresRepository) GetContact(ctx context.Context, id uuid.UUID) (persistence.Contact, error) {
	return r.contacts.Get(ctx, id, dataservice.GetOptions{})
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
	return r.data.Get(ctx, id, opts)
}

func (r *postgresRepository) List(ctx context.Context, query dataservice.ListQuery) (dataservice.Page[persistence.Interaction], error) {
	return r.data.List(ctx, query)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, values persistence.Values) (persistence.Interaction, error) {
	return r.data.Update(ctx, id, values)
}

func (r *postgresRepository) SoftDelete(ctx context.Context, id uuid.UUID, opts dataservice.DeleteOptions) (dataservice.DeleteResult, error) {
	return r.data.SoftDelete(ctx, id, opts)
}

func (r *postgresRepository) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.data.Restore(ctx, id)
}
