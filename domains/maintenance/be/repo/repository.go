package repo

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/platform/go/persistence"
)

// Repository defines the persistence operations required by the maintenance service.
type Repository interface {
	Resolve(entity string) (persistence.Table, error)
	SoftDeletable() []persistence.Table
	Health(ctx context.Context, cfg persistence.HealthConfig, tables []persistence.Table) persistence.HealthReport
	TableStatistics(ctx context.Context, cfg persistence.HealthConfig, table persistence.Table) (persistence.TableStats, error)
	CheckIndexes(ctx context.Context, table persistence.Table) persistence.IndexStatus
	BulkSoftDelete(ctx context.Context, table persistence.Table, ids []uuid.UUID, actor, reason *string, batchSize int) (int64, error)
	BulkRestore(ctx context.Context, table persistence.Table, ids []uuid.UUID, batchSize int) (int64, error)
	CleanupOldDeleted(ctx context.Context, table persistence.Table, retentionDays, batchSize int) (int64, error)
	// CascadeSoftDelete walks dependents only unless includeOwners also follows
	// BelongsTo relations up to owning rows.
	CascadeSoftDelete(ctx context.Context, entity string, id uuid.UUID, actor, reason *string, maxDepth int, includeOwners bool) (map[string]int, error)
}

type postgresRepository struct {
	db       *persistence.DB
	registry *persistence.Registry
	bulk     *persistence.BulkManager
	cascade    *persistence.CascadeDeleter
	dependents *persistence.CascadeDeleter
	logger     *zap.Logger
}

// NewPostgresRepository wires the shared soft-delete machinery for administrative use.
// cascade walks the full registry; dependents walks registry.Dependents().
func NewPostgresRepository(db *persistence.DB, registry *persistence.Registry, bulk *persistence.BulkManager, cascade, dependents *persistence.CascadeDeleter, logger *zap.Logger) Repository {
	if db == nil {
		panic("database is required")
	}
	if registry == nil {
		panic("entity registry is required")
	}
	if bulk == nil || cascade == nil || dependents == nil {
		panic("bulk manager and cascade deleters are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &postgresRepository{db: db, registry: registry, bulk: bulk, cascade: cascade, dependents: dependents, logger: logger}
}

func (r *postgresRepository) Resolve(entity string) (persistence.Table, error) {
	return r.registry.Resolve(entity)
}

func (r *postgresRepository) SoftDeletable() []persistence.Table {
	return r.registry.SoftDeletable()
}

func (r *postgresRepository) checker(cfg persistence.HealthConfig) *persistence.HealthChecker {
	return persistence.NewHealthChecker(r.db.Querier(), cfg, r.logger)
}

func (r *postgresRepository) Health(ctx context.Context, cfg persistence.HealthConfig, tables []persistence.Table) persistence.HealthReport {
	return r.checker(cfg).Report(ctx, tables)
}

func (r *postgresRepository) TableStatistics(ctx context.Context, cfg persistence.HealthConfig, table persistence.Table) (persistence.TableStats, error) {
	return r.checker(cfg).TableStatistics(ctx, table)
}

func (r *postgresRepository) CheckIndexes(ctx context.Context, table persistence.Table) persistence.IndexStatus {
	return r.checker(persistence.HealthConfig{}).CheckIndexes(ctx, table)
}

func (r *postgresRepository) BulkSoftDelete(ctx context.Context, table persistence.Table, ids []uuid.UUID, actor, reason *string, batchSize int) (int64, error) {
	return r.bulk.BulkSoftDelete(ctx, table, ids, actor, reason, batchSize)
}

func (r *postgresRepository) BulkRestore(ctx context.Context, table persistence.Table, ids []uuid.UUID, batchSize int) (int64, error) {
	return r.bulk.BulkRestore(ctx, table, ids, batchSize)
}

func (r *postgresRepository) CleanupOldDeleted(ctx context.Context, table persistence.Table, retentionDays, batchSize int) (int64, error) {
	return r.bulk.CleanupOldDeleted(ctx, table, retentionDays, batchSize)
}

func (r *postgresRepository) CascadeSoftDelete(ctx context.Context, entity string, id uuid.UUID, actor, reason *string, maxDepth int, includeOwners bool) (map[string]int, error) {
	walker := r.dependents
	if includeOwners {
		walker = r.cascade
	}
	return walker.CascadeSoftDelete(ctx, entity, id, actor, reason, maxDepth)
}
