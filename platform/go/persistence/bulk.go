package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultBatchSize applies when a bulk call passes a non-positive batch size.
const DefaultBatchSize = 1000

// Bulk operation names reported to observers.
const (
	BulkOpSoftDelete = "soft_delete"
	BulkOpRestore    = "restore"
	BulkOpHardDelete = "hard_delete"
)

// BulkObserver receives the outcome of every bulk operation.
type BulkObserver interface {
	ObserveBulk(operation, entity string, affected int64, err error)
}

// DeletionStats is the active/deleted split of one table.
type DeletionStats struct {
	Active  int64 `json:"active"`
	Deleted int64 `json:"deleted"`
	Total   int64 `json:"total"`
}

// BulkManager runs set-based soft delete, restore and hard delete in batches.
// Each batch commits in its own transaction; on failure the rows committed so
// far are returned together with the error.
type BulkManager struct {
	db       *DB
	logger   *zap.Logger
	now      func() time.Time
	observer BulkObserver
}

// BulkOption customizes a BulkManager.
type BulkOption func(*BulkManager)

// WithBulkLogger sets the logger.
func WithBulkLogger(logger *zap.Logger) BulkOption {
	return func(m *BulkManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBulkClock overrides the clock used for deletion timestamps and cutoffs.
func WithBulkClock(now func() time.Time) BulkOption {
	return func(m *BulkManager) {
		m.now = now
	}
}

// WithBulkObserver registers an observer, typically the metrics recorder.
func WithBulkObserver(o BulkObserver) BulkOption {
	return func(m *BulkManager) {
		m.observer = o
	}
}

// NewBulkManager builds a manager over db.
func NewBulkManager(db *DB, opts ...BulkOption) *BulkManager {
	if db == nil {
		panic("BulkManager requires db")
	}

	m := &BulkManager{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BulkSoftDelete tombstones the active rows among ids. Already-deleted ids are skipped.
func (m *BulkManager) BulkSoftDelete(ctx context.Context, table Table, ids []uuid.UUID, actor, reason *string, batchSize int) (int64, error) {
	if err := table.requireSoftDelete(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := m.now().UTC()
	query := fmt.Sprintf(`
        UPDATE %s
        SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3, deletion_reason = $4
        WHERE id = ANY($1::uuid[]) AND is_deleted = FALSE`, table.ident())

	total, err := m.inBatches(ctx, ids, batchSize, func(tx pgx.Tx, batch []string) (int64, error) {
		tag, err := tx.Exec(ctx, query, batch, now, actor, reason)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
	m.report(BulkOpSoftDelete, table, int64(len(ids)), total, err)
	return total, err
}

// BulkRestore clears the deletion state of the deleted rows among ids.
func (m *BulkManager) BulkRestore(ctx context.Context, table Table, ids []uuid.UUID, batchSize int) (int64, error) {
	if err := table.requireSoftDelete(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
        UPDATE %s
        SET is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL, deletion_reason = NULL
        WHERE id = ANY($1::uuid[]) AND is_deleted = TRUE`, table.ident())

	total, err := m.inBatches(ctx, ids, batchSize, func(tx pgx.Tx, batch []string) (int64, error) {
		tag, err := tx.Exec(ctx, query, batch)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
	m.report(BulkOpRestore, table, int64(len(ids)), total, err)
	return total, err
}

// HardDeleteBefore physically removes deleted rows whose deleted_at predates
// cutoff, batchSize rows at a time, until nothing matches. Irreversible.
func (m *BulkManager) HardDeleteBefore(ctx context.Context, table Table, cutoff time.Time, batchSize int) (int64, error) {
	if err := table.requireSoftDelete(); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	query := fmt.Sprintf(`
        DELETE FROM %[1]s
        WHERE id IN (
            SELECT id FROM %[1]s
            WHERE is_deleted = TRUE AND deleted_at < $1
            ORDER BY deleted_at
            LIMIT $2
        )`, table.ident())

	var total int64
	for {
		var affected int64
		err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, query, cutoff, batchSize)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
			return nil
		})
		if err != nil {
			err = fmt.Errorf("hard delete %s: %w", table.Entity, err)
			m.report(BulkOpHardDelete, table, total, total, err)
			return total, err
		}
		total += affected
		if affected == 0 {
			break
		}
	}

	m.report(BulkOpHardDelete, table, total, total, nil)
	return total, nil
}

// CleanupOldDeleted hard deletes rows soft-deleted more than retentionDays ago.
func (m *BulkManager) CleanupOldDeleted(ctx context.Context, table Table, retentionDays, batchSize int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention days must be at least 1, got %d", retentionDays)
	}

	cutoff := m.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed, err := m.HardDeleteBefore(ctx, table, cutoff, batchSize)
	if err != nil {
		return removed, err
	}

	m.logger.Info("cleaned up old deleted records",
		zap.String("entity", table.Entity),
		zap.Int("retention_days", retentionDays),
		zap.Time("cutoff", cutoff),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// DeletionStats counts active and deleted rows.
func (m *BulkManager) DeletionStats(ctx context.Context, table Table) (DeletionStats, error) {
	if err := table.requireSoftDelete(); err != nil {
		return DeletionStats{}, err
	}

	query := fmt.Sprintf(`
        SELECT COUNT(*) FILTER (WHERE is_deleted = FALSE), COUNT(*) FILTER (WHERE is_deleted = TRUE)
        FROM %s`, table.ident())

	var stats DeletionStats
	if err := m.db.Querier().QueryRow(ctx, query).Scan(&stats.Active, &stats.Deleted); err != nil {
		return DeletionStats{}, fmt.Errorf("deletion stats %s: %w", table.Entity, err)
	}
	stats.Total = stats.Active + stats.Deleted
	return stats, nil
}

func (m *BulkManager) inBatches(ctx context.Context, ids []uuid.UUID, batchSize int, apply func(tx pgx.Tx, batch []string) (int64, error)) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var total int64
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		batch := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, id.String())
		}

		var affected int64
		err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			affected, err = apply(tx, batch)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("batch starting at %d: %w", start, err)
		}
		total += affected
	}
	return total, nil
}

func (m *BulkManager) report(op string, table Table, requested, affected int64, err error) {
	if m.observer != nil {
		m.observer.ObserveBulk(op, table.Entity, affected, err)
	}

	if err != nil {
		m.logger.Error("bulk operation failed",
			zap.String("operation", op),
			zap.String("entity", table.Entity),
			zap.Int64("committed", affected),
			zap.Error(err),
		)
		return
	}

	m.logger.Debug("bulk operation completed",
		zap.String("operation", op),
		zap.String("entity", table.Entity),
		zap.Int64("requested", requested),
		zap.Int64("affected", affected),
	)
}
