package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var widgetTable = Table{Entity: "Widget", Name: "widgets", SoftDelete: true}

type recordingObserver struct {
	ops      []string
	affected []int64
	errs     []error
}

func (r *recordingObserver) ObserveBulk(operation, entity string, affected int64, err error) {
	r.ops = append(r.ops, operation)
	r.affected = append(r.affected, affected)
	r.errs = append(r.errs, err)
}

func newIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func newTestBulkManager(t *testing.T, pool *fakePool, opts ...BulkOption) *BulkManager {
	t.Helper()
	opts = append([]BulkOption{WithBulkLogger(zaptest.NewLogger(t))}, opts...)
	return NewBulkManager(NewDB(pool), opts...)
}

func TestBulkSoftDeleteEmptyIDsIssuesNoStatement(t *testing.T) {
	t.Parallel()

	pool := &fakePool{tx: &fakeTx{}}
	m := newTestBulkManager(t, pool)

	n, err := m.BulkSoftDelete(context.Background(), widgetTable, nil, nil, nil, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, pool.begins)
	require.Empty(t, pool.tx.stmts)

	n, err = m.BulkRestore(context.Background(), widgetTable, []uuid.UUID{}, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, pool.begins)
}

func TestBulkOperationsRejectNonSoftDeletableTables(t *testing.T) {
	t.Parallel()

	pool := &fakePool{tx: &fakeTx{}}
	m := newTestBulkManager(t, pool)
	plain := Table{Entity: "Tactic", Name: "tactics"}

	_, err := m.BulkSoftDelete(context.Background(), plain, newIDs(1), nil, nil, 10)
	require.ErrorIs(t, err, ErrNotSoftDeletable)

	_, err = m.BulkRestore(context.Background(), plain, newIDs(1), 10)
	require.ErrorIs(t, err, ErrNotSoftDeletable)

	_, err = m.HardDeleteBefore(context.Background(), plain, time.Now(), 10)
	require.ErrorIs(t, err, ErrNotSoftDeletable)

	_, err = m.DeletionStats(context.Background(), plain)
	require.ErrorIs(t, err, ErrNotSoftDeletable)

	require.Zero(t, pool.begins)
}

func TestBulkSoftDeleteBatchesAndSumsAffectedRows(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{affected: []int64{2, 1, 1}}
	pool := &fakePool{tx: ftx}
	obs := &recordingObserver{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestBulkManager(t, pool, WithBulkClock(func() time.Time { return now }), WithBulkObserver(obs))

	actor := "admin"
	reason := "cleanup"
	n, err := m.BulkSoftDelete(context.Background(), widgetTable, newIDs(5), &actor, &reason, 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.Equal(t, 3, pool.begins)
	require.Len(t, ftx.stmts, 3)

	require.Len(t, ftx.args[0][0], 2)
	require.Len(t, ftx.args[1][0], 2)
	require.Len(t, ftx.args[2][0], 1)
	require.Equal(t, now, ftx.args[0][1])
	require.Equal(t, &actor, ftx.args[0][2])
	require.Equal(t, &reason, ftx.args[0][3])
	require.Contains(t, ftx.stmts[0], "is_deleted = FALSE")
	require.Contains(t, ftx.stmts[0], `"widgets"`)

	require.Equal(t, []string{BulkOpSoftDelete}, obs.ops)
	require.Equal(t, []int64{4}, obs.affected)
}

func TestBulkSoftDeleteDefaultsBatchSize(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{affected: []int64{1000, 1000, 500}}
	pool := &fakePool{tx: ftx}
	m := newTestBulkManager(t, pool)

	n, err := m.BulkSoftDelete(context.Background(), widgetTable, newIDs(2500), nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2500), n)
	require.Equal(t, 3, pool.begins)
}

func TestBulkSoftDeleteReturnsCommittedCountOnFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	ftx := &fakeTx{affected: []int64{2}, execErr: map[int]error{1: boom}}
	pool := &fakePool{tx: ftx}
	obs := &recordingObserver{}
	m := newTestBulkManager(t, pool, WithBulkObserver(obs))

	n, err := m.BulkSoftDelete(context.Background(), widgetTable, newIDs(4), nil, nil, 2)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(2), n)
	require.Equal(t, 2, pool.begins)
	require.ErrorIs(t, obs.errs[0], boom)
}

func TestBulkRestoreTargetsDeletedRows(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{affected: []int64{3}}
	m := newTestBulkManager(t, &fakePool{tx: ftx})

	n, err := m.BulkRestore(context.Background(), widgetTable, newIDs(3), 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Contains(t, ftx.stmts[0], "WHERE id = ANY($1::uuid[]) AND is_deleted = TRUE")
	require.Contains(t, ftx.stmts[0], "deleted_at = NULL")
}

func TestHardDeleteBeforeLoopsUntilNothingMatches(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{affected: []int64{10, 10, 4, 0}}
	pool := &fakePool{tx: ftx}
	m := newTestBulkManager(t, pool)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := m.HardDeleteBefore(context.Background(), widgetTable, cutoff, 10)
	require.NoError(t, err)
	require.Equal(t, int64(24), n)
	require.Equal(t, 4, pool.begins)
	for _, args := range ftx.args {
		require.Equal(t, cutoff, args[0])
		require.Equal(t, 10, args[1])
	}
	require.True(t, strings.HasPrefix(strings.TrimSpace(ftx.stmts[0]), "DELETE FROM"))
	require.Contains(t, ftx.stmts[0], "is_deleted = TRUE AND deleted_at < $1")
}

func TestCleanupOldDeletedComputesCutoff(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{affected: []int64{0}}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := newTestBulkManager(t, &fakePool{tx: ftx}, WithBulkClock(func() time.Time { return now }))

	n, err := m.CleanupOldDeleted(context.Background(), widgetTable, 30, 100)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, now.Add(-30*24*time.Hour), ftx.args[0][0])
}

func TestCleanupOldDeletedRejectsNonPositiveRetention(t *testing.T) {
	t.Parallel()

	pool := &fakePool{tx: &fakeTx{}}
	m := newTestBulkManager(t, pool)

	_, err := m.CleanupOldDeleted(context.Background(), widgetTable, 0, 100)
	require.Error(t, err)
	require.Zero(t, pool.begins)
}
