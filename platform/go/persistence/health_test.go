package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRow scans fixed values into int, int64 and string destinations.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("expected %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

// fakeRows iterates single-column string rows.
type fakeRows struct {
	values []string
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.pos-1]
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return []any{r.values[r.pos-1]}, nil }
func (r *fakeRows) RawValues() [][]byte   { return nil }
func (r *fakeRows) Conn() *pgx.Conn       { return nil }

var widgetIndexDefs = []string{
	"CREATE INDEX widgets_is_deleted_idx ON public.widgets USING btree (is_deleted)",
	"CREATE INDEX widgets_deleted_at_idx ON public.widgets USING btree (deleted_at)",
	"CREATE INDEX widgets_deleted_by_idx ON public.widgets USING btree (deleted_by)",
}

// fakeQuerier routes statements by substring.
type fakeQuerier struct {
	pingErr   error
	statsRow  fakeRow
	indexDefs []string
	indexErr  error
	indexSQL  string
	statsArgs []any
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "pg_indexes") {
		q.indexSQL = sql
		if q.indexErr != nil {
			return nil, q.indexErr
		}
		return &fakeRows{values: q.indexDefs}, nil
	}
	return nil, errors.New("unexpected query")
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if strings.TrimSpace(sql) == "SELECT 1" {
		if q.pingErr != nil {
			return fakeRow{err: q.pingErr}
		}
		return fakeRow{values: []any{1}}
	}
	q.statsArgs = args
	return q.statsRow
}

func TestAssessTableHealth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		ratio float64
		stale int64
		want  string
	}{
		{"good", 10, 0, TableHealthGood},
		{"ratio above fifty", 50.01, 0, TableHealthPoorRatio},
		{"ratio exactly fifty is fair", 50, 0, TableHealthFair},
		{"too many stale", 5, 10001, TableHealthPoorStale},
		{"ratio above twenty five", 26, 0, TableHealthFair},
		{"stale above one thousand", 0, 1001, TableHealthFair},
		{"stale exactly one thousand", 0, 1000, TableHealthGood},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, AssessTableHealth(tc.ratio, tc.stale))
		})
	}
}

func TestCheckConnectivityReportsFailureWithoutError(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(&fakeQuerier{pingErr: errors.New("dial tcp: refused")}, HealthConfig{}, zaptest.NewLogger(t))

	status := h.CheckConnectivity(context.Background())
	require.False(t, status.Connected)
	require.Equal(t, StatusUnhealthy, status.Status)
	require.Equal(t, "dial tcp: refused", status.Error)
}

func TestCheckConnectivityClassifiesLatency(t *testing.T) {
	t.Parallel()

	fast := NewHealthChecker(&fakeQuerier{}, HealthConfig{SlowThreshold: time.Hour}, nil)
	require.Equal(t, StatusHealthy, fast.CheckConnectivity(context.Background()).Status)

	slow := NewHealthChecker(&fakeQuerier{}, HealthConfig{SlowThreshold: time.Nanosecond}, nil)
	status := slow.CheckConnectivity(context.Background())
	require.True(t, status.Connected)
	require.Equal(t, StatusSlow, status.Status)
}

func TestTableStatisticsComputesRatioAndCleanup(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{statsRow: fakeRow{values: []any{int64(200), int64(100), int64(1500)}}}
	h := NewHealthChecker(q, HealthConfig{StaleAfter: 24 * time.Hour}, nil)
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	stats, err := h.TableStatistics(context.Background(), widgetTable)
	require.NoError(t, err)
	require.Equal(t, int64(300), stats.Total)
	require.Equal(t, 33.33, stats.DeletionRatio)
	require.True(t, stats.CleanupRecommended)
	require.Equal(t, TableHealthFair, stats.HealthStatus)
	require.Equal(t, []any{now.Add(-24 * time.Hour)}, q.statsArgs)
}

func TestCheckIndexesListsMissingIndexes(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{indexDefs: []string{
		"CREATE UNIQUE INDEX widgets_pkey ON public.widgets USING btree (id)",
		"CREATE INDEX widgets_is_deleted_idx ON public.widgets USING btree (is_deleted)",
	}}
	h := NewHealthChecker(q, HealthConfig{}, nil)

	status := h.CheckIndexes(context.Background(), widgetTable)
	require.Equal(t, []string{"is_deleted"}, status.Found)
	require.Equal(t, []string{"deleted_at", "deleted_by"}, status.Missing)
	require.Equal(t, []string{
		"Add index on deleted_at: Index for cleanup operations",
		"Add index on deleted_by: Index for audit queries",
	}, status.Recommendations)
}

func TestCheckIndexesIgnoresNonKeyMentions(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{indexDefs: []string{
		"CREATE INDEX widgets_active_owner_idx ON public.widgets USING btree (owner_id) WHERE (is_deleted = false)",
		"CREATE INDEX widgets_deleted_at_old_idx ON public.widgets USING btree (deleted_at_old)",
		"CREATE INDEX widgets_lower_by_idx ON public.widgets USING btree (lower(deleted_by))",
		"CREATE INDEX widgets_owner_cover_idx ON public.widgets USING btree (owner_id) INCLUDE (deleted_by)",
	}}
	h := NewHealthChecker(q, HealthConfig{}, nil)

	status := h.CheckIndexes(context.Background(), widgetTable)
	require.Empty(t, status.Found)
	require.Equal(t, []string{"is_deleted", "deleted_at", "deleted_by"}, status.Missing)
	require.Contains(t, q.indexSQL, "schemaname = current_schema()")
}

func TestIndexKeyColumns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		def  string
		want []string
	}{
		{"single", "CREATE INDEX a ON public.t USING btree (is_deleted)", []string{"is_deleted"}},
		{"composite with ordering", "CREATE INDEX a ON public.t USING btree (deleted_at DESC NULLS LAST, id)", []string{"deleted_at", "id"}},
		{"quoted", `CREATE INDEX a ON public.t USING btree ("Deleted By", is_deleted)`, []string{"Deleted By", "is_deleted"}},
		{"expression skipped", "CREATE INDEX a ON public.t USING btree (lower(email), deleted_by)", []string{"deleted_by"}},
		{"predicate ignored", "CREATE INDEX a ON public.t USING btree (user_id) WHERE (is_deleted = false)", []string{"user_id"}},
		{"not an index", "garbage", nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, indexKeyColumns(tc.def))
		})
	}
}

func TestReportWithoutConnectionSkipsTables(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(&fakeQuerier{pingErr: errors.New("down")}, HealthConfig{}, zaptest.NewLogger(t))

	report := h.Report(context.Background(), []Table{widgetTable})
	require.False(t, report.Healthy)
	require.Equal(t, OverallNoConnection, report.OverallHealth)
	require.Empty(t, report.Tables)
}

func TestReportFlagsPoorTablesAndRatioAlerts(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{
		statsRow:  fakeRow{values: []any{int64(40), int64(60), int64(0)}},
		indexDefs: widgetIndexDefs,
	}
	h := NewHealthChecker(q, HealthConfig{SlowThreshold: time.Hour, RatioAlert: 0.25}, zaptest.NewLogger(t))

	plain := Table{Entity: "Tactic", Name: "tactics"}
	report := h.Report(context.Background(), []Table{widgetTable, plain})
	require.False(t, report.Healthy)
	require.Equal(t, OverallIssuesDetected, report.OverallHealth)
	require.Len(t, report.Tables, 1)
	require.Equal(t, TableHealthPoorRatio, report.Tables[0].HealthStatus)
	require.NotNil(t, report.Tables[0].Indexes)
	require.Empty(t, report.Tables[0].Indexes.Missing)
	require.Len(t, report.Recommendations, 1)
	require.Contains(t, report.Recommendations[0], "alert threshold")
}

func TestReportRecordsStatisticsFailurePerTable(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{
		statsRow:  fakeRow{err: errors.New("relation does not exist")},
		indexDefs: widgetIndexDefs,
	}
	h := NewHealthChecker(q, HealthConfig{SlowThreshold: time.Hour}, nil)

	report := h.Report(context.Background(), []Table{widgetTable})
	require.True(t, report.Healthy)
	require.Equal(t, OverallGood, report.OverallHealth)
	require.Equal(t, TableHealthUnknown, report.Tables[0].HealthStatus)
	require.Contains(t, report.Tables[0].Error, "relation does not exist")
}
