package persistence

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Health labels.
const (
	StatusHealthy   = "healthy"
	StatusSlow      = "slow"
	StatusUnhealthy = "unhealthy"

	TableHealthGood         = "good"
	TableHealthFair         = "fair - cleanup recommended"
	TableHealthPoorRatio    = "poor - high deletion ratio"
	TableHealthPoorStale    = "poor - too many old deleted records"
	TableHealthUnknown      = "unknown"
	OverallGood             = "good"
	OverallSlowConnection   = "fair - slow connection"
	OverallIssuesDetected   = "poor - issues detected"
	OverallNoConnection     = "unhealthy - no connection"
	cleanupRecommendedAbove = 1000
	poorStaleAbove          = 10000
)

// HealthConfig tunes the checker thresholds.
type HealthConfig struct {
	SlowThreshold time.Duration
	StaleAfter    time.Duration
	// RatioAlert, when positive, is the deleted/total fraction above which a
	// table raises an alert recommendation.
	RatioAlert float64
}

// ConnectionStatus is the outcome of a database round trip.
type ConnectionStatus struct {
	Connected bool    `json:"connected"`
	LatencyMS float64 `json:"responseTimeMs,omitempty"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
}

// TableStats summarises soft-delete state for one table.
type TableStats struct {
	Entity             string       `json:"entity"`
	Table              string       `json:"table"`
	Active             int64        `json:"activeRecords"`
	Deleted            int64        `json:"deletedRecords"`
	StaleDeleted       int64        `json:"oldDeletedRecords"`
	Total              int64        `json:"totalRecords"`
	DeletionRatio      float64      `json:"deletionRatioPercent"`
	CleanupRecommended bool         `json:"cleanupRecommended"`
	HealthStatus       string       `json:"healthStatus"`
	Error              string       `json:"error,omitempty"`
	Indexes            *IndexStatus `json:"indexes,omitempty"`
}

// IndexStatus lists which soft-delete indexes exist for a table.
type IndexStatus struct {
	Table           string   `json:"table"`
	Found           []string `json:"indexesFound"`
	Missing         []string `json:"missingIndexes"`
	Recommendations []string `json:"recommendations"`
	Error           string   `json:"error,omitempty"`
}

// HealthReport aggregates connectivity and per-table findings.
type HealthReport struct {
	CheckedAt       time.Time        `json:"timestamp"`
	Healthy         bool             `json:"healthy"`
	OverallHealth   string           `json:"overallHealth"`
	Connection      ConnectionStatus `json:"connection"`
	Tables          []TableStats     `json:"tables"`
	Recommendations []string         `json:"recommendations"`
}

var softDeleteIndexes = []struct {
	column      string
	description string
}{
	{"is_deleted", "Performance index for active record filtering"},
	{"deleted_at", "Index for cleanup operations"},
	{"deleted_by", "Index for audit queries"},
}

// HealthChecker reports connectivity and soft-delete table health. It never
// fails on connectivity problems; those are reported in the result.
type HealthChecker struct {
	q      Querier
	cfg    HealthConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthChecker builds a checker; zero thresholds fall back to 100ms and 90 days.
func NewHealthChecker(q Querier, cfg HealthConfig, logger *zap.Logger) *HealthChecker {
	if q == nil {
		panic("HealthChecker requires querier")
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 100 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 90 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{q: q, cfg: cfg, logger: logger, now: time.Now}
}

// CheckConnectivity runs SELECT 1 and classifies the latency.
func (h *HealthChecker) CheckConnectivity(ctx context.Context) ConnectionStatus {
	start := time.Now()
	var one int
	if err := h.q.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return ConnectionStatus{Connected: false, Status: StatusUnhealthy, Error: err.Error()}
	}
	elapsed := time.Since(start)

	status := StatusHealthy
	if elapsed >= h.cfg.SlowThreshold {
		status = StatusSlow
	}
	return ConnectionStatus{
		Connected: true,
		LatencyMS: round2(float64(elapsed.Microseconds()) / 1000),
		Status:    status,
	}
}

// TableStatistics counts active, deleted and stale deleted rows.
func (h *HealthChecker) TableStatistics(ctx context.Context, table Table) (TableStats, error) {
	if err := table.requireSoftDelete(); err != nil {
		return TableStats{}, err
	}

	cutoff := h.now().UTC().Add(-h.cfg.StaleAfter)
	query := fmt.Sprintf(`
        SELECT
            COUNT(*) FILTER (WHERE is_deleted = FALSE),
            COUNT(*) FILTER (WHERE is_deleted = TRUE),
            COUNT(*) FILTER (WHERE is_deleted = TRUE AND deleted_at < $1)
        FROM %s`, table.ident())

	stats := TableStats{Entity: table.Entity, Table: table.Name}
	if err := h.q.QueryRow(ctx, query, cutoff).Scan(&stats.Active, &stats.Deleted, &stats.StaleDeleted); err != nil {
		return TableStats{}, fmt.Errorf("table statistics %s: %w", table.Entity, err)
	}

	stats.Total = stats.Active + stats.Deleted
	if stats.Total > 0 {
		stats.DeletionRatio = round2(float64(stats.Deleted) / float64(stats.Total) * 100)
	}
	stats.CleanupRecommended = stats.StaleDeleted > cleanupRecommendedAbove
	stats.HealthStatus = AssessTableHealth(stats.DeletionRatio, stats.StaleDeleted)
	return stats, nil
}

// AssessTableHealth labels a table from its deletion ratio (percent) and stale count.
func AssessTableHealth(ratioPercent float64, stale int64) string {
	switch {
	case ratioPercent > 50:
		return TableHealthPoorRatio
	case stale > poorStaleAbove:
		return TableHealthPoorStale
	case ratioPercent > 25 || stale > cleanupRecommendedAbove:
		return TableHealthFair
	default:
		return TableHealthGood
	}
}

// CheckIndexes looks up the soft-delete indexes of a table in pg_indexes.
// A column only counts when it is a key column of an index in the current schema.
func (h *HealthChecker) CheckIndexes(ctx context.Context, table Table) IndexStatus {
	status := IndexStatus{Table: table.Name, Found: []string{}, Missing: []string{}, Recommendations: []string{}}

	rows, err := h.q.Query(ctx, `SELECT indexdef FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1`, table.Name)
	if err != nil {
		status.Error = fmt.Sprintf("could not check indexes: %v", err)
		return status
	}
	defs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		status.Error = fmt.Sprintf("could not check indexes: %v", err)
		return status
	}

	indexed := map[string]struct{}{}
	for _, def := range defs {
		for _, column := range indexKeyColumns(def) {
			indexed[column] = struct{}{}
		}
	}

	for _, idx := range softDeleteIndexes {
		if _, ok := indexed[idx.column]; ok {
			status.Found = append(status.Found, idx.column)
			continue
		}
		status.Missing = append(status.Missing, idx.column)
		status.Recommendations = append(status.Recommendations, fmt.Sprintf("Add index on %s: %s", idx.column, idx.description))
	}
	return status
}

// indexKeyColumns returns the plain column names in the key list of a
// pg_indexes.indexdef. Expression keys, INCLUDE columns and WHERE predicates
// are not key columns.
func indexKeyColumns(def string) []string {
	_, rest, ok := strings.Cut(def, " USING ")
	if !ok {
		return nil
	}
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return nil
	}

	var (
		columns []string
		depth   int
		inQuote bool
		start   = open + 1
	)
	for i := open; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return appendKeyColumn(columns, rest[start:i])
			}
		case c == ',' && depth == 1:
			columns = appendKeyColumn(columns, rest[start:i])
			start = i + 1
		}
	}
	return nil
}

func appendKeyColumn(columns []string, element string) []string {
	element = strings.TrimSpace(element)
	if quoted, ok := strings.CutPrefix(element, `"`); ok {
		var name strings.Builder
		for i := 0; i < len(quoted); i++ {
			if quoted[i] != '"' {
				name.WriteByte(quoted[i])
				continue
			}
			if i+1 < len(quoted) && quoted[i+1] == '"' {
				name.WriteByte('"')
				i++
				continue
			}
			return append(columns, name.String())
		}
		return columns
	}

	fields := strings.Fields(element)
	if len(fields) == 0 || strings.ContainsAny(fields[0], "()") {
		return columns
	}
	return append(columns, fields[0])
}

// Report checks connectivity and then every soft-deletable table given.
func (h *HealthChecker) Report(ctx context.Context, tables []Table) HealthReport {
	report := HealthReport{
		CheckedAt:       h.now().UTC(),
		Healthy:         true,
		Tables:          []TableStats{},
		Recommendations: []string{},
	}

	report.Connection = h.CheckConnectivity(ctx)
	if !report.Connection.Connected {
		report.Healthy = false
		report.OverallHealth = OverallNoConnection
		h.logger.Warn("database health check failed", zap.String("error", report.Connection.Error))
		return report
	}

	for _, table := range tables {
		if !table.SoftDelete {
			continue
		}

		stats, err := h.TableStatistics(ctx, table)
		if err != nil {
			stats = TableStats{
				Entity:       table.Entity,
				Table:        table.Name,
				HealthStatus: TableHealthUnknown,
				Error:        fmt.Sprintf("could not get statistics: %v", err),
			}
		}

		indexes := h.CheckIndexes(ctx, table)
		stats.Indexes = &indexes

		if stats.CleanupRecommended {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Consider cleaning up old deleted records in %s", table.Name))
		}
		report.Recommendations = append(report.Recommendations, indexes.Recommendations...)

		if h.cfg.RatioAlert > 0 && stats.DeletionRatio/100 > h.cfg.RatioAlert {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Deletion ratio of %s is %.2f%%, above the %.0f%% alert threshold", table.Name, stats.DeletionRatio, h.cfg.RatioAlert*100))
			h.logger.Warn("high deletion ratio",
				zap.String("entity", table.Entity),
				zap.Float64("deletion_ratio_percent", stats.DeletionRatio),
				zap.Float64("threshold", h.cfg.RatioAlert),
			)
		}

		if strings.HasPrefix(stats.HealthStatus, "poor") {
			report.Healthy = false
		}
		report.Tables = append(report.Tables, stats)
	}

	switch {
	case !report.Healthy:
		report.OverallHealth = OverallIssuesDetected
	case report.Connection.Status == StatusSlow:
		report.OverallHealth = OverallSlowConnection
	default:
		report.OverallHealth = OverallGood
	}
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
