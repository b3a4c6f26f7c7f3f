package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
	maintenancerepo "github.com/collabridge/rapport-tracker/domains/maintenance/be/repo"
	maintenanceservice "github.com/collabridge/rapport-tracker/domains/maintenance/be/service"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/requesttrace"
)

// retryBackoff is multiplied by the attempt number between bulk retries.
const retryBackoff = time.Second

// Command groups soft-delete maintenance helpers.
func Command(cfg clienv.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Soft delete maintenance (health, stats, cleanup, bulk operations)",
	}
	clienv.AddDatabaseFlag(cmd, cfg)

	cmd.AddCommand(healthCommand(cfg))
	cmd.AddCommand(statsCommand(cfg))
	cmd.AddCommand(indexesCommand(cfg))
	cmd.AddCommand(cleanupCommand(cfg))
	cmd.AddCommand(bulkDeleteCommand(cfg))
	cmd.AddCommand(bulkRestoreCommand(cfg))
	cmd.AddCommand(cascadeDeleteCommand(cfg))
	return cmd
}

type session struct {
	svc         maintenanceservice.Service
	logger      *zap.Logger
	maxAttempts int
}

func open(cmd *cobra.Command, cfg clienv.Config, requestID string) (context.Context, *session, func(), error) {
	ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System(requestID))
	conn, cleanup, err := clienv.Open(ctx, cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	registry := persistence.CoreRegistry()
	bulk := persistence.NewBulkManager(conn.DB, persistence.WithBulkLogger(conn.Logger))
	cascade := persistence.NewCascadeDeleter(conn.DB, registry, persistence.WithCascadeLogger(conn.Logger))
	dependents := persistence.NewCascadeDeleter(conn.DB, registry.Dependents(), persistence.WithCascadeLogger(conn.Logger))
	repo := maintenancerepo.NewPostgresRepository(conn.DB, registry, bulk, cascade, dependents, conn.Logger)

	s := &session{
		svc:         maintenanceservice.New(repo, conn.Policy, nil),
		logger:      conn.Logger,
		maxAttempts: conn.Policy.Current().MaxRetryAttempts,
	}
	return ctx, s, cleanup, nil
}

func healthCommand(cfg clienv.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check connectivity and soft delete health of every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-health")
			if err != nil {
				return err
			}
			defer cleanup()

			report := s.svc.Health(ctx)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printHealth(cmd.OutOrStdout(), report)
			if !report.Healthy {
				return errors.New("database health: " + report.OverallHealth)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func statsCommand(cfg clienv.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <entity>",
		Short: "Show active, deleted and stale counts for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-stats")
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.svc.Stats(ctx, args[0])
			if err != nil {
				return fmt.Errorf("stats %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func indexesCommand(cfg clienv.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes <entity>",
		Short: "Report missing soft delete indexes for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-indexes")
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := s.svc.Indexes(ctx, args[0])
			if err != nil {
				return fmt.Errorf("indexes %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func cleanupCommand(cfg clienv.Config) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup <entity>",
		Short: "Hard delete soft-deleted rows older than the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-cleanup")
			if err != nil {
				return err
			}
			defer cleanup()

			var days *int
			if cmd.Flags().Changed("retention-days") {
				days = &retentionDays
			}

			res, err := s.svc.Cleanup(ctx, args[0], days)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d rows deleted more than %d days ago\n", res.Entity, res.Removed, res.RetentionDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override the policy retention window")
	return cmd
}

func bulkDeleteCommand(cfg clienv.Config) *cobra.Command {
	var (
		rawIDs []string
		reason string
		actor  string
	)

	cmd := &cobra.Command{
		Use:   "bulk-delete <entity>",
		Short: "Soft delete many rows by id, retrying transient failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(rawIDs)
			if err != nil {
				return err
			}

			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-bulk-delete")
			if err != nil {
				return err
			}
			defer cleanup()

			input := maintenanceservice.BulkInput{IDs: ids, Reason: optional(reason), Actor: optional(actor)}
			res, err := retryBulk(ctx, s.logger, s.maxAttempts, retryBackoff, func(ctx context.Context) (maintenanceservice.BulkResult, error) {
				return s.svc.BulkDelete(ctx, args[0], input)
			})
			if err != nil {
				return fmt.Errorf("bulk delete %s (%d rows committed): %w", args[0], res.Affected, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: soft deleted %d of %d requested rows\n", res.Entity, res.Affected, res.Requested)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&rawIDs, "ids", nil, "comma separated ids")
	cmd.Flags().StringVar(&reason, "reason", "", "deletion reason")
	cmd.Flags().StringVar(&actor, "actor", "", "recorded as deleted_by; defaults to the system actor")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func bulkRestoreCommand(cfg clienv.Config) *cobra.Command {
	var rawIDs []string

	cmd := &cobra.Command{
		Use:   "bulk-restore <entity>",
		Short: "Restore many soft-deleted rows by id, retrying transient failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(rawIDs)
			if err != nil {
				return err
			}

			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-bulk-restore")
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := retryBulk(ctx, s.logger, s.maxAttempts, retryBackoff, func(ctx context.Context) (maintenanceservice.BulkResult, error) {
				return s.svc.BulkRestore(ctx, args[0], ids)
			})
			if err != nil {
				return fmt.Errorf("bulk restore %s (%d rows committed): %w", args[0], res.Affected, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: restored %d of %d requested rows\n", res.Entity, res.Affected, res.Requested)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&rawIDs, "ids", nil, "comma separated ids")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func cascadeDeleteCommand(cfg clienv.Config) *cobra.Command {
	var (
		reason        string
		actor         string
		includeOwners bool
	)

	cmd := &cobra.Command{
		Use:   "cascade-delete <entity> <id>",
		Short: "Soft delete a row and the rows that depend on it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[1], err)
			}

			ctx, s, cleanup, err := open(cmd, cfg, "cli-maintenance-cascade-delete")
			if err != nil {
				return err
			}
			defer cleanup()

			counts, err := s.svc.CascadeDelete(ctx, args[0], id, maintenanceservice.CascadeInput{
				Actor:         optional(actor),
				Reason:        optional(reason),
				IncludeOwners: includeOwners,
			})
			if err != nil {
				return fmt.Errorf("cascade delete %s %s: %w", args[0], id, err)
			}
			return writeJSON(cmd.OutOrStdout(), counts)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "deletion reason")
	cmd.Flags().StringVar(&actor, "actor", "", "recorded as deleted_by; defaults to the system actor")
	cmd.Flags().BoolVar(&includeOwners, "include-owners", false, "also follow belongs-to relations up to owning rows")
	return cmd
}

// retryBulk runs op once plus up to maxRetries more times while it fails with
// a transient error. Rows committed by failed attempts are added to the result.
func retryBulk(ctx context.Context, logger *zap.Logger, maxRetries int, backoff time.Duration, op func(context.Context) (maintenanceservice.BulkResult, error)) (maintenanceservice.BulkResult, error) {
	var committed int64
	for attempt := 0; ; attempt++ {
		res, err := op(ctx)
		committed += res.Affected
		res.Affected = committed
		if err == nil || !transient(err) || attempt >= maxRetries {
			return res, err
		}

		wait := backoff * time.Duration(attempt+1)
		logger.Warn("bulk operation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("wait", wait),
			zap.Int64("committed", committed),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func transient(err error) bool {
	var verr *maintenanceservice.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, maintenanceservice.ErrNotFound),
		errors.Is(err, maintenanceservice.ErrNotSoftDeletable),
		errors.Is(err, maintenanceservice.ErrConflict),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("--ids must list at least one id")
	}
	return ids, nil
}

func optional(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHealth(w io.Writer, report persistence.HealthReport) {
	fmt.Fprintf(w, "overall: %s (connection %s", report.OverallHealth, report.Connection.Status)
	if report.Connection.Connected {
		fmt.Fprintf(w, ", %.2fms", report.Connection.LatencyMS)
	}
	fmt.Fprintln(w, ")")

	if len(report.Tables) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTITY\tACTIVE\tDELETED\tSTALE\tRATIO\tHEALTH")
		for _, t := range report.Tables {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f%%\t%s\n", t.Entity, t.Active, t.Deleted, t.StaleDeleted, t.DeletionRatio, t.HealthStatus)
		}
		_ = tw.Flush()
	}

	for _, r := range report.Recommendations {
		fmt.Fprintf(w, "- %s\n", r)
	}
}
