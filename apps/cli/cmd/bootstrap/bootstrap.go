package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
	tacticsrepo "github.com/collabridge/rapport-tracker/domains/tactics/be/repo"
	tacticsservice "github.com/collabridge/rapport-tracker/domains/tactics/be/service"
	usersrepo "github.com/collabridge/rapport-tracker/domains/users/be/repo"
	usersservice "github.com/collabridge/rapport-tracker/domains/users/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/requesttrace"
)

// Notes:
// - schema is idempotent and runs in one transaction; run it before the other steps.
// - seed-tactics only inserts tactics whose name is missing.
// - admin registers the account when the email is new and promotes it otherwise.

// Command groups the database bootstrap steps.
func Command(cfg clienv.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap the database (schema, seed data, admin account)",
	}
	clienv.AddDatabaseFlag(cmd, cfg)

	cmd.AddCommand(schemaCommand(cfg))
	cmd.AddCommand(seedTacticsCommand(cfg))
	cmd.AddCommand(adminCommand(cfg))
	return cmd
}

func schemaCommand(cfg clienv.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Apply the core DDL (users, contacts, interactions, tactics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			conn, cleanup, err := clienv.Open(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := persistence.ApplySchema(ctx, conn.DB); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func seedTacticsCommand(cfg clienv.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-tactics",
		Short: "Insert the built-in rapport tactics catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			conn, cleanup, err := clienv.Open(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := persistence.NewTacticStore(conn.DB)
			if err != nil {
				return fmt.Errorf("init tactic store: %w", err)
			}
			data := dataservice.New[persistence.RapportTactic](store, conn.Policy, dataservice.WithLogger[persistence.RapportTactic](conn.Logger))
			svc := tacticsservice.New(tacticsrepo.NewPostgresRepository(store, data))

			inserted, err := svc.Seed(ctx)
			if err != nil {
				return fmt.Errorf("seed tactics: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tactics seeded: %d new, %d total in catalogue\n", inserted, len(persistence.SeedTactics))
			return nil
		},
	}
}

func adminCommand(cfg clienv.Config) *cobra.Command {
	var (
		email    string
		fullName string
		password string
	)

	c := &cobra.Command{
		Use:   "admin",
		Short: "Create or promote an administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System("cli-bootstrap-admin"))
			conn, cleanup, err := clienv.Open(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := persistence.NewUserStore(conn.DB)
			if err != nil {
				return fmt.Errorf("init user store: %w", err)
			}
			data := dataservice.New[persistence.User](store, conn.Policy, dataservice.WithLogger[persistence.User](conn.Logger))

			// Login is never called here, so the signer only has to be valid.
			signer, err := platformauth.NewSigner(signingSecret(cfg), cfg.JWTTTL)
			if err != nil {
				return fmt.Errorf("init signer: %w", err)
			}
			svc := usersservice.New(usersrepo.NewPostgresRepository(store, data), signer, conn.Policy)

			user, err := ensureAdminUser(ctx, svc, email, fullName, password)
			if err != nil {
				return err
			}
			conn.Logger.Info("admin account ready", zap.String("user_id", user.ID.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "admin ready: %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	c.Flags().StringVar(&email, "email", "", "Admin email")
	c.Flags().StringVar(&fullName, "full-name", "Administrator", "Admin full name")
	c.Flags().StringVar(&password, "password", "", "Initial password (min 8 characters)")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("password")

	return c
}

func signingSecret(cfg clienv.Config) string {
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		return cfg.JWTSecret
	}
	return "cli-bootstrap-unused-secret"
}

// ensureAdminUser registers the account when the email is unknown, then makes
// sure it is an active administrator.
func ensureAdminUser(ctx context.Context, svc usersservice.Service, email, fullName, password string) (usersservice.User, error) {
	user, err := svc.Register(ctx, usersservice.RegisterInput{Email: email, FullName: fullName, Password: password})
	if err != nil {
		if !errors.Is(err, usersservice.ErrConflict) {
			return usersservice.User{}, fmt.Errorf("register admin: %w", err)
		}

		existing, listErr := svc.List(ctx, usersservice.ListOptions{Email: &email, PageSize: dataservice.MaxPageSize})
		if listErr != nil {
			return usersservice.User{}, fmt.Errorf("find admin: %w", listErr)
		}
		found := false
		for _, u := range existing.Users {
			if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
				user, found = u, true
				break
			}
		}
		if !found {
			return usersservice.User{}, fmt.Errorf("admin email %s is taken by a deleted account; restore it first", email)
		}
	}

	if user.IsAdmin && user.IsActive {
		return user, nil
	}

	yes := true
	promoted, err := svc.Update(ctx, user.ID, usersservice.UpdateInput{IsAdmin: &yes, IsActive: &yes})
	if err != nil {
		return usersservice.User{}, fmt.Errorf("promote admin: %w", err)
	}
	return promoted, nil
}
