package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
)

// Command groups token helpers.
func Command(cfg clienv.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
	}

	cmd.AddCommand(tokenCommand(cfg))
	return cmd
}

func tokenCommand(cfg clienv.Config) *cobra.Command {
	var (
		userID  string
		email   string
		name    string
		isAdmin bool
		ttl     time.Duration
		secret  string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 access token for an existing user",
		Long: "Signs an access token with JWT_SECRET. The API still checks that the subject is an\n" +
			"active account and takes the admin flag from the database, so --admin only\n" +
			"affects the claim embedded in the token.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := uuid.Parse(strings.TrimSpace(userID)); err != nil {
				return errors.New("--user-id must be a valid UUID")
			}
			if secret == "" {
				secret = cfg.JWTSecret
			}

			signer, err := platformauth.NewSigner(secret, ttl)
			if err != nil {
				return fmt.Errorf("init signer: %w", err)
			}

			token, err := signer.Issue(platformauth.Subject{
				UserID:  strings.TrimSpace(userID),
				Email:   email,
				Name:    name,
				IsAdmin: isAdmin,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(token)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "sub claim (user UUID)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "set isAdmin=true")
	cmd.Flags().DurationVar(&ttl, "expires-in", cfg.JWTTTL, "token lifetime (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret; defaults to JWT_SECRET")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full token response as JSON")

	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}
