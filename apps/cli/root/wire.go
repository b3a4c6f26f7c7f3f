package root

import (
	"github.com/spf13/cobra"

	"github.com/collabridge/rapport-tracker/apps/cli/cmd/auth"
	"github.com/collabridge/rapport-tracker/apps/cli/cmd/bootstrap"
	"github.com/collabridge/rapport-tracker/apps/cli/cmd/maintenance"
	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
)

func wire(root *cobra.Command, cfg clienv.Config) {
	root.AddCommand(auth.Command(cfg))
	root.AddCommand(bootstrap.Command(cfg))
	root.AddCommand(maintenance.Command(cfg))
}
