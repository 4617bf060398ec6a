package app

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/pkg/notifier"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask running gateways to reload their configuration",
	Long: `Send a reload signal through the notifier selected by the NOTIFIER_*
environment variables. Running gateways re-read their configuration source
and rebuild the runtime state.`,
	RunE: runReload,
}

func runReload(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	opts := notifier.OptionsFromEnv()
	opts.Role = notifier.RoleSender

	n, err := notifier.New(ctx, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	return n.Notify(ctx, nil)
}
