package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr    string
	Token   string
	Timeout time.Duration
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Addr, o.Token, o.Timeout)
}

// NewRootCommand creates the root command for the pitrctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pitrctl",
		Short: "pitrctl - operate pitrdb nodes",
		Long:  "Runs administrative commands against a pitrdb node: point-in-time recovery, maintenance mode and plugins.",
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "localhost:8080", "node address")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "request timeout (0 waits forever)")

	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewMaintenanceCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCommandsCommand(opts))
	cmd.AddCommand(NewPluginCommand(opts))

	return cmd
}
