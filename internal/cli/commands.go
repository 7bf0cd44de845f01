package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func printResult(out io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(out, "ok")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(out, buf.String())
	return nil
}

func runAndPrint(cmd *cobra.Command, opts *RootOptions, name string, body any) error {
	res, err := opts.client().Run(cmd.Context(), name, body)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	TS   string
	GTID string
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run point-in-time recovery up to a timestamp or GTID",
		Long: `Run point-in-time recovery on the node up to, and including, a point in the oplog.

The node must be RECOVERING in maintenance mode. The command blocks until the
target is reached or the run fails.

Example:
  pitrctl recover --gtid 3:42
  pitrctl recover --ts 2024-01-02T15:04:05Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.TS == "") == (opts.GTID == "") {
				return errors.New("exactly one of --ts or --gtid is required")
			}
			body := map[string]string{}
			if opts.TS != "" {
				body["ts"] = opts.TS
			} else {
				body["gtid"] = opts.GTID
			}
			return runAndPrint(cmd, opts.RootOptions, "recoverToPoint", body)
		},
	}

	cmd.Flags().StringVar(&opts.TS, "ts", "", "recover up to this RFC 3339 time")
	cmd.Flags().StringVar(&opts.GTID, "gtid", "", "recover up to this GTID (<term>:<seq>)")

	return cmd
}

// NewMaintenanceCommand creates the maintenance command.
func NewMaintenanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "maintenance on|off",
		Short:         "Enter or leave maintenance mode",
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"on", "off"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("invalid argument %q: must be on or off", args[0])
			}
			return runAndPrint(cmd, opts, "replSetMaintenance", map[string]bool{"on": on})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show member state, maintenance mode and replication progress",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndPrint(cmd, opts, "replSetGetStatus", nil)
		},
	}
}

// NewCommandsCommand creates the commands command.
func NewCommandsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "commands",
		Short:         "List registered commands and plugins",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndPrint(cmd, opts, "listCommands", nil)
		},
	}
}

// NewPluginCommand creates the plugin command with load and unload subcommands.
func NewPluginCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Load or unload compiled-in plugins",
	}

	for _, action := range []struct{ use, command, short string }{
		{"load <name>", "loadPlugin", "Load a plugin"},
		{"unload <name>", "unloadPlugin", "Unload a plugin and its commands"},
	} {
		name := action.command
		cmd.AddCommand(&cobra.Command{
			Use:           action.use,
			Short:         action.short,
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAndPrint(cmd, opts, name, map[string]string{"name": args[0]})
			},
		})
	}

	return cmd
}
