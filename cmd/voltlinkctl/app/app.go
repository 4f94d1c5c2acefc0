package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/voltlink/pkg/options"
)

const commandName = "voltlinkctl"

// NewCommand returns the voltlinkctl root command writing to out.
func NewCommand(out io.Writer) *cobra.Command {
	opts := options.NewHttpOptions()
	// Connects may include a full device scan.
	opts.Timeout = 2 * time.Minute

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Control a running voltlink agent",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return utilerrors.NewAggregate(opts.Validate())
		},
	}
	cmd.SetOut(out)
	opts.AddFlags(cmd.PersistentFlags())

	newAgentClient := func() *client {
		return newClient("http://"+opts.Addr, opts.Timeout)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the connection status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := newAgentClient().Status(cmd.Context())
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "latest",
			Short: "Show the latest telemetry record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r, err := newAgentClient().Latest(cmd.Context())
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), r)
				return nil
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "Show the telemetry history, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				rs, err := newAgentClient().History(cmd.Context())
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), rs)
				return nil
			},
		},
		&cobra.Command{
			Use:   "analysis",
			Short: "Show the latest fault analysis",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newAgentClient().Analysis(cmd.Context())
				if errors.Is(err, errNoAnalysis) {
					fmt.Fprintln(cmd.OutOrStdout(), "No analysis yet.")
					return nil
				}
				if err != nil {
					return err
				}
				printAnalysis(cmd.OutOrStdout(), a)
				return nil
			},
		},
		&cobra.Command{
			Use:   "connect KIND [TARGET]",
			Short: "Connect to a device over ble or ws",
			Long: `Connect to a telemetry device. KIND is ble or ws. For ble, TARGET is an
optional device name prefix. For ws, TARGET is the device's ws:// URL.`,
			Example: `  voltlinkctl connect ble EV-
  voltlinkctl connect ws ws://192.168.4.1:81/`,
			Args: cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target := ""
				if len(args) == 2 {
					target = args[1]
				}
				st, err := newAgentClient().Connect(cmd.Context(), args[0], target)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Disconnect from the current device",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := newAgentClient().Disconnect(cmd.Context())
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "ask QUESTION...",
			Short: "Ask the assistant about the current telemetry",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				answer, err := newAgentClient().Ask(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			},
		},
	)

	return cmd
}
