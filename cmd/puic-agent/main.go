// Command puic-agent is the agent executable (spec §6.3): it accepts
// local TCP connections and bridges each to its own PUIC session dialed
// at the forwarder address.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"puicbridge/internal/agentcore"
	"puicbridge/internal/buildinfo"
	"puicbridge/internal/cliconf"
	"puicbridge/internal/flog"
)

func main() {
	var flags cliconf.Agent
	var verbose bool

	root := &cobra.Command{
		Use:           "puic-agent",
		Short:         "Bridge local TCP connections into outbound PUIC sessions",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				flog.SetLevel(flog.Debug)
			} else {
				flog.SetLevel(flog.Info)
			}
			if err := cliconf.ValidateAgent(&flags); err != nil {
				return err
			}
			return run(flags)
		},
	}

	root.Flags().StringArrayVarP(&flags.Listen, "listen", "l", nil, "local TCP listen address (repeatable)")
	root.Flags().StringVarP(&flags.Outbound, "outbound", "o", "", "local UDP bind address for outgoing PUIC")
	root.Flags().StringVarP(&flags.Forward, "forward", "f", "", "upstream PUIC forwarder address")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(flags cliconf.Agent) error {
	agent, err := agentcore.New(agentcore.Config{
		Listen:   flags.Listen,
		Outbound: flags.Outbound,
		Forward:  flags.Forward,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return agent.Run(ctx)
}
