// Command puic-proxy is the proxy executable (spec §6.3): it accepts
// inbound PUIC sessions and bridges each preset stream to a dialed TCP
// connection at the forward target, optionally prefixed with a PROXY
// protocol v1 header.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"puicbridge/internal/buildinfo"
	"puicbridge/internal/cliconf"
	"puicbridge/internal/flog"
	"puicbridge/internal/proxycore"
)

func main() {
	var flags cliconf.Proxy
	var verbose bool

	root := &cobra.Command{
		Use:           "puic-proxy",
		Short:         "Bridge inbound PUIC sessions into outbound TCP connections",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				flog.SetLevel(flog.Debug)
			} else {
				flog.SetLevel(flog.Info)
			}
			if err := cliconf.ValidateProxy(&flags); err != nil {
				return err
			}
			return run(flags)
		},
	}

	root.Flags().StringArrayVarP(&flags.Listen, "listen", "l", nil, "PUIC listen address (repeatable)")
	root.Flags().StringVarP(&flags.Forward, "forward", "f", "", "upstream TCP target address")
	root.Flags().BoolVarP(&flags.ProxyProtoV1, "proxy-protocol", "u", false, "prefix forwarded connections with a PROXY protocol v1 header")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(flags cliconf.Proxy) error {
	proxy := proxycore.New(proxycore.Config{
		Listen:       flags.Listen,
		Forward:      flags.Forward,
		ProxyProtoV1: flags.ProxyProtoV1,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return proxy.Run(ctx)
}
