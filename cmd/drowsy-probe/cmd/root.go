package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/drowsy-alarm/internal/config"
	"github.com/oshokin/drowsy-alarm/internal/service/probe"
	"github.com/oshokin/drowsy-alarm/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// service is the health service name to query.
	service string
	// watch keeps polling the monitor.
	watch bool
	// asJSON prints raw health responses.
	asJSON bool

	// rootCmd represents the base command for probing a monitor.
	rootCmd = &cobra.Command{
		Use:   "drowsy-probe [status-address]",
		Short: "Check whether a drowsy-monitor detection loop is alive.",
		Long: `Queries the gRPC health endpoint of a running drowsy-monitor.

Prints SERVING while the detection loop keeps ticking and NOT_SERVING once it
stalls or stops. A single check exits with a non-zero status unless the loop is
serving. With --watch the probe keeps polling and prints every change.

The address defaults to status.listen_address from the configuration file.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use the address argument if provided, otherwise rely on config.
			var address string
			if len(args) > 0 {
				address = args[0]
			}

			return probe.Run(ctx, &probe.Options{
				ConfigPath: configPath,
				Address:    address,
				Service:    service,
				Watch:      watch,
				JSON:       asJSON,
			})
		},
	}
)

// Execute runs the drowsy-probe CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	rootCmd.Flags().StringVarP(&service, "service", "s", "", "health service to query (default the detection loop)")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling and print status changes")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print responses as JSON")
}
