package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/drowsy-alarm/internal/config"
	"github.com/oshokin/drowsy-alarm/internal/service/monitor"
	"github.com/oshokin/drowsy-alarm/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// device overrides the camera from the configuration.
	device string
	// headless disables the preview window.
	headless bool
	// debug logs every phase change of the drowsiness monitor.
	debug bool

	// rootCmd represents the base command for running the monitor.
	rootCmd = &cobra.Command{
		Use:   "drowsy-monitor",
		Short: "Watch the driver's eyes and sound an alarm when they stay closed.",
		Long: `Captures camera frames, finds the eyes with a Haar cascade and classifies
each eye as open or closed from the shape of its bounding box.

When every eye stays closed for the hold duration (1 second by default) the
alarm sound starts. It stops as soon as an open eye is seen again.

Settings are read from ` + config.DefaultConfigFilename + ` when present. A gRPC health
endpoint reports whether the detection loop is alive; query it with drowsy-probe.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// The preview window must be driven from the thread that created it.
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			options := &monitor.Options{
				ConfigPath: configPath,
				Device:     device,
				Headless:   headless,
				Debug:      debug,
			}

			return monitor.Run(ctx, options)
		},
	}
)

// Execute runs the drowsy-monitor CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&device, "device", "d", "", "camera index, video file or stream URL")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "do not open the preview window")

	// Hidden debug flag for tuning the detector.
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every monitor phase change")

	err := rootCmd.Flags().MarkHidden("debug")
	if err != nil {
		panic(err)
	}
}
