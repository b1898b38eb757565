package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/bugtool"
	catalogCmd "github.com/sidkik/tabletsync/cmd/catalog"
	configCmd "github.com/sidkik/tabletsync/cmd/config"
	"github.com/sidkik/tabletsync/cmd/index"
	"github.com/sidkik/tabletsync/cmd/organize"
	"github.com/sidkik/tabletsync/cmd/ping"
	"github.com/sidkik/tabletsync/cmd/pull"
	runCmd "github.com/sidkik/tabletsync/cmd/run"
	"github.com/sidkik/tabletsync/cmd/status"
	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "TABLETSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	var verbose bool
	rootCmd := &cobra.Command{
		Use:          "tabletsync",
		Short:        "Mirror and organize the documents on a reMarkable tablet",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log debug information")
	rootCmd.PersistentFlags().StringVar(&util.ConfigPath, "config", "",
		"Path to the config file. Defaults to ~/.tabletsync.yaml")
	rootCmd.PersistentFlags().BoolVar(&util.DryRun, "dry-run", false,
		"Show what would be done without changing anything")

	rootCmd.AddCommand(
		bugtool.New(),
		catalogCmd.New(),
		configCmd.New(),
		index.New(),
		organize.New(),
		ping.New(),
		pull.New(),
		runCmd.New(),
		status.New(),
		version.New(),
	)

	// Cancel in-progress syncs on Ctrl-C so that partial downloads are
	// cleaned up.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.HandleFatalError(err)
	}
}
