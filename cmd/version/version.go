package version

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/remote"
	"github.com/sidkik/tabletsync/pkg/version"
)

// Mocked out for unit testing.
var (
	stdout            io.Writer = os.Stdout
	loadConfig                  = util.LoadValidConfig
	readRemoteVersion           = remote.Version
)

// remoteVersionTimeout bounds how long we wait for the tablet, since it's
// often asleep.
const remoteVersionTimeout = 5 * time.Second

// New creates a new `version` command.
func New() *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of tabletsync and of the tablet's software",
		Run: func(cmd *cobra.Command, _ []string) {
			run(cmd.Context(), localOnly)
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local", false, "Don't connect to the tablet")
	return cmd
}

func run(ctx context.Context, localOnly bool) {
	fmt.Fprintf(stdout, "local version:  %s\n", version.String())
	if localOnly {
		return
	}

	// Failing to reach the tablet isn't fatal, since the local version was
	// already printed.
	remoteVersion, err := getRemoteVersion(ctx)
	if err != nil {
		log.WithError(err).Debug("Failed to get tablet version")
		remoteVersion = "unknown (tablet not reachable)"
	}
	fmt.Fprintf(stdout, "tablet version: %s\n", remoteVersion)
}

func getRemoteVersion(ctx context.Context) (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, remoteVersionTimeout)
	defer cancel()
	return readRemoteVersion(ctx, remote.CredentialsFromConfig(cfg))
}
