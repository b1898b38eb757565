package ping

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/remote"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	loadConfig           = util.LoadValidConfig
	ping                 = remote.Ping
)

// New creates a new `ping` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the tablet is reachable and accepts the credentials",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := main(cmd.Context()); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func main(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	creds := remote.CredentialsFromConfig(cfg)
	fmt.Fprintf(stdout, "Connecting to %s@%s...\n", creds.User, creds.Address())
	if err := ping(ctx, creds); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Connected. Documents will be synced from %s.\n", cfg.RemotePath)
	return nil
}
