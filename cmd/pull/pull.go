package pull

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/pipeline"
	"github.com/sidkik/tabletsync/pkg/sync"
)

// Mocked out for unit testing.
var (
	fs                   = afero.NewOsFs()
	stdout     io.Writer = os.Stdout
	loadConfig           = util.LoadValidConfig
	newSyncer            = func(cfg config.Config) pipeline.Syncer {
		return util.NewSyncEngine(cfg)
	}
)

// New creates a new `pull` command.
func New() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download new and changed documents from the tablet",
		Long: "Mirror the tablet's document store into the raw data directory.\n" +
			"Only files whose size or modification time changed are downloaded.",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := main(cmd.Context(), force, util.DryRun); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Download every file, even if unchanged")
	return cmd
}

func main(ctx context.Context, force, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := pipeline.Pipeline{Config: cfg, Fs: fs, Syncer: newSyncer(cfg)}
	if dryRun {
		mode := "incremental"
		if force {
			mode = "full"
		}
		fmt.Fprintf(stdout, "Dry run: %s sync from %s@%s:%s to %s\n",
			mode, cfg.User, cfg.Host, cfg.RemotePath, cfg.RawDir())

		plan, err := p.PlanSync(ctx, force)
		if err != nil {
			return err
		}
		PrintPlan(stdout, plan)
		return nil
	}

	fmt.Fprintf(stdout, "Syncing from %s...\n", cfg.Host)
	stats, err := p.Sync(ctx, force)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Sync complete: %s\n", stats)
	return nil
}

// PrintPlan lists the files that a sync would download.
func PrintPlan(out io.Writer, plan []sync.Transfer) {
	if len(plan) == 0 {
		fmt.Fprintln(out, "Nothing to download.")
		return
	}

	var total int64
	for _, transfer := range plan {
		total += transfer.Size
	}
	fmt.Fprintf(out, "Would download %s files (%s):\n",
		humanize.Comma(int64(len(plan))), humanize.Bytes(uint64(total)))
	for _, transfer := range plan {
		fmt.Fprintf(out, "  %s (%s, %s)\n", transfer.Path,
			humanize.Bytes(uint64(transfer.Size)), transfer.Reason)
	}
}
