package run

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/organize"
	"github.com/sidkik/tabletsync/cmd/pull"
	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/pipeline"
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

// New creates a new `run` command.
func New() *cobra.Command {
	var force bool
	var opts pipeline.OrganizeOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pull, index, and organize in one step",
		Run: func(cmd *cobra.Command, _ []string) {
			opts.DryRun = util.DryRun
			if err := main(cmd.Context(), force, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Download every file, even if unchanged")
	organize.AddFlags(cmd, &opts)
	return cmd
}

func main(ctx context.Context, force bool, opts pipeline.OrganizeOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := pipeline.Pipeline{
		Config: cfg,
		Fs:     fs,
		Syncer: newSyncer(cfg),
	}

	if opts.DryRun {
		mode := "incremental"
		if force {
			mode = "full"
		}
		fmt.Fprintf(stdout, "Dry run: %s sync from %s@%s:%s, then organize\n",
			mode, cfg.User, cfg.Host, cfg.RemotePath)
	} else {
		fmt.Fprintf(stdout, "Syncing from %s...\n", cfg.Host)
	}

	summary, err := p.Run(ctx, force, opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		pull.PrintPlan(stdout, summary.Planned)
		organize.PrintOptions(stdout, cfg, opts)
	} else {
		fmt.Fprintf(stdout, "Sync complete: %s\n", summary.Sync)
	}
	fmt.Fprintf(stdout, "Catalog: %d documents, %d collections\n",
		summary.Catalog.TotalDocuments, summary.Catalog.TotalCollections)
	organize.PrintSummary(stdout, summary)
	return nil
}
