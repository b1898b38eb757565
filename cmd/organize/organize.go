package organize

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/pipeline"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	fs                   = afero.NewOsFs()
	loadConfig           = util.LoadConfig
)

// New creates a new `organize` command.
func New() *cobra.Command {
	var opts pipeline.OrganizeOptions
	var watch bool
	var quiet time.Duration
	cmd := &cobra.Command{
		Use:   "organize",
		Short: "Recreate the tablet's folders from the synced documents",
		Long: "Rebuild the catalog, and then recreate the tablet's folder hierarchy\n" +
			"in the organized directory, linking to or copying each document.",
		Run: func(cmd *cobra.Command, _ []string) {
			opts.DryRun = util.DryRun
			if err := main(cmd.Context(), opts, watch, quiet); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	AddFlags(cmd, &opts)
	cmd.Flags().BoolVar(&watch, "watch", false,
		"Keep running, and organize again whenever the synced documents change")
	cmd.Flags().DurationVar(&quiet, "quiet", 2*time.Second,
		"With --watch, how long to wait for changes to settle before organizing")
	return cmd
}

// AddFlags registers the flags that control organizing.
func AddFlags(cmd *cobra.Command, opts *pipeline.OrganizeOptions) {
	cmd.Flags().StringVar(&opts.DestRoot, "dest", "",
		"Directory to organize into. Defaults to the organized directory under the base directory")
	cmd.Flags().BoolVar(&opts.Copy, "copy", false,
		"Copy the documents rather than linking to them")
	cmd.Flags().BoolVar(&opts.ClearDest, "clear", false,
		"Delete the destination directory before organizing")
	cmd.Flags().BoolVar(&opts.IncludeTrash, "include-trash", false,
		"Organize deleted documents into a trash directory")
}

func main(ctx context.Context, opts pipeline.OrganizeOptions, watch bool, quiet time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := pipeline.Pipeline{Config: cfg, Fs: fs}

	if opts.DryRun {
		if watch {
			return errors.NewFriendlyError("--watch can't be combined with --dry-run")
		}
		PrintOptions(stdout, cfg, opts)
	}

	if !watch {
		summary, err := p.Organize(opts)
		if err != nil {
			return err
		}
		PrintSummary(stdout, summary)
		return nil
	}

	fmt.Fprintf(stdout, "Watching %s for changes. Press Ctrl-C to stop.\n", cfg.RawDir())
	return pipeline.Watcher{
		Pipeline: p,
		Options:  opts,
		Quiet:    quiet,
		OnOrganize: func(summary pipeline.Summary, err error) {
			if err != nil {
				log.WithError(err).Error("Failed to organize")
				return
			}
			PrintSummary(stdout, summary)
		},
	}.Run(ctx)
}

// PrintOptions describes what a dry run of organize would do.
func PrintOptions(out io.Writer, cfg config.Config, opts pipeline.OrganizeOptions) {
	dest := opts.DestRoot
	if dest == "" {
		dest = cfg.OrganizedDir()
	}
	fmt.Fprintf(out, "Dry run: organize %s into %s (copy: %t, clear: %t, include trash: %t)\n",
		cfg.RawDir(), dest, opts.Copy, opts.ClearDest, opts.IncludeTrash || cfg.IncludeTrash)
}

// PrintSummary prints the outcome of an organize.
func PrintSummary(out io.Writer, summary pipeline.Summary) {
	res := summary.Materialized
	if summary.DryRun {
		fmt.Fprintf(out, "Would organize %d documents: %s\n", len(res.Paths), res)
		if res.Removed != 0 {
			fmt.Fprintf(out, "Would remove %d stale entries.\n", res.Removed)
		}
	} else {
		fmt.Fprintf(out, "Organized %d documents: %s\n", len(res.Paths), res)
		if res.Removed != 0 {
			fmt.Fprintf(out, "Removed %d stale entries.\n", res.Removed)
		}
	}
	if summary.Warnings != 0 {
		fmt.Fprintf(out, "%d records had problems. See the warnings above.\n", summary.Warnings)
	}
}
