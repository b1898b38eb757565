package index

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/pipeline"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	fs                   = afero.NewOsFs()
	loadConfig           = util.LoadConfig
)

// New creates a new `index` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the catalog from the synced documents",
		Run: func(_ *cobra.Command, _ []string) {
			if err := main(util.DryRun); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func main(dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := pipeline.Pipeline{Config: cfg, Fs: fs}
	index := p.Index
	if dryRun {
		fmt.Fprintf(stdout, "Dry run: index %s\n", cfg.RawDir())
		index = p.BuildCatalog
	}

	c, warnings, err := index()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Indexed %s documents and %s collections (%s pages).\n",
		humanize.Comma(int64(c.TotalDocuments)),
		humanize.Comma(int64(c.TotalCollections)),
		humanize.Comma(int64(c.Stats.TotalPages)))
	if len(warnings) != 0 {
		fmt.Fprintf(stdout, "%d records had problems. See the warnings above.\n",
			len(warnings))
	}
	if dryRun {
		fmt.Fprintf(stdout, "Would write catalog to %s\n", cfg.CatalogPath())
	} else {
		fmt.Fprintf(stdout, "Wrote catalog to %s\n", cfg.CatalogPath())
	}
	return nil
}
