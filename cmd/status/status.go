package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/catalog"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/materialize"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	fs                   = afero.NewOsFs()
	loadConfig           = util.LoadConfig
	now                  = time.Now
	configPath           = func() (string, error) {
		if util.ConfigPath != "" {
			return util.ConfigPath, nil
		}
		return config.GetUserConfigPath()
	}
)

// New creates a new `status` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what has been synced, indexed, and organized",
		Run: func(_ *cobra.Command, _ []string) {
			if err := main(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

// component is a row of the status table. `next` is the command that moves
// an unready component forward.
type component struct {
	name    string
	ready   bool
	details string
	next    string
}

func main() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, err := rawStatus(cfg)
	if err != nil {
		return err
	}

	index, err := catalogStatus(cfg)
	if err != nil {
		return err
	}

	organized, err := organizedStatus(cfg)
	if err != nil {
		return err
	}

	components := []component{tabletStatus(cfg), raw, index, organized}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAILS")
	for _, c := range components {
		mark := "✗"
		if c.ready {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.name, mark, c.details)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	path, err := configPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Data locations:")
	w = tabwriter.NewWriter(stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "  Config:\t%s\n", path)
	fmt.Fprintf(w, "  Base:\t%s\n", cfg.BaseDir)
	fmt.Fprintf(w, "  Raw:\t%s\n", cfg.RawDir())
	fmt.Fprintf(w, "  Catalog:\t%s\n", cfg.CatalogPath())
	fmt.Fprintf(w, "  Organized:\t%s\n", cfg.OrganizedDir())
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	for _, c := range components {
		if !c.ready {
			fmt.Fprintf(stdout, "Next step: %s\n", c.next)
			return nil
		}
	}
	fmt.Fprintln(stdout, "Everything is up to date. Run `tabletsync run` to sync again.")
	return nil
}

func tabletStatus(cfg config.Config) component {
	c := component{
		name:    "Tablet",
		ready:   true,
		details: fmt.Sprintf("%s@%s", cfg.User, cfg.Host),
		next:    "Run `tabletsync config` to set up the connection to the tablet.",
	}

	var configErr errors.ConfigError
	if err := cfg.Validate(); errors.As(err, &configErr) {
		c.ready = false
		c.details = strings.Join(configErr.Issues, "; ")
	}
	return c
}

func rawStatus(cfg config.Config) (component, error) {
	c := component{
		name:    "Raw data",
		details: "Not synced yet",
		next:    "Run `tabletsync pull` to download the documents.",
	}

	files, err := afero.ReadDir(fs, cfg.RawDir())
	switch {
	case os.IsNotExist(err):
		return c, nil
	case err != nil:
		return component{}, errors.WithContext(err, "read raw directory")
	}

	var records int
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), catalog.MetadataExt) {
			records++
		}
	}

	if records != 0 {
		c.ready = true
		c.details = fmt.Sprintf("%s records", humanize.Comma(int64(records)))
	}
	return c, nil
}

func catalogStatus(cfg config.Config) (component, error) {
	c := component{
		name:    "Catalog",
		details: "Not built yet",
		next:    "Run `tabletsync index` to build the catalog.",
	}

	exists, err := afero.Exists(fs, cfg.CatalogPath())
	switch {
	case err != nil:
		return component{}, errors.WithContext(err, "stat catalog")
	case !exists:
		return c, nil
	}

	index, err := catalog.Load(fs, cfg.CatalogPath())
	if err != nil {
		c.details = "Corrupt"
		return c, nil
	}

	c.ready = true
	c.details = fmt.Sprintf("%s documents, %s collections, built %s",
		humanize.Comma(int64(index.TotalDocuments)),
		humanize.Comma(int64(index.TotalCollections)),
		humanize.RelTime(index.GeneratedAt, now(), "ago", "from now"))
	return c, nil
}

func organizedStatus(cfg config.Config) (component, error) {
	c := component{
		name:    "Organized",
		details: "Not organized yet",
		next:    "Run `tabletsync organize` to recreate the tablet's folders.",
	}

	files, err := afero.ReadDir(fs, cfg.OrganizedDir())
	switch {
	case os.IsNotExist(err):
		return c, nil
	case err != nil:
		return component{}, errors.WithContext(err, "read organized directory")
	}

	var items int
	for _, file := range files {
		if file.Name() != materialize.StateFile {
			items++
		}
	}

	c.ready = true
	c.details = fmt.Sprintf("%s top-level items", humanize.Comma(int64(items)))
	return c, nil
}
