package catalog

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
	"github.com/sidkik/tabletsync/pkg/errors"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	fs                   = afero.NewOsFs()
	loadConfig           = util.LoadConfig
	now                  = time.Now
)

// New creates a new `catalog` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the catalog written by the last index",
	}

	var subtype string
	var includeTrashed bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Run: func(_ *cobra.Command, _ []string) {
			run(func(c catalog.Catalog) error {
				printDocuments(c.List(catalog.Subtype(subtype), includeTrashed))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&subtype, "type", "",
		"Only list documents of this type (notebook, pdf, epub)")
	listCmd.Flags().BoolVar(&includeTrashed, "trash", false, "Include deleted documents")

	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search document titles",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			run(func(c catalog.Catalog) error {
				printDocuments(c.Search(strings.Join(args, " ")))
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show UUID",
		Short: "Show the details of a document",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			run(func(c catalog.Catalog) error {
				return showDocument(c, args[0])
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate counts",
		Run: func(_ *cobra.Command, _ []string) {
			run(func(c catalog.Catalog) error {
				printStats(c)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, searchCmd, showCmd, statsCmd)
	return cmd
}

func run(fn func(catalog.Catalog) error) {
	cfg, err := loadConfig()
	if err != nil {
		util.HandleFatalError(err)
		return
	}

	c, err := catalog.Load(fs, cfg.CatalogPath())
	if err != nil {
		util.HandleFatalError(errors.WithContext(err, "load catalog"))
		return
	}

	if err := fn(c); err != nil {
		util.HandleFatalError(err)
	}
}

func modified(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return humanize.RelTime(time.UnixMilli(ms), now(), "ago", "from now")
}

func printDocuments(docs []catalog.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(stdout, "No documents found.")
		return
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tTITLE\tTYPE\tPAGES\tMODIFIED")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			doc.UUID, doc.Title, doc.Type, doc.Pages, modified(doc.Modified))
	}
	w.Flush()
}

func showDocument(c catalog.Catalog, id string) error {
	doc, ok := c.Find(id)
	if !ok {
		return errors.NewFriendlyError("No document with UUID %q. "+
			"Run `tabletsync index` if it was added recently.", id)
	}

	folder := "(root)"
	switch {
	case doc.IsTrashed:
		folder = "(trash)"
	case doc.Parent != "":
		folder = doc.Parent
		for _, col := range c.Collections {
			if col.UUID == doc.Parent {
				folder = col.Name
			}
		}
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "UUID:\t%s\n", doc.UUID)
	fmt.Fprintf(w, "Title:\t%s\n", doc.Title)
	fmt.Fprintf(w, "Type:\t%s\n", doc.Type)
	fmt.Fprintf(w, "Folder:\t%s\n", folder)
	fmt.Fprintf(w, "Pages:\t%d\n", doc.Pages)
	fmt.Fprintf(w, "Pinned:\t%t\n", doc.Pinned)
	fmt.Fprintf(w, "Modified:\t%s\n", modified(doc.Modified))
	return w.Flush()
}

func printStats(c catalog.Catalog) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Documents:\t%s\n", humanize.Comma(int64(c.TotalDocuments)))
	fmt.Fprintf(w, "Collections:\t%s\n", humanize.Comma(int64(c.TotalCollections)))
	fmt.Fprintf(w, "Notebooks:\t%s\n", humanize.Comma(int64(c.Stats.Notebooks)))
	fmt.Fprintf(w, "PDFs:\t%s\n", humanize.Comma(int64(c.Stats.PDFs)))
	fmt.Fprintf(w, "EPUBs:\t%s\n", humanize.Comma(int64(c.Stats.EPUBs)))
	fmt.Fprintf(w, "Trashed:\t%s\n", humanize.Comma(int64(c.Stats.Trashed)))
	fmt.Fprintf(w, "Pages:\t%s\n", humanize.Comma(int64(c.Stats.TotalPages)))
	fmt.Fprintf(w, "Skipped records:\t%s\n", humanize.Comma(int64(c.Stats.SkippedRecords)))
	if !c.GeneratedAt.IsZero() {
		fmt.Fprintf(w, "Indexed:\t%s\n", humanize.RelTime(c.GeneratedAt, now(), "ago", "from now"))
	}
	w.Flush()
}
