// Package pipeline runs the stages of tabletsync in order: sync, index,
// resolve, and organize. Each stage reads the durable output of the previous
// one from disk.
package pipeline

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/catalog"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/hierarchy"
	"github.com/sidkik/tabletsync/pkg/materialize"
	"github.com/sidkik/tabletsync/pkg/sync"
)

// Syncer mirrors the remote document store into a local directory.
type Syncer interface {
	Synchronize(ctx context.Context, remoteRoot, localRoot string,
		forceFull bool) (sync.Stats, error)

	// Plan lists the files that Synchronize would download.
	Plan(ctx context.Context, remoteRoot, localRoot string,
		forceFull bool) ([]sync.Transfer, error)
}

// Pipeline runs the stages against the directories in Config.
type Pipeline struct {
	Config config.Config
	Fs     afero.Fs
	Syncer Syncer
}

// OrganizeOptions control the organize stage.
type OrganizeOptions struct {
	// DestRoot defaults to the organized directory of the config.
	DestRoot  string
	Copy      bool
	ClearDest bool

	IncludeTrash bool

	// DryRun reports what would change without writing the catalog or the
	// destination.
	DryRun bool
}

// Summary is the outcome of each stage that ran.
type Summary struct {
	Sync         sync.Stats
	Catalog      catalog.Catalog
	Materialized materialize.Result

	// Planned is set instead of Sync by dry runs.
	Planned []sync.Transfer
	DryRun  bool

	// Warnings counts the records that couldn't be fully parsed, and the
	// nodes whose paths couldn't be fully resolved.
	Warnings int
}

// BuildCatalog builds the catalog from the raw directory without writing it.
func (p Pipeline) BuildCatalog() (catalog.Catalog, []catalog.Warning, error) {
	c, warnings, err := catalog.Build(p.Fs, p.Config.RawDir())
	if err != nil {
		return catalog.Catalog{}, nil, errors.WithContext(err, "build catalog")
	}
	return c, warnings, nil
}

// Index builds the catalog from the raw directory and writes it.
func (p Pipeline) Index() (catalog.Catalog, []catalog.Warning, error) {
	c, warnings, err := p.BuildCatalog()
	if err != nil {
		return catalog.Catalog{}, nil, err
	}

	if err := catalog.Write(p.Fs, p.Config.CatalogPath(), c); err != nil {
		return catalog.Catalog{}, nil, errors.WithContext(err, "write catalog")
	}

	log.WithField("documents", c.TotalDocuments).
		WithField("collections", c.TotalCollections).
		WithField("skipped", c.Stats.SkippedRecords).
		Debug("Wrote catalog")
	return c, warnings, nil
}

// Organize rebuilds the catalog, and then recreates the folder hierarchy in
// the destination directory.
func (p Pipeline) Organize(opts OrganizeOptions) (Summary, error) {
	index := p.Index
	if opts.DryRun {
		index = p.BuildCatalog
	}

	c, catalogWarnings, err := index()
	if err != nil {
		return Summary{}, err
	}

	resolved, resolveWarnings := hierarchy.ResolveAll(c.Nodes())

	destRoot := opts.DestRoot
	if destRoot == "" {
		destRoot = p.Config.OrganizedDir()
	}

	res, err := materialize.New(p.Fs, p.Config.RawDir()).Materialize(c, resolved,
		materialize.Options{
			DestRoot:     destRoot,
			Copy:         opts.Copy,
			ClearDest:    opts.ClearDest,
			IncludeTrash: opts.IncludeTrash || p.Config.IncludeTrash,
			DryRun:       opts.DryRun,
		})
	if err != nil {
		return Summary{}, errors.WithContext(err, "materialize")
	}

	return Summary{
		Catalog:      c,
		Materialized: res,
		Warnings:     len(catalogWarnings) + len(resolveWarnings),
		DryRun:       opts.DryRun,
	}, nil
}

// Sync mirrors the tablet into the raw directory.
func (p Pipeline) Sync(ctx context.Context, forceFull bool) (sync.Stats, error) {
	stats, err := p.Syncer.Synchronize(ctx, p.Config.RemotePath, p.Config.RawDir(), forceFull)
	if err != nil {
		return stats, errors.WithContext(err, "sync")
	}
	return stats, nil
}

// PlanSync lists the files that Sync would download.
func (p Pipeline) PlanSync(ctx context.Context, forceFull bool) ([]sync.Transfer, error) {
	plan, err := p.Syncer.Plan(ctx, p.Config.RemotePath, p.Config.RawDir(), forceFull)
	if err != nil {
		return nil, errors.WithContext(err, "plan sync")
	}
	return plan, nil
}

// Run syncs, and then organizes the result. A dry run plans the sync, and
// organizes the documents that are already local.
func (p Pipeline) Run(ctx context.Context, forceFull bool, opts OrganizeOptions) (Summary, error) {
	if opts.DryRun {
		plan, err := p.PlanSync(ctx, forceFull)
		if err != nil {
			return Summary{}, err
		}

		summary, err := p.Organize(opts)
		summary.Planned = plan
		return summary, err
	}

	stats, err := p.Sync(ctx, forceFull)
	if err != nil {
		return Summary{Sync: stats}, err
	}

	summary, err := p.Organize(opts)
	summary.Sync = stats
	return summary, err
}
