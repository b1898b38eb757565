package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/tabletsync/pkg/catalog"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/sync"
)

// fakeSyncer writes sidecar records into the raw directory as if they had
// been downloaded.
type fakeSyncer struct {
	fs      afero.Fs
	records map[string]string
	err     error

	calls int
	plans int
	force bool
}

func (s *fakeSyncer) Synchronize(_ context.Context, _, localRoot string,
	forceFull bool) (sync.Stats, error) {
	s.calls++
	s.force = forceFull
	if s.err != nil {
		return sync.Stats{Errors: 1}, s.err
	}

	for name, contents := range s.records {
		path := filepath.Join(localRoot, name)
		if err := afero.WriteFile(s.fs, path, []byte(contents), 0644); err != nil {
			return sync.Stats{}, err
		}
	}
	return sync.Stats{Downloaded: len(s.records)}, nil
}

func (s *fakeSyncer) Plan(_ context.Context, _, localRoot string,
	forceFull bool) ([]sync.Transfer, error) {
	s.plans++
	if s.err != nil {
		return nil, s.err
	}

	var plan []sync.Transfer
	for name, contents := range s.records {
		exists, err := afero.Exists(s.fs, filepath.Join(localRoot, name))
		if err != nil {
			return nil, err
		}
		if !exists || forceFull {
			plan = append(plan, sync.Transfer{Path: name, Size: int64(len(contents)),
				Reason: sync.ReasonNew})
		}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Path < plan[j].Path })
	return plan, nil
}

func testPipeline(t *testing.T) (Pipeline, *fakeSyncer) {
	fs := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.BaseDir = "/tablet"
	require.NoError(t, fs.MkdirAll(cfg.RawDir(), 0755))

	syncer := &fakeSyncer{
		fs: fs,
		records: map[string]string{
			"c1.metadata":  `{"visibleName": "2024", "type": "CollectionType"}`,
			"d1.metadata":  `{"visibleName": "Trip Plans", "type": "DocumentType", "parent": "c1"}`,
			"d1.content":   `{"fileType": "pdf", "pageCount": 2}`,
			"d1.pdf":       "pdf",
			"d2.metadata":  `{"visibleName": "Gone", "type": "DocumentType", "parent": "trash"}`,
			"d2.content":   `{"fileType": "pdf"}`,
			"d2.pdf":       "pdf",
			"bad.metadata": `{`,
		},
	}
	return Pipeline{Config: cfg, Fs: fs, Syncer: syncer}, syncer
}

func TestRun(t *testing.T) {
	p, syncer := testPipeline(t)

	summary, err := p.Run(context.Background(), true, OrganizeOptions{Copy: true})
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.calls)
	assert.True(t, syncer.force)

	assert.Equal(t, 8, summary.Sync.Downloaded)
	assert.Equal(t, 2, summary.Catalog.TotalDocuments)
	assert.Equal(t, 1, summary.Catalog.Stats.SkippedRecords)
	assert.Equal(t, 1, summary.Warnings)
	assert.Equal(t, map[string]string{
		"d1": filepath.Join(p.Config.OrganizedDir(), "2024", "Trip Plans.pdf"),
	}, summary.Materialized.Paths)
	assert.Equal(t, 1, summary.Materialized.Excluded)

	written, err := catalog.Load(p.Fs, p.Config.CatalogPath())
	require.NoError(t, err)
	assert.Equal(t, summary.Catalog, written)
}

func TestRunIncludeTrashFromConfig(t *testing.T) {
	p, _ := testPipeline(t)
	p.Config.IncludeTrash = true

	summary, err := p.Run(context.Background(), false, OrganizeOptions{Copy: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Config.OrganizedDir(), "trash", "Gone.pdf"),
		summary.Materialized.Paths["d2"])
}

func TestRunSyncFailure(t *testing.T) {
	p, syncer := testPipeline(t)
	syncer.err = errors.ConnectionError{Host: "10.11.99.1", Err: fmt.Errorf("i/o timeout")}

	summary, err := p.Run(context.Background(), false, OrganizeOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, summary.Sync.Errors)

	var connErr errors.ConnectionError
	assert.True(t, errors.As(err, &connErr))

	exists, err := afero.Exists(p.Fs, p.Config.CatalogPath())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunDryRun(t *testing.T) {
	p, syncer := testPipeline(t)
	_, err := p.Sync(context.Background(), false)
	require.NoError(t, err)
	syncer.records["d3.pdf"] = "new"

	summary, err := p.Run(context.Background(), false, OrganizeOptions{Copy: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 1, syncer.plans)
	assert.Equal(t, []sync.Transfer{
		{Path: "d3.pdf", Size: 3, Reason: sync.ReasonNew},
	}, summary.Planned)

	assert.Equal(t, 2, summary.Catalog.TotalDocuments)
	assert.Equal(t, 1, summary.Materialized.Created)

	for _, path := range []string{p.Config.CatalogPath(), p.Config.OrganizedDir()} {
		exists, err := afero.Exists(p.Fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestOrganizeCustomDest(t *testing.T) {
	p, _ := testPipeline(t)
	_, err := p.Sync(context.Background(), false)
	require.NoError(t, err)

	summary, err := p.Organize(OrganizeOptions{DestRoot: "/elsewhere", Copy: true})
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/2024/Trip Plans.pdf", summary.Materialized.Paths["d1"])
}

func TestIndexMissingRawDir(t *testing.T) {
	p, _ := testPipeline(t)
	require.NoError(t, p.Fs.RemoveAll(p.Config.RawDir()))

	_, _, err := p.Index()
	assert.Error(t, err)
}

func TestWatcher(t *testing.T) {
	p, _ := testPipeline(t)
	_, err := p.Sync(context.Background(), false)
	require.NoError(t, err)

	changes := make(chan struct{}, 1)
	var stopped bool
	defer func(orig func(string) (<-chan struct{}, func() error, error)) {
		watchDir = orig
	}(watchDir)
	watchDir = func(dir string) (<-chan struct{}, func() error, error) {
		assert.Equal(t, p.Config.RawDir(), dir)
		return changes, func() error {
			stopped = true
			return nil
		}, nil
	}

	clock := clockwork.NewFakeClock()
	results := make(chan Summary, 10)
	w := Watcher{
		Pipeline: p,
		Options:  OrganizeOptions{Copy: true},
		Quiet:    2 * time.Second,
		Clock:    clock,
		OnOrganize: func(summary Summary, err error) {
			assert.NoError(t, err)
			results <- summary
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	first := <-results
	assert.Equal(t, 2, first.Catalog.TotalDocuments)

	// A new document arrives.
	require.NoError(t, afero.WriteFile(p.Fs, filepath.Join(p.Config.RawDir(), "d3.metadata"),
		[]byte(`{"visibleName": "New", "type": "DocumentType"}`), 0644))
	require.NoError(t, afero.WriteFile(p.Fs, filepath.Join(p.Config.RawDir(), "d3.pdf"),
		[]byte("pdf"), 0644))
	changes <- struct{}{}

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	second := <-results
	assert.Equal(t, 3, second.Catalog.TotalDocuments)
	assert.Contains(t, second.Materialized.Paths, "d3")

	cancel()
	assert.NoError(t, <-done)
	assert.True(t, stopped)
}

func TestWatcherFailure(t *testing.T) {
	p, _ := testPipeline(t)
	defer func(orig func(string) (<-chan struct{}, func() error, error)) {
		watchDir = orig
	}(watchDir)
	watchDir = func(dir string) (<-chan struct{}, func() error, error) {
		return nil, nil, errors.FileNotFound{Path: dir}
	}

	var organized int
	err := Watcher{
		Pipeline:   p,
		Clock:      clockwork.NewFakeClock(),
		OnOrganize: func(Summary, error) { organized++ },
	}.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, organized)
}
