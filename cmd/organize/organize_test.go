package organize

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/pipeline"
)

func setup(t *testing.T) (config.Config, *bytes.Buffer) {
	cfg := config.Default()
	cfg.BaseDir = "/tablet"

	fs = afero.NewMemMapFs()
	loadConfig = func() (config.Config, error) { return cfg, nil }

	files := map[string]string{
		"c1.metadata": `{"visibleName": "Notes", "type": "CollectionType"}`,
		"a.metadata":  `{"visibleName": "Draft", "type": "DocumentType", "parent": "c1"}`,
		"a.content":   `{"fileType": "pdf", "pageCount": 1}`,
		"a.pdf":       "a",
		"b.metadata":  `{"visibleName": "Draft", "type": "DocumentType", "parent": "c1"}`,
		"b.content":   `{"fileType": "pdf", "pageCount": 1}`,
		"b.pdf":       "b",
	}
	for name, contents := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(cfg.RawDir(), name),
			[]byte(contents), 0644))
	}

	var out bytes.Buffer
	stdout = &out
	return cfg, &out
}

func TestOrganize(t *testing.T) {
	cfg, out := setup(t)

	err := main(context.Background(), pipeline.OrganizeOptions{Copy: true}, false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Organized 2 documents: "+
		"2 created, 0 unchanged, 0 skipped, 0 failed, 0 excluded\n", out.String())

	for _, name := range []string{"Draft.pdf", "Draft (1).pdf"} {
		exists, err := afero.Exists(fs, filepath.Join(cfg.OrganizedDir(), "Notes", name))
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
}

func TestOrganizeDryRun(t *testing.T) {
	cfg, out := setup(t)

	opts := pipeline.OrganizeOptions{Copy: true, DryRun: true}
	require.NoError(t, main(context.Background(), opts, false, time.Second))
	assert.Equal(t, "Dry run: organize /tablet/data/raw into /tablet/data/organized "+
		"(copy: true, clear: false, include trash: false)\n"+
		"Would organize 2 documents: "+
		"2 created, 0 unchanged, 0 skipped, 0 failed, 0 excluded\n", out.String())

	for _, path := range []string{cfg.OrganizedDir(), cfg.CatalogPath()} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}

	err := main(context.Background(), opts, true, time.Second)
	assert.EqualError(t, err, "--watch can't be combined with --dry-run")
}

func TestOrganizeRemovesStaleEntries(t *testing.T) {
	cfg, out := setup(t)

	opts := pipeline.OrganizeOptions{Copy: true}
	require.NoError(t, main(context.Background(), opts, false, time.Second))

	require.NoError(t, fs.Remove(filepath.Join(cfg.RawDir(), "b.metadata")))
	out.Reset()
	require.NoError(t, main(context.Background(), opts, false, time.Second))
	assert.Equal(t, "Organized 1 documents: "+
		"0 created, 1 unchanged, 0 skipped, 0 failed, 0 excluded\n"+
		"Removed 1 stale entries.\n", out.String())

	exists, err := afero.Exists(fs, filepath.Join(cfg.OrganizedDir(), "Notes", "Draft (1).pdf"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFlags(t *testing.T) {
	cmd := New()
	require.NoError(t, cmd.ParseFlags([]string{"--copy", "--clear", "--dest", "/out",
		"--include-trash", "--watch", "--quiet", "5s"}))

	for _, name := range []string{"copy", "clear", "include-trash", "watch"} {
		val, err := cmd.Flags().GetBool(name)
		require.NoError(t, err)
		assert.True(t, val, name)
	}

	dest, err := cmd.Flags().GetString("dest")
	require.NoError(t, err)
	assert.Equal(t, "/out", dest)

	quiet, err := cmd.Flags().GetDuration("quiet")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, quiet)
}
