package status

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/tabletsync/pkg/catalog"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/materialize"
)

var currentTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const locations = "Data locations:\n" +
	"  Config:    /home/user/.tabletsync.yaml\n" +
	"  Base:      /tablet\n" +
	"  Raw:       /tablet/data/raw\n" +
	"  Catalog:   /tablet/data/catalog.json\n" +
	"  Organized: /tablet/data/organized\n"

func setup(cfg config.Config) *bytes.Buffer {
	fs = afero.NewMemMapFs()
	loadConfig = func() (config.Config, error) { return cfg, nil }
	now = func() time.Time { return currentTime }
	configPath = func() (string, error) { return "/home/user/.tabletsync.yaml", nil }

	var out bytes.Buffer
	stdout = &out
	return &out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BaseDir = "/tablet"
	cfg.Password = "secret"
	return cfg
}

func TestStatusFresh(t *testing.T) {
	out := setup(testConfig())

	require.NoError(t, main())
	assert.Equal(t, "COMPONENT  STATUS  DETAILS\n"+
		"Tablet     ✓       root@10.11.99.1\n"+
		"Raw data   ✗       Not synced yet\n"+
		"Catalog    ✗       Not built yet\n"+
		"Organized  ✗       Not organized yet\n"+
		"\n"+locations+"\n"+
		"Next step: Run `tabletsync pull` to download the documents.\n", out.String())
}

func TestStatusOrganized(t *testing.T) {
	cfg := testConfig()
	out := setup(cfg)

	for _, name := range []string{"c1.metadata", "d1.metadata", "d1.content", "d1/p1.rm"} {
		path := filepath.Join(cfg.RawDir(), name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, afero.WriteFile(fs, path, []byte("{}"), 0644))
	}

	c := catalog.New([]catalog.Node{
		{ID: "c1", Name: "Notes", Kind: catalog.KindCollection},
		{ID: "d1", Name: "Draft", Kind: catalog.KindDocument, Parent: "c1",
			Subtype: catalog.SubtypePDF},
	}, 0)
	c.GeneratedAt = currentTime.Add(-3 * time.Hour)
	require.NoError(t, catalog.Write(fs, cfg.CatalogPath(), c))

	for _, name := range []string{"Notes/Draft.pdf", "Book.pdf", materialize.StateFile} {
		path := filepath.Join(cfg.OrganizedDir(), name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0644))
	}

	require.NoError(t, main())
	assert.Equal(t, "COMPONENT  STATUS  DETAILS\n"+
		"Tablet     ✓       root@10.11.99.1\n"+
		"Raw data   ✓       2 records\n"+
		"Catalog    ✓       1 documents, 1 collections, built 3 hours ago\n"+
		"Organized  ✓       2 top-level items\n"+
		"\n"+locations+"\n"+
		"Everything is up to date. Run `tabletsync run` to sync again.\n", out.String())
}

func TestStatusUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Host = ""
	out := setup(cfg)

	require.NoError(t, main())
	assert.Contains(t, out.String(), "Tablet     ✗       Host is not configured\n")
	assert.Contains(t, out.String(),
		"Next step: Run `tabletsync config` to set up the connection to the tablet.\n")
}

func TestStatusCorruptCatalog(t *testing.T) {
	cfg := testConfig()
	out := setup(cfg)
	require.NoError(t, afero.WriteFile(fs, cfg.CatalogPath(), []byte("{"), 0644))

	require.NoError(t, main())
	assert.Contains(t, out.String(), "Catalog    ✗       Corrupt\n")
}
