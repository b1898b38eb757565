//go:build ci
// +build ci

package main

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/tabletsync/ci/util"
	cmdUtil "github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
)

type TestFunction func(*testing.T, *util.TestHelper)

// The tests share one tablet and run in order, so each builds on the state
// left by the previous one.
func TestTabletsync(t *testing.T) {
	homedir.DisableCache = true

	if _, err := exec.LookPath(util.Binary); err != nil {
		t.Fatalf("%s must be on the PATH: %s", util.Binary, err)
	}

	helper, err := util.NewTestHelper(t.TempDir())
	require.NoError(t, err)
	defer helper.Close()

	tests := []struct {
		name   string
		testFn TestFunction
	}{
		{"Ping", testPing},
		{"Version", testVersion},
		{"Run", testRun},
		{"Catalog", testCatalog},
		{"Incremental", testIncremental},
		{"Watch", testWatch},
		{"WrongPassword", testWrongPassword},
		{"BugTool", testBugTool},
	}

	writeRecord(t, helper, "c1", `{"visibleName": "2024", "type": "CollectionType", "parent": ""}`, "")
	writeRecord(t, helper, "d1",
		`{"visibleName": "Trip Plans", "type": "DocumentType", "parent": "c1", "lastModified": "1714560000000"}`,
		`{"fileType": "pdf", "pageCount": 3}`)
	writeFile(t, helper, "d1.pdf", "%PDF-1.4 trip")
	writeRecord(t, helper, "d2",
		`{"visibleName": "Ideas", "type": "DocumentType", "parent": "", "lastModified": "1714563600000"}`,
		`{"fileType": "notebook", "pages": ["p1"]}`)
	writeFile(t, helper, "d2/p1.rm", "strokes")
	writeRecord(t, helper, "d3",
		`{"visibleName": "Old", "type": "DocumentType", "parent": "trash"}`,
		`{"fileType": "pdf", "pageCount": 1}`)
	writeFile(t, helper, "d3.pdf", "%PDF-1.4 old")

	for _, test := range tests {
		if !t.Run(test.name, func(t *testing.T) { test.testFn(t, helper) }) {
			return
		}
	}
}

func testPing(t *testing.T, helper *util.TestHelper) {
	out, err := helper.Run(context.Background(), "ping")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Connected.")
}

func testVersion(t *testing.T, helper *util.TestHelper) {
	out, err := helper.Run(context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, string(out), "tablet version: "+helper.Tablet.Version)
}

func testRun(t *testing.T, helper *util.TestHelper) {
	out, err := helper.Run(context.Background(), "run")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Catalog: 3 documents, 1 collections")

	cfg, err := helper.Config()
	require.NoError(t, err)

	// Documents are linked into the raw directory by default.
	pdfPath := filepath.Join(cfg.OrganizedDir(), "2024", "Trip Plans.pdf")
	contents, err := ioutil.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 trip", string(contents))

	info, err := os.Lstat(pdfPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	info, err = os.Stat(filepath.Join(cfg.OrganizedDir(), "Ideas"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Lstat(filepath.Join(cfg.OrganizedDir(), "Old.pdf"))
	assert.True(t, os.IsNotExist(err), "trashed documents are excluded by default")
	_, err = os.Lstat(filepath.Join(cfg.OrganizedDir(), "trash"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(cfg.CatalogPath())
	assert.NoError(t, err)
}

func testCatalog(t *testing.T, helper *util.TestHelper) {
	out, err := helper.Run(context.Background(), "catalog", "search", "trip")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Trip Plans")
	assert.NotContains(t, string(out), "Ideas")

	out, err = helper.Run(context.Background(), "catalog", "show", "d1")
	require.NoError(t, err)
	assert.Contains(t, string(out), "2024")

	out, err = helper.Run(context.Background(), "catalog", "list", "--trash")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Old")
}

func testIncremental(t *testing.T, helper *util.TestHelper) {
	out, err := helper.Run(context.Background(), "pull")
	require.NoError(t, err)
	assert.Contains(t, string(out), "downloaded 0,")

	// Change the size so that the file is considered modified.
	writeFile(t, helper, "d1.pdf", "%PDF-1.4 trip, revised")
	out, err = helper.Run(context.Background(), "pull")
	require.NoError(t, err)
	assert.Contains(t, string(out), "downloaded 1,")

	out, err = helper.Run(context.Background(), "organize", "--copy", "--clear")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Organized 2 documents")

	cfg, err := helper.Config()
	require.NoError(t, err)
	pdfPath := filepath.Join(cfg.OrganizedDir(), "2024", "Trip Plans.pdf")
	info, err := os.Lstat(pdfPath)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular(), "--copy should replace the link")

	contents, err := ioutil.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 trip, revised", string(contents))
}

func testWatch(t *testing.T, helper *util.TestHelper) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	watchCtx, stopWatch := context.WithCancel(ctx)
	stdout, cmdErr, err := helper.Start(watchCtx, "organize", "--watch", "--quiet", "500ms")
	require.NoError(t, err)

	reader := util.NewStreamReader(stdout)
	require.NoError(t, util.WaitForOutput(ctx, reader, []byte("Organized 2 documents")))

	writeRecord(t, helper, "d4",
		`{"visibleName": "Recipes", "type": "DocumentType", "parent": "c1"}`,
		`{"fileType": "epub"}`)
	writeFile(t, helper, "d4.epub", "epub")
	_, err = helper.Run(ctx, "pull")
	require.NoError(t, err)

	cfg, err := helper.Config()
	require.NoError(t, err)
	epubPath := filepath.Join(cfg.OrganizedDir(), "2024", "Recipes.epub")
	assert.True(t, util.TestWithRetry(ctx, func() bool {
		_, err := os.Stat(epubPath)
		return err == nil
	}), "the new document should be organized without rerunning the command")

	stopWatch()
	for err := range cmdErr {
		assert.NoError(t, err)
	}
}

func testWrongPassword(t *testing.T, helper *util.TestHelper) {
	_, err := helper.RunWithEnv(context.Background(),
		[]string{config.PasswordEnvKey + "=wrong"}, "pull")

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, cmdUtil.ExitConnection, exitErr.ExitCode())
}

func testBugTool(t *testing.T, helper *util.TestHelper) {
	out := filepath.Join(t.TempDir(), "bug.tar.gz")
	_, err := helper.Run(context.Background(), "bug-tool", "--out", out)
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func writeRecord(t *testing.T, helper *util.TestHelper, id, metadata, content string) {
	writeFile(t, helper, id+".metadata", metadata)
	if content != "" {
		writeFile(t, helper, id+".content", content)
	}
}

func writeFile(t *testing.T, helper *util.TestHelper, path, contents string) {
	path = filepath.Join(helper.RemotePath, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644),
		fmt.Sprintf("write %s", path))
}
