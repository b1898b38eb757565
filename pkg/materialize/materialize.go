// Package materialize turns the resolved hierarchy into real directories
// containing links to, or copies of, the synced documents.
package materialize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/catalog"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/hierarchy"
)

// TrashDir is the directory under the destination root that holds deleted
// nodes when they're included.
const TrashDir = "trash"

// Options control a single Materialize call.
type Options struct {
	DestRoot string

	// Copy makes independent copies of the sources rather than linking to
	// them.
	Copy bool

	// ClearDest removes everything under DestRoot first.
	ClearDest bool

	IncludeTrash bool

	// DryRun computes the result without changing anything on disk.
	DryRun bool
}

// Result describes what happened to each node.
type Result struct {
	// Paths maps document IDs to the path of their entry.
	Paths map[string]string

	// Dirs maps collection IDs to their directory.
	Dirs map[string]string

	Created   int
	Unchanged int

	// Skipped counts documents without a source file.
	Skipped int
	Failed  int

	// Excluded counts deleted nodes that weren't materialized.
	Excluded int

	// Removed counts entries of earlier runs that no longer belong to a
	// document.
	Removed int
}

func (r Result) String() string {
	return fmt.Sprintf("%d created, %d unchanged, %d skipped, %d failed, %d excluded",
		r.Created, r.Unchanged, r.Skipped, r.Failed, r.Excluded)
}

// Materializer places documents from the raw directory into a destination
// tree.
type Materializer struct {
	Fs     afero.Fs
	RawDir string
}

// New returns a Materializer that reads sources from `rawDir`.
func New(fs afero.Fs, rawDir string) Materializer {
	return Materializer{Fs: fs, RawDir: rawDir}
}

type claim struct {
	id    string
	isDir bool
}

// run holds the state of a single Materialize call.
type run struct {
	Materializer
	opts     Options
	resolved map[string]hierarchy.ResolvedPath
	linker   afero.Linker

	claims   map[string]claim
	previous state

	// cleared is set for dry runs that would have cleared the destination.
	cleared bool

	// previousPaths are the documents placed by the previous run.
	previousPaths map[string]bool

	// failed holds the documents that couldn't be placed. Their previous
	// entries are left alone.
	failed map[string]bool
	result Result
}

// Materialize creates the destination tree. Only errors with the destination
// root itself are returned. Problems with individual entries are logged and
// counted in the result.
func (m Materializer) Materialize(c catalog.Catalog,
	resolved map[string]hierarchy.ResolvedPath, opts Options) (Result, error) {

	if !opts.DryRun {
		if opts.ClearDest {
			if err := m.Fs.RemoveAll(opts.DestRoot); err != nil {
				return Result{}, errors.WithContext(err, "clear destination")
			}
		}

		if err := m.Fs.MkdirAll(opts.DestRoot, 0755); err != nil {
			return Result{}, errors.WithContext(err, "create destination")
		}
	}

	r := run{
		Materializer: m,
		opts:         opts,
		resolved:     resolved,
		claims: map[string]claim{
			filepath.Join(opts.DestRoot, StateFile): {},
		},
		cleared: opts.DryRun && opts.ClearDest,
		failed:  map[string]bool{},
		result: Result{
			Paths: map[string]string{},
			Dirs:  map[string]string{},
		},
	}

	if opts.IncludeTrash {
		r.claims[filepath.Join(opts.DestRoot, TrashDir)] = claim{isDir: true}
	}

	if !opts.Copy {
		linker, ok := m.Fs.(afero.Linker)
		if ok {
			r.linker = linker
		} else {
			log.Warn("The filesystem doesn't support symlinks. Copying instead.")
		}
	}

	if !r.cleared {
		previous, err := loadState(m.Fs, opts.DestRoot)
		if err != nil {
			log.WithError(err).Warn("Failed to load the previous organize state. " +
				"Existing entries may be duplicated.")
		}
		r.previous = previous
	}
	r.previousPaths = map[string]bool{}
	for _, rel := range r.previous.Entries {
		r.previousPaths[filepath.Join(opts.DestRoot, rel)] = true
	}

	r.placeCollections(c.Collections)
	r.placeDocuments(c.Documents)
	r.removeStale()
	if opts.DryRun {
		return r.result, nil
	}

	next := state{Entries: map[string]string{}}
	for id, path := range r.result.Paths {
		if rel, err := filepath.Rel(opts.DestRoot, path); err == nil {
			next.Entries[id] = rel
		}
	}
	if err := writeState(m.Fs, opts.DestRoot, next); err != nil {
		log.WithError(err).Warn("Failed to save organize state")
	}
	return r.result, nil
}

// entry is a node waiting to be placed.
type entry struct {
	id     string
	name   string
	parent string
	path   hierarchy.ResolvedPath
	doc    catalog.Document
}

// key orders entries by their location.
func (e entry) key() string {
	key := strings.Join(e.path.Segments, "/")
	if e.path.Trashed {
		key = TrashDir + "/" + key
	}
	return key
}

func (r *run) pathOf(id, name string) hierarchy.ResolvedPath {
	if path, ok := r.resolved[id]; ok && len(path.Segments) > 0 {
		return path
	}
	return hierarchy.ResolvedPath{Segments: []string{hierarchy.Sanitize(name)}}
}

// included filters out trashed entries, counting them as excluded.
func (r *run) included(e entry) bool {
	if e.path.Trashed && !r.opts.IncludeTrash {
		r.result.Excluded++
		log.WithField("id", e.id).WithField("name", e.name).Debug("Excluding trashed node")
		return false
	}
	return true
}

// parentDir returns the directory that the entry should be placed in.
// Collections are placed before their contents, so the directory of the
// parent collection is used if it was created. That way, entries follow
// their parent if it had to be renamed.
func (r *run) parentDir(e entry) string {
	base := r.opts.DestRoot
	if e.path.Trashed {
		base = filepath.Join(base, TrashDir)
	}

	if e.path.Cyclic {
		return base
	}

	if dir, ok := r.result.Dirs[e.parent]; ok {
		return dir
	}
	return filepath.Join(append([]string{base}, e.path.Parents()...)...)
}

func (r *run) placeCollections(collections []catalog.Collection) {
	var entries []entry
	for _, col := range collections {
		e := entry{
			id:     col.UUID,
			name:   col.Name,
			parent: col.Parent,
			path:   r.pathOf(col.UUID, col.Name),
		}
		if r.included(e) {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if len(a.path.Segments) != len(b.path.Segments) {
			return len(a.path.Segments) < len(b.path.Segments)
		}
		if a.key() != b.key() {
			return a.key() < b.key()
		}
		return a.id < b.id
	})

	for _, e := range entries {
		dir := r.parentDir(e)
		if err := r.mkdirAll(dir); err != nil {
			r.fail(e, err)
			continue
		}

		path, err := r.claim(dir, e.path.Name(), "", e.id, true, r.isDir)
		if err != nil {
			r.fail(e, err)
			continue
		}

		if err := r.mkdirAll(path); err != nil {
			r.fail(e, err)
			continue
		}
		r.result.Dirs[e.id] = path
	}
}

func (r *run) placeDocuments(documents []catalog.Document) {
	var entries []entry
	for _, doc := range documents {
		e := entry{
			id:     doc.UUID,
			name:   doc.Title,
			parent: doc.Parent,
			path:   r.pathOf(doc.UUID, doc.Title),
			doc:    doc,
		}
		if r.included(e) {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.key() != b.key() {
			return a.key() < b.key()
		}
		return a.id < b.id
	})

	for _, e := range entries {
		r.placeDocument(e)
	}
}

func (r *run) placeDocument(e entry) {
	src, ext, ok := r.findSource(e.doc)
	if !ok {
		r.result.Skipped++
		log.WithField("id", e.id).WithField("name", e.name).Debug(
			"No source found for document. Skipping.")
		return
	}

	dir := r.parentDir(e)
	if err := r.mkdirAll(dir); err != nil {
		r.fail(e, err)
		return
	}

	ours := func(path string, info os.FileInfo) bool {
		if rel, err := filepath.Rel(r.opts.DestRoot, path); err == nil &&
			r.previous.Entries[e.id] == rel {
			return true
		}
		return isSymlink(info) && linksTo(r.Fs, path, src)
	}

	path, err := r.claim(dir, e.path.Name(), ext, e.id, false, ours)
	if err != nil {
		r.fail(e, err)
		return
	}

	changed, err := r.place(src, path)
	if err != nil {
		r.fail(e, err)
		return
	}

	r.result.Paths[e.id] = path
	if changed {
		r.result.Created++
		log.WithField("path", path).Debug("Placed document")
	} else {
		r.result.Unchanged++
	}
}

// place creates or refreshes the entry at `path`. The path is either free, or
// holds an entry created for the same document.
func (r *run) place(src, path string) (bool, error) {
	info, err := r.lstat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, errors.WithContext(err, "stat")
	}

	if r.opts.DryRun {
		switch {
		case !exists:
			return true, nil
		case r.linker != nil:
			return !isSymlink(info) || !linksTo(r.Fs, path, src), nil
		case isSymlink(info):
			return true, nil
		default:
			changed, err := outdated(r.Fs, src, path)
			return changed, errors.WithContext(err, "compare")
		}
	}

	if r.linker != nil {
		if exists && isSymlink(info) && linksTo(r.Fs, path, src) {
			return false, nil
		}
		if exists {
			if err := r.Fs.RemoveAll(path); err != nil {
				return false, errors.WithContext(err, "remove outdated entry")
			}
		}
		return true, errors.WithContext(symlink(r.linker, src, path), "link")
	}

	// Switching from links to copies.
	if exists && isSymlink(info) {
		if err := r.Fs.Remove(path); err != nil {
			return false, errors.WithContext(err, "remove link")
		}
	}

	changed, err := copyEntry(r.Fs, src, path)
	return changed, errors.WithContext(err, "copy")
}

// findSource returns the raw path of the document's content, and the
// extension that its entry should have. The format that matches the
// document's type is preferred.
func (r *run) findSource(doc catalog.Document) (path, ext string, ok bool) {
	dir := filepath.Join(r.RawDir, doc.UUID)
	pdf := filepath.Join(r.RawDir, doc.UUID+".pdf")
	epub := filepath.Join(r.RawDir, doc.UUID+".epub")

	type candidate struct {
		path  string
		ext   string
		isDir bool
	}
	var candidates []candidate
	switch doc.Type {
	case catalog.SubtypeNotebook:
		candidates = []candidate{{dir, "", true}, {pdf, ".pdf", false}, {epub, ".epub", false}}
	case catalog.SubtypeEPUB:
		candidates = []candidate{{epub, ".epub", false}, {pdf, ".pdf", false}, {dir, "", true}}
	default:
		candidates = []candidate{{pdf, ".pdf", false}, {epub, ".epub", false}, {dir, "", true}}
	}

	for _, c := range candidates {
		info, err := r.Fs.Stat(c.path)
		if err == nil && info.IsDir() == c.isDir {
			return c.path, c.ext, true
		}
	}
	return "", "", false
}

// claim finds a path in `dir` for the node that no other node has claimed,
// adding " (n)" to the name until one is found. An existing path is only used
// if `reusable` returns true for it. Directories may be shared by several
// collections with the same name.
func (r *run) claim(dir, name, ext, id string, isDir bool,
	reusable func(string, os.FileInfo) bool) (string, error) {

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)", name, i)
		}
		path := filepath.Join(dir, candidate+ext)

		if owner, ok := r.claims[path]; ok {
			if isDir && owner.isDir {
				return path, nil
			}
			continue
		}

		info, err := r.lstat(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return "", errors.WithContext(err, "stat")
		case !reusable(path, info):
			continue
		}

		r.claims[path] = claim{id: id, isDir: isDir}
		return path, nil
	}
}

// isDir returns whether a collection can use the existing path. Notebooks
// copied by a previous run are directories too, so they're excluded.
func (r *run) isDir(path string, info os.FileInfo) bool {
	return info.IsDir() && !isSymlink(info) && !r.previousPaths[path]
}

// removeStale deletes the entries of the previous run that weren't placed
// again, such as renamed, moved or deleted documents. Links that no longer
// point into the raw directory were changed by the user, and are kept.
func (r *run) removeStale() {
	var stale []string
	for id, rel := range r.previous.Entries {
		if r.failed[id] || !isLocal(rel) {
			continue
		}

		path := filepath.Join(r.opts.DestRoot, rel)
		if _, ok := r.claims[path]; ok {
			continue
		}
		stale = append(stale, path)
	}
	sort.Strings(stale)

	for _, path := range stale {
		info, err := r.lstat(path)
		if err != nil {
			continue
		}

		if isSymlink(info) && !linksInto(r.Fs, path, r.RawDir) {
			continue
		}

		if r.opts.DryRun {
			r.result.Removed++
			continue
		}

		if err := r.Fs.RemoveAll(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to remove stale entry")
			continue
		}
		r.result.Removed++
		log.WithField("path", path).Debug("Removed stale entry")
		r.removeEmptyDirs(filepath.Dir(path))
	}
}

// removeEmptyDirs removes `dir` and its parents up to the destination root
// while they're empty and unclaimed.
func (r *run) removeEmptyDirs(dir string) {
	for isLocal(relTo(r.opts.DestRoot, dir)) {
		if _, ok := r.claims[dir]; ok {
			return
		}

		empty, err := afero.IsEmpty(r.Fs, dir)
		if err != nil || !empty {
			return
		}

		if err := r.Fs.Remove(dir); err != nil {
			return
		}
		log.WithField("path", dir).Debug("Removed empty directory")
		dir = filepath.Dir(dir)
	}
}

// lstat pretends that the destination is empty if a dry run would have
// cleared it.
func (r *run) lstat(path string) (os.FileInfo, error) {
	if r.cleared {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	return lstat(r.Fs, path)
}

func (r *run) mkdirAll(dir string) error {
	if r.opts.DryRun {
		return nil
	}
	return r.Fs.MkdirAll(dir, 0755)
}

func (r *run) fail(e entry, err error) {
	r.failed[e.id] = true
	r.result.Failed++
	log.WithError(err).WithField("id", e.id).WithField("name", e.name).Warn(
		"Failed to organize entry")
}
