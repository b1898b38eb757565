// Package catalog builds the summary of every document and collection in
// the synced document store, and reads and writes it as JSON.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/tabletsync/pkg/errors"
)

// Catalog is the artifact written after every index. Other tools read it, so
// the JSON field names must not change.
type Catalog struct {
	GeneratedAt      time.Time    `json:"generated_at"`
	TotalDocuments   int          `json:"total_documents"`
	TotalCollections int          `json:"total_collections"`
	Documents        []Document   `json:"documents"`
	Collections      []Collection `json:"collections"`
	Stats            Stats        `json:"stats"`
}

// Document is the catalog entry for a document.
type Document struct {
	UUID      string  `json:"uuid"`
	Title     string  `json:"title"`
	Type      Subtype `json:"type"`
	Parent    string  `json:"parent"`
	Modified  int64   `json:"modified"`
	Pinned    bool    `json:"pinned"`
	Pages     int     `json:"pages"`
	IsTrashed bool    `json:"is_trashed"`
}

// Collection is the catalog entry for a folder.
type Collection struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Parent   string `json:"parent"`
	Modified int64  `json:"modified"`
	Pinned   bool   `json:"pinned"`
}

// Stats are aggregate counts over the documents.
type Stats struct {
	Notebooks  int `json:"notebooks"`
	PDFs       int `json:"pdfs"`
	EPUBs      int `json:"epubs"`
	Trashed    int `json:"trashed"`
	TotalPages int `json:"total_pages"`

	// SkippedRecords counts metadata records that couldn't be parsed.
	SkippedRecords int `json:"skipped_records"`
}

// Warning describes a record that was skipped or only partially parsed.
type Warning struct {
	ID   string
	Path string
	Err  error
}

func (w Warning) String() string {
	return w.Path + ": " + w.Err.Error()
}

// Mocked out for unit testing.
var now = time.Now

// New creates a catalog from the given nodes. Entries are sorted by ID so
// that the output is deterministic.
func New(nodes []Node, skippedRecords int) Catalog {
	c := Catalog{
		GeneratedAt: now().UTC().Truncate(time.Second),
		Documents:   []Document{},
		Collections: []Collection{},
		Stats:       Stats{SkippedRecords: skippedRecords},
	}

	sorted := append([]Node{}, nodes...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	for _, node := range sorted {
		if node.IsCollection() {
			c.Collections = append(c.Collections, Collection{
				UUID:     node.ID,
				Name:     node.Name,
				Parent:   node.Parent,
				Modified: node.ModifiedAt,
				Pinned:   node.Pinned,
			})
			continue
		}

		doc := Document{
			UUID:      node.ID,
			Title:     node.Name,
			Type:      node.Subtype,
			Parent:    node.Parent,
			Modified:  node.ModifiedAt,
			Pinned:    node.Pinned,
			Pages:     node.PageCount,
			IsTrashed: node.IsTrashed(),
		}
		c.Documents = append(c.Documents, doc)
		c.Stats.add(doc)
	}

	c.TotalDocuments = len(c.Documents)
	c.TotalCollections = len(c.Collections)
	return c
}

func (s *Stats) add(doc Document) {
	switch doc.Type {
	case SubtypeNotebook:
		s.Notebooks++
	case SubtypePDF:
		s.PDFs++
	case SubtypeEPUB:
		s.EPUBs++
	}

	if doc.IsTrashed {
		s.Trashed++
	}
	s.TotalPages += doc.Pages
}

// Build parses every sidecar record in `rawDir`. Records that can't be
// parsed are skipped and returned as warnings. An error is only returned if
// the directory itself can't be read.
func Build(fs afero.Fs, rawDir string) (Catalog, []Warning, error) {
	entries, err := afero.ReadDir(fs, rawDir)
	if err != nil {
		return Catalog{}, nil, errors.WithContext(err, "list raw directory")
	}

	var nodes []Node
	var warnings []Warning
	var skipped int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), MetadataExt) {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), MetadataExt)
		node, warning, ok := readNode(fs, rawDir, id)
		if warning != nil {
			warnings = append(warnings, *warning)
			log.WithError(warning.Err).WithField("path", warning.Path).Warn(
				"Problem with sidecar record")
		}
		if !ok {
			skipped++
			continue
		}
		nodes = append(nodes, node)
	}

	return New(nodes, skipped), warnings, nil
}

// readNode returns ok=false if the node should be skipped.
func readNode(fs afero.Fs, rawDir, id string) (node Node, warning *Warning, ok bool) {
	metadataPath := filepath.Join(rawDir, id+MetadataExt)
	metadata, err := afero.ReadFile(fs, metadataPath)
	if err != nil {
		return Node{}, &Warning{id, metadataPath, errors.WithContext(err, "read")}, false
	}

	node, err = ParseMetadata(id, metadata)
	if err != nil {
		return Node{}, &Warning{id, metadataPath, err}, false
	}

	if node.IsCollection() {
		return node, nil, true
	}

	contentPath := filepath.Join(rawDir, id+ContentExt)
	content, err := afero.ReadFile(fs, contentPath)
	if err != nil {
		return node, &Warning{id, contentPath, errors.WithContext(err, "read")}, true
	}

	if err := ApplyContent(&node, content); err != nil {
		return node, &Warning{id, contentPath, err}, true
	}
	return node, nil, true
}

// Nodes converts the catalog entries back into nodes, indexed by ID.
func (c Catalog) Nodes() map[string]Node {
	nodes := map[string]Node{}
	for _, col := range c.Collections {
		nodes[col.UUID] = Node{
			ID:         col.UUID,
			Name:       col.Name,
			Kind:       KindCollection,
			Parent:     col.Parent,
			ModifiedAt: col.Modified,
			Pinned:     col.Pinned,
		}
	}
	for _, doc := range c.Documents {
		nodes[doc.UUID] = Node{
			ID:         doc.UUID,
			Name:       doc.Title,
			Kind:       KindDocument,
			Parent:     doc.Parent,
			ModifiedAt: doc.Modified,
			Pinned:     doc.Pinned,
			Subtype:    doc.Type,
			PageCount:  doc.Pages,
		}
	}
	return nodes
}

// Find returns the document with the given ID.
func (c Catalog) Find(id string) (Document, bool) {
	for _, doc := range c.Documents {
		if doc.UUID == id {
			return doc, true
		}
	}
	return Document{}, false
}

// List returns the documents of the given subtype, or all documents if
// `subtype` is empty.
func (c Catalog) List(subtype Subtype, includeTrashed bool) []Document {
	var docs []Document
	for _, doc := range c.Documents {
		if doc.IsTrashed && !includeTrashed {
			continue
		}
		if subtype != "" && doc.Type != subtype {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// Search returns the untrashed documents whose title contains `query`,
// ignoring case. The most recently modified documents come first.
func (c Catalog) Search(query string) []Document {
	query = strings.ToLower(query)
	var matches []Document
	for _, doc := range c.List("", false) {
		if strings.Contains(strings.ToLower(doc.Title), query) {
			matches = append(matches, doc)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Modified > matches[j].Modified
	})
	return matches
}

// Write replaces the catalog at `path`.
func Write(fs afero.Fs, path string, c Catalog) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	catalogBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	// Write to a temporary file first so that readers never see a partially
	// written catalog.
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, append(catalogBytes, '\n'), 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}

// Load reads the catalog at `path`. If it doesn't exist, an empty catalog is
// returned.
func Load(fs afero.Fs, path string) (Catalog, error) {
	catalogBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil, 0), nil
		}
		return Catalog{}, errors.WithContext(err, "read")
	}

	var c Catalog
	if err := json.Unmarshal(catalogBytes, &c); err != nil {
		return Catalog{}, errors.NewFriendlyError(
			"The catalog at %q is corrupt. Run `tabletsync index` to rebuild it.\n\n"+
				"Details: %s", path, err)
	}
	return c, nil
}
