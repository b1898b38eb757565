package catalog

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sidkik/tabletsync/pkg/errors"
)

// Kind distinguishes documents from collections (folders).
type Kind string

const (
	KindDocument   Kind = "DocumentType"
	KindCollection Kind = "CollectionType"
)

// Subtype is the format of a document's content.
type Subtype string

const (
	SubtypeNotebook Subtype = "notebook"
	SubtypePDF      Subtype = "pdf"
	SubtypeEPUB     Subtype = "epub"
	SubtypeUnknown  Subtype = "unknown"
)

// TrashParent is the parent reference of deleted nodes.
const TrashParent = "trash"

// File extensions of the sidecar records.
const (
	MetadataExt = ".metadata"
	ContentExt  = ".content"
)

// Node is a document or collection parsed from its sidecar records.
type Node struct {
	ID   string
	Name string
	Kind Kind

	// Parent is empty for root level nodes, TrashParent for deleted nodes,
	// and otherwise the ID of the containing collection. It may refer to a
	// node that doesn't exist.
	Parent string

	// ModifiedAt is in milliseconds since the epoch.
	ModifiedAt int64
	Pinned     bool

	// Only set for documents.
	Subtype   Subtype
	PageCount int
}

// IsCollection returns whether the node is a folder.
func (n Node) IsCollection() bool {
	return n.Kind == KindCollection
}

// IsTrashed returns whether the node was deleted directly. Nodes inside a
// deleted collection aren't considered trashed by this method.
func (n Node) IsTrashed() bool {
	return n.Parent == TrashParent
}

// metadataRecord is the format of `{id}.metadata`.
type metadataRecord struct {
	VisibleName  *string     `json:"visibleName"`
	Type         Kind        `json:"type"`
	Parent       string      `json:"parent"`
	LastModified epochMillis `json:"lastModified"`
	Pinned       bool        `json:"pinned"`
}

// contentRecord is the format of `{id}.content`.
type contentRecord struct {
	FileType  string `json:"fileType"`
	PageCount *int   `json:"pageCount"`

	// Newer firmware omits pageCount and lists the pages instead.
	Pages []string `json:"pages"`
}

// epochMillis accepts both strings and numbers. The tablet writes
// timestamps as strings.
type epochMillis int64

func (ms *epochMillis) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*ms = 0
		return nil
	}

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return errors.New("invalid timestamp %s", b)
	}
	*ms = epochMillis(val)
	return nil
}

// ParseMetadata parses a metadata record into a Node. The content record
// must be applied separately with ApplyContent.
func ParseMetadata(id string, metadata []byte) (Node, error) {
	var record metadataRecord
	if err := json.Unmarshal(metadata, &record); err != nil {
		return Node{}, errors.WithContext(err, "decode metadata")
	}

	if record.VisibleName == nil {
		return Node{}, errors.MissingFieldError{Field: "visibleName"}
	}

	switch record.Type {
	case KindDocument, KindCollection:
	case "":
		return Node{}, errors.MissingFieldError{Field: "type"}
	default:
		return Node{}, errors.New("unknown node type %q", record.Type)
	}

	node := Node{
		ID:         id,
		Name:       *record.VisibleName,
		Kind:       record.Type,
		Parent:     record.Parent,
		ModifiedAt: int64(record.LastModified),
		Pinned:     record.Pinned,
	}
	if node.Kind == KindDocument {
		node.Subtype = SubtypeUnknown
	}
	return node, nil
}

// ApplyContent sets the document fields from a content record.
func ApplyContent(node *Node, content []byte) error {
	var record contentRecord
	if err := json.Unmarshal(content, &record); err != nil {
		return errors.WithContext(err, "decode content")
	}

	switch subtype := Subtype(record.FileType); subtype {
	case SubtypeNotebook, SubtypePDF, SubtypeEPUB:
		node.Subtype = subtype
	default:
		node.Subtype = SubtypeUnknown
	}

	switch {
	case record.PageCount != nil:
		node.PageCount = *record.PageCount
	case record.Pages != nil:
		node.PageCount = len(record.Pages)
	}
	return nil
}
