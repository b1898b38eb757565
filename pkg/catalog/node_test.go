package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/tabletsync/pkg/errors"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name        string
		metadata    string
		expNode     Node
		expErr      error
		expAnyError bool
	}{
		{
			name: "Document",
			metadata: `{"visibleName": "Meeting Notes", "type": "DocumentType",
				"parent": "c1", "lastModified": "1714555800000", "pinned": true}`,
			expNode: Node{
				ID:         "id",
				Name:       "Meeting Notes",
				Kind:       KindDocument,
				Parent:     "c1",
				ModifiedAt: 1714555800000,
				Pinned:     true,
				Subtype:    SubtypeUnknown,
			},
		},
		{
			name:     "Collection with numeric timestamp",
			metadata: `{"visibleName": "Work", "type": "CollectionType", "lastModified": 42}`,
			expNode: Node{
				ID:         "id",
				Name:       "Work",
				Kind:       KindCollection,
				ModifiedAt: 42,
			},
		},
		{
			name:     "Empty name is allowed",
			metadata: `{"visibleName": "", "type": "CollectionType"}`,
			expNode:  Node{ID: "id", Kind: KindCollection},
		},
		{
			name:     "Missing name",
			metadata: `{"type": "DocumentType"}`,
			expErr:   errors.MissingFieldError{Field: "visibleName"},
		},
		{
			name:     "Missing type",
			metadata: `{"visibleName": "x"}`,
			expErr:   errors.MissingFieldError{Field: "type"},
		},
		{
			name:        "Unknown type",
			metadata:    `{"visibleName": "x", "type": "TemplateType"}`,
			expAnyError: true,
		},
		{
			name:        "Bad timestamp",
			metadata:    `{"visibleName": "x", "type": "DocumentType", "lastModified": "yesterday"}`,
			expAnyError: true,
		},
		{
			name:        "Malformed JSON",
			metadata:    `{"visibleName": `,
			expAnyError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			node, err := ParseMetadata("id", []byte(test.metadata))
			switch {
			case test.expAnyError:
				assert.Error(t, err)
			case test.expErr != nil:
				assert.Equal(t, test.expErr, err)
			default:
				assert.NoError(t, err)
				assert.Equal(t, test.expNode, node)
			}
		})
	}
}

func TestApplyContent(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expSubtype  Subtype
		expPages    int
		expAnyError bool
	}{
		{
			name:       "PDF with page count",
			content:    `{"fileType": "pdf", "pageCount": 12}`,
			expSubtype: SubtypePDF,
			expPages:   12,
		},
		{
			name:       "Notebook with page list",
			content:    `{"fileType": "notebook", "pages": ["a", "b", "c"]}`,
			expSubtype: SubtypeNotebook,
			expPages:   3,
		},
		{
			name:       "Page count takes precedence",
			content:    `{"fileType": "epub", "pageCount": 5, "pages": ["a"]}`,
			expSubtype: SubtypeEPUB,
			expPages:   5,
		},
		{
			name:       "Unrecognized file type",
			content:    `{"fileType": "djvu"}`,
			expSubtype: SubtypeUnknown,
		},
		{
			name:        "Malformed",
			content:     `[`,
			expSubtype:  SubtypeUnknown,
			expAnyError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			node := Node{Kind: KindDocument, Subtype: SubtypeUnknown}
			err := ApplyContent(&node, []byte(test.content))
			if test.expAnyError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, test.expSubtype, node.Subtype)
			assert.Equal(t, test.expPages, node.PageCount)
		})
	}
}

func TestIsTrashed(t *testing.T) {
	assert.True(t, Node{Parent: TrashParent}.IsTrashed())
	assert.False(t, Node{Parent: "c1"}.IsTrashed())
	assert.False(t, Node{}.IsTrashed())
}
