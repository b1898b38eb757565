// Package hierarchy reconstructs the folder structure of the tablet from the
// parent references of each node.
package hierarchy

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/tabletsync/pkg/catalog"
)

// ResolvedPath is the location of a node in the folder hierarchy.
type ResolvedPath struct {
	// Segments are the sanitized names from the outermost collection down to
	// the node itself.
	Segments []string

	// Trashed is set if the node, or one of its ancestors, was deleted.
	Trashed bool

	// Cyclic is set if the parent references loop. The node is placed at the
	// root level.
	Cyclic bool

	// Orphaned is set if an ancestor doesn't exist. The node is placed at the
	// root level of what could be resolved.
	Orphaned bool
}

// Name returns the last segment of the path.
func (p ResolvedPath) Name() string {
	if len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Parents returns the segments of the containing collections.
func (p ResolvedPath) Parents() []string {
	if len(p.Segments) == 0 {
		return nil
	}
	return p.Segments[:len(p.Segments)-1]
}

// Warning describes a node whose path couldn't be fully resolved.
type Warning struct {
	ID      string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.ID, w.Message)
}

// ResolvePath walks up the parent references of `node`. The walk is
// iterative and tracks the nodes it has seen, so it terminates even if the
// references form a cycle.
func ResolvePath(node catalog.Node, nodes map[string]catalog.Node) ResolvedPath {
	var path ResolvedPath
	segments := []string{Sanitize(node.Name)}
	visited := map[string]struct{}{node.ID: {}}

	parent := node.Parent
	for {
		if parent == "" {
			break
		}

		if parent == catalog.TrashParent {
			path.Trashed = true
			break
		}

		ancestor, ok := nodes[parent]
		if !ok {
			path.Orphaned = true
			break
		}

		if _, ok := visited[ancestor.ID]; ok {
			path.Cyclic = true
			segments = []string{Sanitize(node.Name)}
			break
		}
		visited[ancestor.ID] = struct{}{}

		segments = append(segments, Sanitize(ancestor.Name))
		parent = ancestor.Parent
	}

	// The segments were collected from the node upwards.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	path.Segments = segments
	return path
}

// ResolveAll resolves the path of every node. Nodes whose paths couldn't be
// fully resolved are returned as warnings, in order of their IDs.
func ResolveAll(nodes map[string]catalog.Node) (map[string]ResolvedPath, []Warning) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	paths := map[string]ResolvedPath{}
	var warnings []Warning
	for _, id := range ids {
		path := ResolvePath(nodes[id], nodes)
		paths[id] = path

		var msg string
		switch {
		case path.Cyclic:
			msg = "parent references form a cycle, placing at the root level"
		case path.Orphaned:
			msg = "an ancestor is missing, placing under the highest known ancestor"
		default:
			continue
		}

		warnings = append(warnings, Warning{ID: id, Message: msg})
		log.WithField("id", id).WithField("name", nodes[id].Name).Warn(msg)
	}
	return paths, warnings
}
