// Package taxonomy materializes flat, parent-pointer-encoded term tables
// into the nested structures served to clients: the cached live tree and
// the naturally-sorted export snapshot.
package taxonomy

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"termhub/api/internal/store"
)

// Leaf is a terminal {id,label} child pair.
type Leaf struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Node is the client-facing materialization of one taxonomy level. Its
// children take one of two shapes: a flat list of Leaf pairs when no
// immediate child has descendants of its own, or a map keyed by the
// lower-cased child label when at least one does. ChildrenCount always
// counts immediate children.
type Node struct {
	ID            *string
	Label         string
	Leaves        []Leaf
	Branches      map[string]*Node
	ChildrenCount int
}

type nodeJSON struct {
	ID            *string         `json:"id"`
	Label         string          `json:"label"`
	Children      json.RawMessage `json:"children"`
	ChildrenCount int             `json:"childrenCount"`
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var children any
	switch {
	case n.Branches != nil:
		children = n.Branches
	case n.Leaves != nil:
		children = n.Leaves
	default:
		children = []Leaf{}
	}
	encoded, err := json.Marshal(children)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeJSON{
		ID:            n.ID,
		Label:         n.Label,
		Children:      encoded,
		ChildrenCount: n.ChildrenCount,
	})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.ID = raw.ID
	n.Label = raw.Label
	n.ChildrenCount = raw.ChildrenCount
	n.Leaves = nil
	n.Branches = nil

	children := bytes.TrimSpace(raw.Children)
	if len(children) == 0 || bytes.Equal(children, []byte("null")) {
		n.Leaves = []Leaf{}
		return nil
	}
	if children[0] == '{' {
		return json.Unmarshal(children, &n.Branches)
	}
	return json.Unmarshal(children, &n.Leaves)
}

// BuildTree materializes the full flat term list of one taxonomy into the
// nested tree rooted at the taxonomy's own name. A single adjacency index
// over the input replaces the per-node child queries of a naive walk.
// Siblings are ordered by label ascending (plain lexical order; the export
// path natural-sorts instead).
func BuildTree(name string, terms []store.Term) *Node {
	byParent := make(map[string][]store.Term)
	for _, term := range terms {
		key := ""
		if term.ParentID != nil {
			key = *term.ParentID
		}
		byParent[key] = append(byParent[key], term)
	}
	for _, siblings := range byParent {
		sort.SliceStable(siblings, func(i, j int) bool {
			return siblings[i].Label < siblings[j].Label
		})
	}
	return buildNode(nil, name, byParent)
}

func buildNode(id *string, label string, byParent map[string][]store.Term) *Node {
	key := ""
	if id != nil {
		key = *id
	}
	children := byParent[key]
	if len(children) == 0 {
		return &Node{ID: id, Label: label, Leaves: []Leaf{}, ChildrenCount: 0}
	}

	hasGrandchildren := false
	for _, child := range children {
		if len(byParent[child.ID]) > 0 {
			hasGrandchildren = true
			break
		}
	}
	if !hasGrandchildren {
		leaves := make([]Leaf, 0, len(children))
		for _, child := range children {
			leaves = append(leaves, Leaf{ID: child.ID, Label: child.Label})
		}
		return &Node{ID: id, Label: label, Leaves: leaves, ChildrenCount: len(leaves)}
	}

	// Duplicate sibling labels collapse to one key here: the later sibling
	// (label order) replaces the earlier one. See DESIGN.md.
	branches := make(map[string]*Node, len(children))
	for _, child := range children {
		childID := child.ID
		branches[strings.ToLower(child.Label)] = buildNode(&childID, child.Label, byParent)
	}
	return &Node{ID: id, Label: label, Branches: branches, ChildrenCount: len(children)}
}
