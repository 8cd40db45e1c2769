package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fvbommel/sortorder"
	"golang.org/x/sync/errgroup"
)

// ExportNode is one level of the downloadable snapshot. A terminal level
// (no child of this node has children of its own) is a plain list of leaf
// labels in Labels. A mixed level maps each label to either a nested
// subtree or an empty list, with Keys natural-sorted ("Term 2" before
// "Term 10") so the serialized object keeps human-friendly key order.
type ExportNode struct {
	Labels   []string
	Keys     []string
	Children map[string]*ExportNode
}

func (n *ExportNode) MarshalJSON() ([]byte, error) {
	if n.Children == nil {
		labels := n.Labels
		if labels == nil {
			labels = []string{}
		}
		return json.Marshal(labels)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range n.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedChild, err := json.Marshal(n.Children[key])
		if err != nil {
			return nil, err
		}
		buf.Write(encodedChild)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Export builds the one-shot snapshot of a whole taxonomy. It bypasses the
// tree cache entirely and queries the store level by level.
func (s *Service) Export(ctx context.Context, taxonomyID string) (*ExportNode, error) {
	return s.exportLevel(ctx, taxonomyID, nil)
}

func (s *Service) exportLevel(ctx context.Context, taxonomyID string, parentID *string) (*ExportNode, error) {
	parents, err := s.source.FindGrandchildCandidates(ctx, taxonomyID, parentID)
	if err != nil {
		return nil, fmt.Errorf("grandchild candidates: %w", err)
	}

	if len(parents) == 0 {
		// Terminal level: every direct child is a leaf.
		labels, err := s.source.FindLeafLabels(ctx, taxonomyID, parentID, nil)
		if err != nil {
			return nil, fmt.Errorf("leaf labels: %w", err)
		}
		return &ExportNode{Labels: labels}, nil
	}

	subtrees := make([]*ExportNode, len(parents))
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range parents {
		i := i
		group.Go(func() error {
			subtree, err := s.exportLevel(groupCtx, taxonomyID, &parents[i].ID)
			if err != nil {
				return err
			}
			subtrees[i] = subtree
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	excluded := make([]string, len(parents))
	for i, parent := range parents {
		excluded[i] = parent.ID
	}
	leafLabels, err := s.source.FindLeafLabels(ctx, taxonomyID, parentID, excluded)
	if err != nil {
		return nil, fmt.Errorf("leaf labels: %w", err)
	}

	merged := make(map[string]*ExportNode, len(parents)+len(leafLabels))
	for i, parent := range parents {
		merged[parent.Label] = subtrees[i]
	}
	for _, label := range leafLabels {
		merged[label] = &ExportNode{Labels: []string{}}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return sortorder.NaturalLess(keys[i], keys[j])
	})

	return &ExportNode{Keys: keys, Children: merged}, nil
}
