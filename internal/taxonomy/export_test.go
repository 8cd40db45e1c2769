package taxonomy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"termhub/api/internal/store"
)

func TestExportEmptyTaxonomy(t *testing.T) {
	svc, source, _ := setupCacheTest(t)
	source.terms = nil

	root, err := svc.Export(context.Background(), "tax-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	encoded, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(encoded) != "[]" {
		t.Errorf("expected empty export [], got %s", encoded)
	}
}

func TestExportFlatTaxonomyIsLabelList(t *testing.T) {
	svc, source, _ := setupCacheTest(t)
	source.terms = []store.Term{
		term("t1", "Ant", nil),
		term("t2", "Moth", nil),
	}

	root, err := svc.Export(context.Background(), "tax-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	encoded, _ := json.Marshal(root)
	if string(encoded) != `["Ant","Moth"]` {
		t.Errorf(`expected ["Ant","Moth"], got %s`, encoded)
	}
}

func TestExportNestsBranchesAndKeepsLeafSiblings(t *testing.T) {
	svc, source, _ := setupCacheTest(t)
	source.terms = []store.Term{
		term("a", "A", nil),
		term("b", "B", nil),
		term("a1", "A1", ptr("a")),
		term("a2", "A2", ptr("a")),
	}

	root, err := svc.Export(context.Background(), "tax-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	encoded, _ := json.Marshal(root)
	expected := `{"A":["A1","A2"],"B":[]}`
	if string(encoded) != expected {
		t.Errorf("expected %s, got %s", expected, encoded)
	}
}

func TestExportNaturalSortsSiblingKeys(t *testing.T) {
	svc, source, _ := setupCacheTest(t)
	source.terms = []store.Term{
		term("p10", "Term 10", nil),
		term("p2", "Term 2", nil),
		term("p1", "Term 1", nil),
		term("c1", "x", ptr("p1")),
		term("c2", "y", ptr("p2")),
		term("c10", "z", ptr("p10")),
	}

	root, err := svc.Export(context.Background(), "tax-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	encoded, _ := json.Marshal(root)
	expected := `{"Term 1":["x"],"Term 2":["y"],"Term 10":["z"]}`
	if string(encoded) != expected {
		t.Errorf("expected natural key order, got %s", encoded)
	}
}

func TestExportFinishesWithinDeadline(t *testing.T) {
	svc, source, _ := setupCacheTest(t)
	source.terms = []store.Term{
		term("a", "A", nil),
		term("a1", "A1", ptr("a")),
		term("a11", "deep", ptr("a1")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root, err := svc.Export(ctx, "tax-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	encoded, _ := json.Marshal(root)
	expected := `{"A":{"A1":["deep"]}}`
	if string(encoded) != expected {
		t.Errorf("expected %s, got %s", expected, encoded)
	}
}
