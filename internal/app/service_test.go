package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"termhub/api/internal/action"
	"termhub/api/internal/config"
	"termhub/api/internal/search"
	"termhub/api/internal/store"
	"termhub/api/internal/taxonomy"
)

// memoryStore is an in-memory dataStore for handler tests.
type memoryStore struct {
	mu          sync.Mutex
	projects    map[string]store.Project
	taxonomies  map[string]store.Taxonomy
	terms       map[string]store.Term
	documents   map[string]store.Document
	annotations map[string]store.Annotation
	viewing     map[string]*string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects:    make(map[string]store.Project),
		taxonomies:  make(map[string]store.Taxonomy),
		terms:       make(map[string]store.Term),
		documents:   make(map[string]store.Document),
		annotations: make(map[string]store.Annotation),
		viewing:     make(map[string]*string),
	}
}

func (m *memoryStore) Ping(ctx context.Context) error { return nil }

func (m *memoryStore) CreateProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = project
	return nil
}

func (m *memoryStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memoryStore) CreateTaxonomy(ctx context.Context, taxonomy store.Taxonomy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxonomies[taxonomy.ID] = taxonomy
	return nil
}

func (m *memoryStore) GetTaxonomy(ctx context.Context, taxonomyID string) (store.Taxonomy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taxonomy, ok := m.taxonomies[taxonomyID]
	if !ok {
		return store.Taxonomy{}, sql.ErrNoRows
	}
	return taxonomy, nil
}

func (m *memoryStore) ListTaxonomies(ctx context.Context, projectID string) ([]store.Taxonomy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Taxonomy, 0)
	for _, taxonomy := range m.taxonomies {
		if taxonomy.ProjectID == projectID {
			items = append(items, taxonomy)
		}
	}
	return items, nil
}

func (m *memoryStore) RenameTaxonomy(ctx context.Context, taxonomyID, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	taxonomy, ok := m.taxonomies[taxonomyID]
	if !ok {
		return sql.ErrNoRows
	}
	taxonomy.Name = newName
	m.taxonomies[taxonomyID] = taxonomy
	return nil
}

func (m *memoryStore) InsertTerm(ctx context.Context, term store.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms[term.ID] = term
	return nil
}

func (m *memoryStore) RenameTerm(ctx context.Context, taxonomyID, termID, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terms[termID]
	if !ok || term.TaxonomyID != taxonomyID {
		return sql.ErrNoRows
	}
	term.Label = newName
	m.terms[termID] = term
	return nil
}

func (m *memoryStore) DeleteTerm(ctx context.Context, taxonomyID, termID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terms[termID]
	if !ok || term.TaxonomyID != taxonomyID {
		return sql.ErrNoRows
	}
	delete(m.terms, termID)
	return nil
}

func (m *memoryStore) FindRootTerms(ctx context.Context, taxonomyID string) ([]store.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Term, 0)
	for _, term := range m.terms {
		if term.TaxonomyID == taxonomyID && term.ParentID == nil {
			items = append(items, term)
		}
	}
	return items, nil
}

func (m *memoryStore) FindChildren(ctx context.Context, parentID string) ([]store.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Term, 0)
	for _, term := range m.terms {
		if term.ParentID != nil && *term.ParentID == parentID {
			items = append(items, term)
		}
	}
	return items, nil
}

func (m *memoryStore) InsertDocument(ctx context.Context, item store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[item.ID] = item
	return nil
}

func (m *memoryStore) UpdateDocumentState(ctx context.Context, documentID, state string, by *string, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	doc.State = state
	doc.CompletedBy = by
	doc.CompletedAt = at
	m.documents[documentID] = doc
	return nil
}

func (m *memoryStore) DeleteDocuments(ctx context.Context, documentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range documentIDs {
		delete(m.documents, id)
	}
	return nil
}

func (m *memoryStore) InsertAnnotation(ctx context.Context, annotation store.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.annotations[annotation.ID] = annotation
	return nil
}

func (m *memoryStore) SetViewingDocument(ctx context.Context, userID string, documentID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewing[userID] = documentID
	return nil
}

// fakeTrees satisfies treeService without a cache or store behind it.
type fakeTrees struct{}

func (fakeTrees) Tree(ctx context.Context, taxonomyID string) (*taxonomy.Node, error) {
	return &taxonomy.Node{Label: "Species"}, nil
}

func (fakeTrees) Export(ctx context.Context, taxonomyID string) (*taxonomy.ExportNode, error) {
	return &taxonomy.ExportNode{Labels: []string{"Ant"}}, nil
}

// spyPublisher records what gets relayed.
type spyPublisher struct {
	mu        sync.Mutex
	published []action.Envelope
	err       error
}

func (p *spyPublisher) Publish(ctx context.Context, env action.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, env)
	return nil
}

func (p *spyPublisher) Ping(ctx context.Context) error { return nil }

func (p *spyPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// fakeSearch records indexed and deleted term ids.
type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.TermHit
	deleted []string
	hits    []search.TermHit
}

func (f *fakeSearch) Search(q search.Query) (search.Response, error) {
	return search.Response{Hits: f.hits, Total: len(f.hits), Query: q.Text}, nil
}

func (f *fakeSearch) IndexTerm(hit search.TermHit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, hit)
}

func (f *fakeSearch) DeleteTerm(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func setupService() (*Service, *memoryStore, *spyPublisher, *fakeSearch) {
	data := newMemoryStore()
	pub := &spyPublisher{}
	idx := &fakeSearch{}
	cfg := config.Config{ExportPrefix: "Termhub taxonomy export"}
	return New(cfg, data, fakeTrees{}, pub, idx), data, pub, idx
}

func TestHandleActionRejectsLocalAction(t *testing.T) {
	svc, _, pub, _ := setupService()

	env := action.ChangeSelectedTaxonomy(nil)
	_, err := svc.HandleAction(context.Background(), env)

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("rejected action must not be relayed")
	}
}

func TestHandleActionRejectsUnknownType(t *testing.T) {
	svc, _, pub, _ := setupService()

	project := "p1"
	env := action.Envelope{
		Type: "SOMETHING ELSE",
		Meta: action.Meta{Project: &project, SendToServer: true},
	}
	_, err := svc.HandleAction(context.Background(), env)

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UNSUPPORTED_ACTION" {
		t.Fatalf("expected UNSUPPORTED_ACTION, got %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("unknown action must not be relayed")
	}
}

func TestHandleRenameTaxonomyPersistsAndRelays(t *testing.T) {
	svc, data, pub, _ := setupService()
	data.taxonomies["tax-1"] = store.Taxonomy{ID: "tax-1", ProjectID: "p1", Name: "Species"}

	env := action.RenameTaxonomy("tax-1", "Species v2", "p1", "u1")
	out, err := svc.HandleAction(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if data.taxonomies["tax-1"].Name != "Species v2" {
		t.Errorf("rename not persisted: %+v", data.taxonomies["tax-1"])
	}
	if pub.count() != 1 {
		t.Fatalf("expected one relayed action, got %d", pub.count())
	}
	if out.Type != action.TypeRenameTaxonomy || out.String("newName") != "Species v2" {
		t.Errorf("returned envelope changed: %+v", out)
	}
}

func TestHandleRenameUnknownTaxonomyIs404(t *testing.T) {
	svc, _, pub, _ := setupService()

	env := action.RenameTaxonomy("missing", "x", "p1", "u1")
	_, err := svc.HandleAction(context.Background(), env)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("failed action must not be relayed")
	}
}

func TestHandleAddToTaxonomyIndexesTerm(t *testing.T) {
	svc, data, _, idx := setupService()

	env := action.AddToTaxonomy("Canines", nil, "tax-1", "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	termID := env.String("id")
	if _, ok := data.terms[termID]; !ok {
		t.Fatalf("term not persisted")
	}
	if len(idx.indexed) != 1 || idx.indexed[0].ID != termID || idx.indexed[0].Label != "Canines" {
		t.Errorf("term not indexed: %+v", idx.indexed)
	}
}

func TestHandleRemoveFromTaxonomyDeletesFromIndex(t *testing.T) {
	svc, data, _, idx := setupService()
	data.terms["t-9"] = store.Term{ID: "t-9", TaxonomyID: "tax-1", Label: "Canines"}

	env := action.RemoveFromTaxonomy("t-9", "tax-1", "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if _, ok := data.terms["t-9"]; ok {
		t.Errorf("term not deleted")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "t-9" {
		t.Errorf("term not deleted from index: %v", idx.deleted)
	}
}

func TestHandleAddTaxonomyImportsNestedTree(t *testing.T) {
	svc, data, pub, _ := setupService()

	importTree := map[string]any{
		"Mammals": []any{"Canines", "Felines"},
		"Birds":   []any{},
	}
	env := action.AddTaxonomy("Species", importTree, "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	taxID := env.String("id")
	if data.taxonomies[taxID].Name != "Species" {
		t.Fatalf("taxonomy not persisted")
	}

	labels := make(map[string]store.Term)
	for _, item := range data.terms {
		labels[item.Label] = item
	}
	if len(labels) != 3 {
		t.Fatalf("expected 3 imported terms, got %d", len(labels))
	}
	mammals := labels["Mammals"]
	if mammals.ParentID != nil {
		t.Errorf("Mammals should be a root term")
	}
	canines := labels["Canines"]
	if canines.ParentID == nil || *canines.ParentID != mammals.ID {
		t.Errorf("Canines should hang under Mammals: %+v", canines)
	}
	if pub.count() != 1 {
		t.Errorf("import should relay once, got %d", pub.count())
	}
}

func TestHandleFilterRequestReturnsLocalResponse(t *testing.T) {
	svc, _, pub, idx := setupService()
	idx.hits = []search.TermHit{{ID: "t-1", Label: "Canines", TaxonomyID: "tax-1"}}

	env := action.FilterTaxonomyRequest("can", "tax-1", "p1", "u1")
	out, err := svc.HandleAction(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if out.Type != action.TypeFilterTaxonomyResponse {
		t.Fatalf("expected filter response, got %s", out.Type)
	}
	if out.Meta.SendToServer {
		t.Errorf("filter response is a local action")
	}
	if pub.count() != 0 {
		t.Errorf("filter responses must not be relayed, got %d publishes", pub.count())
	}
	results, ok := out.Payload["results"].([]search.TermHit)
	if !ok || len(results) != 1 || results[0].Label != "Canines" {
		t.Errorf("unexpected results payload: %+v", out.Payload["results"])
	}
}

func TestHandleCreateNewProjectEnrichesEnvelope(t *testing.T) {
	svc, data, pub, _ := setupService()

	env := action.CreateNewProject("Field Study", "", "u1")
	out, err := svc.HandleAction(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	project, ok := out.Payload["project"].(store.Project)
	if !ok {
		t.Fatalf("expected enriched project payload, got %T", out.Payload["project"])
	}
	if project.Slug != "field-study" {
		t.Errorf("expected slug field-study, got %s", project.Slug)
	}
	if _, stored := data.projects[project.ID]; !stored {
		t.Errorf("project not persisted")
	}
	if out.Meta.Project == nil || *out.Meta.Project != project.ID {
		t.Errorf("meta.project must point at the minted project: %+v", out.Meta)
	}
	if pub.count() != 1 {
		t.Errorf("project creation should relay to the new room")
	}
}

func TestHandleCompleteDocumentStoresAnnotation(t *testing.T) {
	svc, data, _, _ := setupService()
	data.documents["d1"] = store.Document{ID: "d1", ProjectID: "p1", State: store.DocumentReady}

	env := action.CompleteDocument(map[string]any{"spans": []any{}}, "d1", "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	if data.documents["d1"].State != store.DocumentComplete {
		t.Errorf("document not completed: %+v", data.documents["d1"])
	}
	if len(data.annotations) != 1 {
		t.Fatalf("expected one stored annotation, got %d", len(data.annotations))
	}
	for _, annotation := range data.annotations {
		if annotation.DocumentID != "d1" {
			t.Errorf("annotation bound to wrong document: %+v", annotation)
		}
		if annotation.CreatedBy == nil || *annotation.CreatedBy != "u1" {
			t.Errorf("annotation author lost: %+v", annotation)
		}
	}
}

func TestHandleMarkDocumentViewing(t *testing.T) {
	svc, data, _, _ := setupService()

	env := action.MarkDocumentViewing(strPtr("d1"), "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if viewing := data.viewing["u1"]; viewing == nil || *viewing != "d1" {
		t.Errorf("viewing document not recorded: %v", viewing)
	}

	cleared := action.MarkDocumentViewing(nil, "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), cleared); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if data.viewing["u1"] != nil {
		t.Errorf("viewing document not cleared")
	}
}

func TestHandleActionSucceedsWhenRelayIsDown(t *testing.T) {
	svc, data, pub, _ := setupService()
	pub.err = errors.New("redis down")
	data.taxonomies["tax-1"] = store.Taxonomy{ID: "tax-1", ProjectID: "p1", Name: "Species"}

	env := action.RenameTaxonomy("tax-1", "Species v2", "p1", "u1")
	if _, err := svc.HandleAction(context.Background(), env); err != nil {
		t.Fatalf("persisting must win over relaying: %v", err)
	}
	if data.taxonomies["tax-1"].Name != "Species v2" {
		t.Errorf("rename lost: %+v", data.taxonomies["tax-1"])
	}
}

func TestExportTaxonomyFilename(t *testing.T) {
	svc, data, _, _ := setupService()
	data.taxonomies["tax-1"] = store.Taxonomy{ID: "tax-1", ProjectID: "p1", Name: "Species"}

	filename, contents, err := svc.ExportTaxonomy(context.Background(), "tax-1")
	if err != nil {
		t.Fatalf("ExportTaxonomy failed: %v", err)
	}
	if filename != "Termhub taxonomy export - Species.json" {
		t.Errorf("unexpected filename: %s", filename)
	}
	if string(contents) != "[\n  \"Ant\"\n]" {
		t.Errorf("unexpected contents: %s", contents)
	}
}

func TestExportUnknownTaxonomy(t *testing.T) {
	svc, _, _, _ := setupService()

	_, _, err := svc.ExportTaxonomy(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func strPtr(s string) *string {
	return &s
}
