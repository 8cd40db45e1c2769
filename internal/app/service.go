package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"termhub/api/internal/action"
	"termhub/api/internal/config"
	"termhub/api/internal/search"
	"termhub/api/internal/store"
	"termhub/api/internal/taxonomy"
	"termhub/api/internal/util"
)

// dataStore is the slice of the store the action handlers need.
type dataStore interface {
	Ping(ctx context.Context) error
	CreateProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	CreateTaxonomy(ctx context.Context, taxonomy store.Taxonomy) error
	GetTaxonomy(ctx context.Context, taxonomyID string) (store.Taxonomy, error)
	ListTaxonomies(ctx context.Context, projectID string) ([]store.Taxonomy, error)
	RenameTaxonomy(ctx context.Context, taxonomyID, newName string) error
	InsertTerm(ctx context.Context, term store.Term) error
	RenameTerm(ctx context.Context, taxonomyID, termID, newName string) error
	DeleteTerm(ctx context.Context, taxonomyID, termID string) error
	FindRootTerms(ctx context.Context, taxonomyID string) ([]store.Term, error)
	FindChildren(ctx context.Context, parentID string) ([]store.Term, error)
	InsertDocument(ctx context.Context, item store.Document) error
	UpdateDocumentState(ctx context.Context, documentID, state string, by *string, at int64) error
	DeleteDocuments(ctx context.Context, documentIDs []string) error
	InsertAnnotation(ctx context.Context, annotation store.Annotation) error
	SetViewingDocument(ctx context.Context, userID string, documentID *string) error
}

// treeService materializes and exports taxonomy trees.
type treeService interface {
	Tree(ctx context.Context, taxonomyID string) (*taxonomy.Node, error)
	Export(ctx context.Context, taxonomyID string) (*taxonomy.ExportNode, error)
}

// publisher fans a handled action out to every client in its project room.
type publisher interface {
	Publish(ctx context.Context, env action.Envelope) error
	Ping(ctx context.Context) error
}

type termSearch interface {
	Search(q search.Query) (search.Response, error)
	IndexTerm(hit search.TermHit)
	DeleteTerm(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	trees  treeService
	relay  publisher
	search termSearch
}

func New(cfg config.Config, store dataStore, trees treeService, relay publisher, search termSearch) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		trees:  trees,
		relay:  relay,
		search: search,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RelayPing probes the broadcast backend for readiness checks.
func (s *Service) RelayPing(ctx context.Context) error {
	return s.relay.Ping(ctx)
}

// HandleAction persists one server-bound action and returns the envelope to
// hand back to the originator — usually the input unchanged, enriched for
// actions that mint server-side state, or a different response action for
// request/response pairs. The returned envelope is relayed to the action's
// project room after handling; a relay failure never fails the request.
func (s *Service) HandleAction(ctx context.Context, env action.Envelope) (action.Envelope, error) {
	if err := env.Validate(); err != nil {
		return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if !env.Meta.SendToServer {
		return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action is not server-bound", nil)
	}

	out, err := s.applyAction(ctx, env)
	if err != nil {
		return action.Envelope{}, err
	}

	if out.Meta.SendToServer && out.Meta.Project != nil {
		if err := s.relay.Publish(ctx, out); err != nil {
			log.Printf("relay publish %s: %v", out.Type, err)
		}
	}
	return out, nil
}

func (s *Service) applyAction(ctx context.Context, env action.Envelope) (action.Envelope, error) {
	switch env.Type {

	case action.TypeAddTaxonomy:
		tax := store.Taxonomy{
			ID:        env.String("id"),
			ProjectID: env.ProjectID(),
			Name:      env.String("name"),
		}
		if tax.ID == "" || tax.Name == "" {
			return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id and name are required", nil)
		}
		if err := s.store.CreateTaxonomy(ctx, tax); err != nil {
			return action.Envelope{}, fmt.Errorf("create taxonomy: %w", err)
		}
		if tree := env.Payload["taxonomy"]; tree != nil {
			if err := s.importTerms(ctx, tax.ID, nil, tree); err != nil {
				return action.Envelope{}, fmt.Errorf("import taxonomy %s: %w", tax.ID, err)
			}
		}
		return env, nil

	case action.TypeRenameTaxonomy:
		if err := s.store.RenameTaxonomy(ctx, env.String("id"), env.String("newName")); err != nil {
			return action.Envelope{}, fmt.Errorf("rename taxonomy: %w", err)
		}
		return env, nil

	case action.TypeAddToTaxonomy:
		term := store.Term{
			ID:         env.String("id"),
			TaxonomyID: env.String("taxonomy"),
			ParentID:   env.OptionalString("parent"),
			Label:      env.String("label"),
		}
		if term.ID == "" || term.TaxonomyID == "" || term.Label == "" {
			return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id, taxonomy and label are required", nil)
		}
		if err := s.store.InsertTerm(ctx, term); err != nil {
			return action.Envelope{}, fmt.Errorf("insert term: %w", err)
		}
		s.search.IndexTerm(search.TermHit{ID: term.ID, Label: term.Label, TaxonomyID: term.TaxonomyID})
		return env, nil

	case action.TypeRenameTermInTaxonomy:
		taxonomyID := env.String("taxonomy")
		termID := env.String("id")
		newName := env.String("newName")
		if err := s.store.RenameTerm(ctx, taxonomyID, termID, newName); err != nil {
			return action.Envelope{}, fmt.Errorf("rename term: %w", err)
		}
		s.search.IndexTerm(search.TermHit{ID: termID, Label: newName, TaxonomyID: taxonomyID})
		return env, nil

	case action.TypeRemoveFromTaxonomy:
		termID := env.String("id")
		if err := s.store.DeleteTerm(ctx, env.String("taxonomy"), termID); err != nil {
			return action.Envelope{}, fmt.Errorf("delete term: %w", err)
		}
		s.search.DeleteTerm(termID)
		return env, nil

	case action.TypeFilterTaxonomyRequest:
		filter := env.String("filter")
		taxonomyID := env.String("taxonomyId")
		resp, err := s.search.Search(search.Query{Text: filter, TaxonomyID: taxonomyID})
		if err != nil {
			return action.Envelope{}, fmt.Errorf("filter taxonomy: %w", err)
		}
		return action.FilterTaxonomyResponse(filter, taxonomyID, resp.Hits, env.Meta.InitiatedBy), nil

	case action.TypeCreateNewProject:
		teamID := env.OptionalString("teamId")
		if teamID != nil && *teamID == "" {
			teamID = nil
		}
		project := store.Project{
			ID:        util.NewID(),
			Name:      env.String("name"),
			Slug:      util.Slugify(env.String("name")),
			TeamID:    teamID,
			CreatedAt: time.Now().UTC(),
		}
		if project.Name == "" {
			return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
		}
		if err := s.store.CreateProject(ctx, project); err != nil {
			return action.Envelope{}, fmt.Errorf("create project: %w", err)
		}
		env.SetPayload("project", project)
		env.Meta.Project = &project.ID
		return env, nil

	case action.TypeUploadDocuments:
		now := time.Now().UnixMilli()
		batchID := env.OptionalString("batchId")
		for _, raw := range env.Slice("documents") {
			doc, ok := raw.(map[string]any)
			if !ok {
				return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documents must be objects", nil)
			}
			item := store.Document{
				ID:         stringField(doc, "id"),
				ProjectID:  env.ProjectID(),
				Name:       stringField(doc, "name"),
				BatchID:    batchID,
				BatchLabel: env.String("batchLabel"),
				State:      store.DocumentProcessing,
				UploadedBy: env.Meta.InitiatedBy,
				UploadedAt: now,
			}
			if item.ID == "" {
				item.ID = util.NewID()
			}
			if err := s.store.InsertDocument(ctx, item); err != nil {
				return action.Envelope{}, fmt.Errorf("insert document %s: %w", item.ID, err)
			}
		}
		return env, nil

	case action.TypeMarkDocumentsComplete:
		now := time.Now().UnixMilli()
		for _, raw := range env.Slice("documents") {
			id := documentID(raw)
			if id == "" {
				continue
			}
			if err := s.store.UpdateDocumentState(ctx, id, store.DocumentComplete, env.Meta.InitiatedBy, now); err != nil {
				return action.Envelope{}, fmt.Errorf("mark document %s complete: %w", id, err)
			}
		}
		return env, nil

	case action.TypeDeleteDocuments:
		ids := env.StringSlice("documentIds")
		if len(ids) == 0 {
			return env, nil
		}
		if err := s.store.DeleteDocuments(ctx, ids); err != nil {
			return action.Envelope{}, fmt.Errorf("delete documents: %w", err)
		}
		return env, nil

	case action.TypeCompleteDocument:
		docID := documentID(env.Payload["document"])
		if docID == "" {
			return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document.id is required", nil)
		}
		body, err := json.Marshal(env.Payload["annotations"])
		if err != nil {
			return action.Envelope{}, fmt.Errorf("encode annotations: %w", err)
		}
		now := time.Now()
		annotation := store.Annotation{
			ID:         util.NewID(),
			DocumentID: docID,
			Body:       body,
			CreatedBy:  env.Meta.InitiatedBy,
			CreatedAt:  now.UTC(),
		}
		if err := s.store.InsertAnnotation(ctx, annotation); err != nil {
			return action.Envelope{}, fmt.Errorf("insert annotation: %w", err)
		}
		if err := s.store.UpdateDocumentState(ctx, docID, store.DocumentComplete, env.Meta.InitiatedBy, now.UnixMilli()); err != nil {
			return action.Envelope{}, fmt.Errorf("complete document %s: %w", docID, err)
		}
		return env, nil

	case action.TypeMarkDocumentViewing:
		if env.Meta.InitiatedBy == nil {
			return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "meta.initiatedBy is required", nil)
		}
		if err := s.store.SetViewingDocument(ctx, *env.Meta.InitiatedBy, env.OptionalString("documentId")); err != nil {
			return action.Envelope{}, fmt.Errorf("set viewing document: %w", err)
		}
		return env, nil
	}

	return action.Envelope{}, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_ACTION", "unsupported action type: "+env.Type, nil)
}

// importTerms walks an imported tree in export form. Objects carry branch
// labels as keys, arrays carry leaves as bare strings or {label} objects.
func (s *Service) importTerms(ctx context.Context, taxonomyID string, parentID *string, node any) error {
	switch value := node.(type) {
	case map[string]any:
		for label, subtree := range value {
			id, err := s.insertImportedTerm(ctx, taxonomyID, parentID, label)
			if err != nil {
				return err
			}
			if err := s.importTerms(ctx, taxonomyID, &id, subtree); err != nil {
				return err
			}
		}
	case []any:
		for _, leaf := range value {
			label := ""
			switch entry := leaf.(type) {
			case string:
				label = entry
			case map[string]any:
				label = stringField(entry, "label")
			}
			if label == "" {
				continue
			}
			if _, err := s.insertImportedTerm(ctx, taxonomyID, parentID, label); err != nil {
				return err
			}
		}
	case nil:
		return nil
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "taxonomy import must be objects and arrays", nil)
	}
	return nil
}

func (s *Service) insertImportedTerm(ctx context.Context, taxonomyID string, parentID *string, label string) (string, error) {
	term := store.Term{
		ID:         util.NewID(),
		TaxonomyID: taxonomyID,
		ParentID:   parentID,
		Label:      label,
	}
	if err := s.store.InsertTerm(ctx, term); err != nil {
		return "", fmt.Errorf("insert imported term %q: %w", label, err)
	}
	s.search.IndexTerm(search.TermHit{ID: term.ID, Label: label, TaxonomyID: taxonomyID})
	return term.ID, nil
}

// ExportTaxonomy renders the full nested snapshot of one taxonomy as
// pretty-printed JSON plus the download filename.
func (s *Service) ExportTaxonomy(ctx context.Context, taxonomyID string) (string, []byte, error) {
	tax, err := s.store.GetTaxonomy(ctx, taxonomyID)
	if err != nil {
		return "", nil, err
	}
	root, err := s.trees.Export(ctx, taxonomyID)
	if err != nil {
		return "", nil, fmt.Errorf("export taxonomy %s: %w", taxonomyID, err)
	}
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode export: %w", err)
	}
	filename := s.cfg.ExportPrefix + " - " + tax.Name + ".json"
	return filename, data, nil
}

// TaxonomyView pairs a taxonomy's identity with its materialized tree for
// the project listing.
type TaxonomyView struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Tree *taxonomy.Node `json:"tree"`
}

// ProjectTaxonomies lists a project's taxonomies with their materialized
// trees, served through the tree cache.
func (s *Service) ProjectTaxonomies(ctx context.Context, projectID string) ([]TaxonomyView, error) {
	items, err := s.store.ListTaxonomies(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list taxonomies: %w", err)
	}
	views := make([]TaxonomyView, len(items))
	for i, tax := range items {
		node, err := s.trees.Tree(ctx, tax.ID)
		if err != nil {
			return nil, fmt.Errorf("tree for taxonomy %s: %w", tax.ID, err)
		}
		views[i] = TaxonomyView{ID: tax.ID, Name: tax.Name, Tree: node}
	}
	return views, nil
}

func (s *Service) TaxonomyTree(ctx context.Context, taxonomyID string) (*taxonomy.Node, error) {
	return s.trees.Tree(ctx, taxonomyID)
}

// TermChildren lists the direct children of one term, or the roots of the
// taxonomy when parentID is empty.
func (s *Service) TermChildren(ctx context.Context, taxonomyID, parentID string) ([]store.Term, error) {
	if parentID == "" {
		return s.store.FindRootTerms(ctx, taxonomyID)
	}
	return s.store.FindChildren(ctx, parentID)
}

func (s *Service) SearchTerms(ctx context.Context, q search.Query) (search.Response, error) {
	return s.search.Search(q)
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return value
}

func documentID(raw any) string {
	switch value := raw.(type) {
	case string:
		return value
	case map[string]any:
		return stringField(value, "id")
	}
	return ""
}
