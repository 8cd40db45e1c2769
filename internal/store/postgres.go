package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, slug, team_id)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.Slug, project.TeamID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, team_id, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&project.ID, &project.Name, &project.Slug, &project.TeamID, &project.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// Taxonomies

func (s *PostgresStore) CreateTaxonomy(ctx context.Context, taxonomy Taxonomy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxonomies (id, project_id, name)
		VALUES ($1, $2, $3)
	`, taxonomy.ID, taxonomy.ProjectID, taxonomy.Name)
	if err != nil {
		return fmt.Errorf("insert taxonomy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTaxonomy(ctx context.Context, taxonomyID string) (Taxonomy, error) {
	var taxonomy Taxonomy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name FROM taxonomies WHERE id=$1
	`, taxonomyID).Scan(&taxonomy.ID, &taxonomy.ProjectID, &taxonomy.Name)
	if err != nil {
		return Taxonomy{}, err
	}
	return taxonomy, nil
}

func (s *PostgresStore) ListTaxonomies(ctx context.Context, projectID string) ([]Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name FROM taxonomies WHERE project_id=$1 ORDER BY name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list taxonomies: %w", err)
	}
	defer rows.Close()

	items := make([]Taxonomy, 0)
	for rows.Next() {
		var item Taxonomy
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan taxonomy: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate taxonomies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameTaxonomy(ctx context.Context, taxonomyID, newName string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE taxonomies SET name=$2 WHERE id=$1
	`, taxonomyID, newName)
	if err != nil {
		return fmt.Errorf("rename taxonomy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename taxonomy rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Terms

func (s *PostgresStore) InsertTerm(ctx context.Context, term Term) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxonomy_terms (id, taxonomy_id, parent_id, label)
		VALUES ($1, $2, $3, $4)
	`, term.ID, term.TaxonomyID, term.ParentID, term.Label)
	if err != nil {
		return fmt.Errorf("insert term: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameTerm(ctx context.Context, taxonomyID, termID, newName string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE taxonomy_terms SET label=$3 WHERE taxonomy_id=$1 AND id=$2
	`, taxonomyID, termID, newName)
	if err != nil {
		return fmt.Errorf("rename term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename term rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTerm removes one term; descendants go with it via the schema's
// ON DELETE CASCADE on parent_id.
func (s *PostgresStore) DeleteTerm(ctx context.Context, taxonomyID, termID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM taxonomy_terms WHERE taxonomy_id=$1 AND id=$2
	`, taxonomyID, termID)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete term rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListTerms returns every term of one taxonomy, label ascending. The tree
// builder turns this single pass into an adjacency index instead of issuing
// one child query per node.
func (s *PostgresStore) ListTerms(ctx context.Context, taxonomyID string) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, taxonomy_id, parent_id, label
		FROM taxonomy_terms
		WHERE taxonomy_id=$1
		ORDER BY label
	`, taxonomyID)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return scanTerms(rows)
}

func (s *PostgresStore) FindRootTerms(ctx context.Context, taxonomyID string) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, taxonomy_id, parent_id, label
		FROM taxonomy_terms
		WHERE taxonomy_id=$1 AND parent_id IS NULL
		ORDER BY label
	`, taxonomyID)
	if err != nil {
		return nil, fmt.Errorf("find root terms: %w", err)
	}
	return scanTerms(rows)
}

func (s *PostgresStore) FindChildren(ctx context.Context, parentID string) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, taxonomy_id, parent_id, label
		FROM taxonomy_terms
		WHERE parent_id=$1
		ORDER BY label
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("find children: %w", err)
	}
	return scanTerms(rows)
}

// FindGrandchildCandidates returns, among the direct children of parentID
// (roots when nil), the ones that themselves have at least one child.
func (s *PostgresStore) FindGrandchildCandidates(ctx context.Context, taxonomyID string, parentID *string) ([]TermRef, error) {
	query := `
		SELECT a.id, a.label
		FROM taxonomy_terms a
		INNER JOIN taxonomy_terms b ON a.id = b.parent_id
		WHERE a.taxonomy_id = $1 AND a.parent_id %s
		GROUP BY a.id, a.label
		ORDER BY a.label
	`
	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(query, "IS NULL"), taxonomyID)
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(query, "= $2"), taxonomyID, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("find grandchild candidates: %w", err)
	}
	defer rows.Close()

	refs := make([]TermRef, 0)
	for rows.Next() {
		var ref TermRef
		if err := rows.Scan(&ref.ID, &ref.Label); err != nil {
			return nil, fmt.Errorf("scan grandchild candidate: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grandchild candidates: %w", err)
	}
	return refs, nil
}

// FindLeafLabels returns the labels of the direct children of parentID
// (roots when nil), label ascending, excluding the given term ids.
func (s *PostgresStore) FindLeafLabels(ctx context.Context, taxonomyID string, parentID *string, excludeIDs []string) ([]string, error) {
	var clauses []string
	args := []any{taxonomyID}
	clauses = append(clauses, "taxonomy_id = $1")
	if parentID == nil {
		clauses = append(clauses, "parent_id IS NULL")
	} else {
		args = append(args, *parentID)
		clauses = append(clauses, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("id NOT IN (%s)", strings.Join(placeholders, ", ")))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT label FROM taxonomy_terms WHERE %s ORDER BY label
	`, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("find leaf labels: %w", err)
	}
	defer rows.Close()

	labels := make([]string, 0)
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan leaf label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaf labels: %w", err)
	}
	return labels, nil
}

func scanTerms(rows *sql.Rows) ([]Term, error) {
	defer rows.Close()
	items := make([]Term, 0)
	for rows.Next() {
		var item Term
		if err := rows.Scan(&item.ID, &item.TaxonomyID, &item.ParentID, &item.Label); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}
	return items, nil
}

// Documents

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, batch_id, batch_label, state, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.ProjectID, item.Name, item.BatchID, item.BatchLabel, item.State, item.UploadedBy, item.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, state string, by *string, at int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET state=$2, completed_by=$3, completed_at=$4 WHERE id=$1
	`, documentID, state, by, at)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document state rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocuments(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(documentIDs))
	args := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM documents WHERE id IN (%s)
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, annotation Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, document_id, body, created_by)
		VALUES ($1, $2, $3, $4)
	`, annotation.ID, annotation.DocumentID, annotation.Body, annotation.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

// Users

func (s *PostgresStore) SetViewingDocument(ctx context.Context, userID string, documentID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET currently_viewing_document=$2 WHERE id=$1
	`, userID, documentID)
	if err != nil {
		return fmt.Errorf("set viewing document: %w", err)
	}
	return nil
}
