package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over term
// labels, as the always-available fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]TermHit, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	where := `to_tsvector('simple', label) @@ plainto_tsquery('simple', $1)`
	args := []any{q.Text}
	if q.TaxonomyID != "" {
		args = append(args, q.TaxonomyID)
		where += fmt.Sprintf(" AND taxonomy_id = $%d", len(args))
	}

	rows, err := p.db.Query(fmt.Sprintf(`
		SELECT id, label, taxonomy_id
		FROM taxonomy_terms
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', label), plainto_tsquery('simple', $1)) DESC, label
		LIMIT %d
	`, where, limit), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	hits := make([]TermHit, 0)
	for rows.Next() {
		var hit TermHit
		if err := rows.Scan(&hit.ID, &hit.Label, &hit.TaxonomyID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return hits, len(hits), nil
}
