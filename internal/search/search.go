package search

// TermHit is a single term label match.
type TermHit struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	TaxonomyID string `json:"taxonomyId"`
}

// Query describes a term label search, scoped to one taxonomy.
type Query struct {
	Text       string
	TaxonomyID string
	Limit      int
}

// Response is the envelope returned to callers.
type Response struct {
	Hits  []TermHit `json:"hits"`
	Total int       `json:"total"`
	Query string    `json:"query"`
}

// Searcher can execute a term label search.
type Searcher interface {
	Search(q Query) ([]TermHit, int, error)
	Healthy() bool
}
