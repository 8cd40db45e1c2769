package search

import "log"

// Service fronts the configured search backends: Meilisearch when it is
// reachable, PostgreSQL full-text search otherwise. Indexing calls are
// fire-and-forget so term mutations never block on the search engine.
type Service struct {
	meili    *Meili
	fallback Searcher
}

func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) backend() Searcher {
	if s.meili != nil && s.meili.Healthy() {
		return s.meili
	}
	return s.fallback
}

func (s *Service) Search(q Query) (Response, error) {
	hits, total, err := s.backend().Search(q)
	if err != nil {
		return Response{}, err
	}
	if hits == nil {
		hits = []TermHit{}
	}
	return Response{Hits: hits, Total: total, Query: q.Text}, nil
}

// IndexTerm pushes one term into the external index in the background.
// No-op when Meilisearch is not configured; the Postgres fallback is
// always consistent because it queries the source tables directly.
func (s *Service) IndexTerm(hit TermHit) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexTerm(hit); err != nil {
			log.Printf("search: index term %s: %v", hit.ID, err)
		}
	}()
}

func (s *Service) DeleteTerm(id string) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeleteTerm(id); err != nil {
			log.Printf("search: delete term %s: %v", id, err)
		}
	}()
}
