package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTerms = "termhub_terms"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the terms index.
// An unreachable instance is tolerated: the health loop keeps probing and
// reconfigures the index once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTerms,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxTerms, err)
	}

	index := m.client.Index(idxTerms)
	filterable := []interface{}{"taxonomyId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxTerms, err)
	}
	searchable := []string{"label"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxTerms, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the terms index, filtered to one taxonomy.
func (m *Meili) Search(q Query) ([]TermHit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	request := &meili.SearchRequest{
		IndexUID: idxTerms,
		Query:    q.Text,
		Limit:    limit,
	}
	if q.TaxonomyID != "" {
		request.Filter = []string{fmt.Sprintf("taxonomyId = %q", q.TaxonomyID)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{request},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var hits []TermHit
	total := 0
	for _, result := range resp.Results {
		total += int(result.EstimatedTotalHits)
		for _, hit := range result.Hits {
			hits = append(hits, TermHit{
				ID:         decodeString(hit, "id"),
				Label:      decodeString(hit, "label"),
				TaxonomyID: decodeString(hit, "taxonomyId"),
			})
		}
	}
	return hits, total, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return value
	}
	return ""
}

// IndexTerm adds or updates one term in the search index.
func (m *Meili) IndexTerm(hit TermHit) error {
	_, err := m.client.Index(idxTerms).AddDocuments([]TermHit{hit}, nil)
	return err
}

// DeleteTerm removes one term from the search index.
func (m *Meili) DeleteTerm(id string) error {
	_, err := m.client.Index(idxTerms).DeleteDocument(id, nil)
	return err
}
