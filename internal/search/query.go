package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query   string   // User's search query
	BookKey string   // Restrict to one book (empty = all books)
	Kinds   []string // Annotation kinds to include (empty = all)

	// Pagination
	Limit  int
	Offset int

	// Sorting: "relevance" or "recent"
	SortBy string

	Highlight bool // Include match fragments
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:     20,
		SortBy:    "relevance",
		Highlight: true,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string      `json:"query"`
	Total  uint64      `json:"total"`
	TookMs int64       `json:"took_ms"`
	Hits   []SearchHit `json:"hits"`
}

// SearchHit represents a single matching annotation.
type SearchHit struct {
	ID         string            `json:"id"`
	BookKey    string            `json:"book_key"`
	Kind       string            `json:"kind"`
	Location   string            `json:"location"`
	Score      float64           `json:"score"`
	Text       string            `json:"text,omitempty"`
	Body       string            `json:"body,omitempty"`
	Highlights map[string]string `json:"highlights,omitempty"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}

	searchRequest := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)
	if params.SortBy == "recent" {
		searchRequest.SortBy([]string{"-created_at"})
	} else {
		searchRequest.SortBy([]string{"-_score", "-created_at"})
	}

	if params.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		searchRequest.Highlight.AddField("text")
		searchRequest.Highlight.AddField("body")
	}
	searchRequest.Fields = []string{"id", "book_key", "kind", "location", "text", "body"}

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(searchResult.Hits)),
	}
	for _, hit := range searchResult.Hits {
		searchHit := SearchHit{
			ID:    hit.ID,
			Score: hit.Score,
		}
		if v, ok := hit.Fields["book_key"].(string); ok {
			searchHit.BookKey = v
		}
		if v, ok := hit.Fields["kind"].(string); ok {
			searchHit.Kind = v
		}
		if v, ok := hit.Fields["location"].(string); ok {
			searchHit.Location = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			searchHit.Text = v
		}
		if v, ok := hit.Fields["body"].(string); ok {
			searchHit.Body = v
		}

		if len(hit.Fragments) > 0 {
			searchHit.Highlights = make(map[string]string)
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					searchHit.Highlights[field] = fragments[0]
				}
			}
		}
		result.Hits = append(result.Hits, searchHit)
	}
	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if q := strings.TrimSpace(params.Query); q != "" {
		textMatch := bleve.NewMatchQuery(q)
		textMatch.SetField("text")
		textMatch.SetBoost(2.0)

		bodyMatch := bleve.NewMatchQuery(q)
		bodyMatch.SetField("body")
		bodyMatch.SetBoost(1.5)

		// Typo tolerance on single words
		textQueries := []query.Query{textMatch, bodyMatch}
		if !strings.ContainsAny(q, " \t") {
			for _, field := range []string{"text", "body"} {
				fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
				fuzzy.SetFuzziness(1)
				fuzzy.SetField(field)
				fuzzy.SetBoost(0.5)
				textQueries = append(textQueries, fuzzy)
			}
		}
		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if params.BookKey != "" {
		bq := bleve.NewTermQuery(params.BookKey)
		bq.SetField("book_key")
		queries = append(queries, bq)
	}

	if len(params.Kinds) > 0 {
		kindQueries := make([]query.Query, len(params.Kinds))
		for i, k := range params.Kinds {
			kq := bleve.NewTermQuery(k)
			kq.SetField("kind")
			kindQueries[i] = kq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(kindQueries...))
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}
