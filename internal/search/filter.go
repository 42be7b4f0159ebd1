package search

import (
	"fmt"
	"strings"
)

type FilterParams struct {
	Query       string
	Platform    string
	MinBedrooms *int
	MaxPrice    *int
	UnsentOnly  bool
	SortBy      string
	Limit       int64
}

// BuildFilter translates the params into Meilisearch filter expressions
func BuildFilter(params FilterParams) []string {
	var filters []string

	if p := strings.TrimSpace(params.Platform); p != "" {
		filters = append(filters, fmt.Sprintf("platform = %q", strings.ReplaceAll(p, `"`, "")))
	}
	if params.MinBedrooms != nil {
		filters = append(filters, fmt.Sprintf("bedrooms >= %d", *params.MinBedrooms))
	}
	if params.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("price_sgd <= %d", *params.MaxPrice))
	}
	if params.UnsentOnly {
		filters = append(filters, "is_sent = false")
	}
	return filters
}

// sortFields maps the accepted sort keys to index sort rules
var sortFields = map[string]string{
	"price_asc":  "price_sgd:asc",
	"price_desc": "price_sgd:desc",
	"psf_asc":    "price_psf:asc",
	"newest":     "scraped_at:desc",
}

// FilterSearch performs a filtered search, faceted by platform and bedrooms
func (s *SearchClient) FilterSearch(params FilterParams) (*SearchResult, error) {
	var sort []string
	if rule, ok := sortFields[params.SortBy]; ok {
		sort = []string{rule}
	}

	return s.AdvancedSearch(SearchRequest{
		Query:  params.Query,
		Limit:  params.Limit,
		Filter: BuildFilter(params),
		Sort:   sort,
		Facets: []string{"platform", "bedrooms"},
	})
}
