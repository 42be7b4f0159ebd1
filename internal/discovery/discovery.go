// Package discovery finds listing pages for a watched property through a
// search provider and turns the provider's payload into uniform items.
package discovery

import (
	"context"
	"fmt"
	"strings"
)

// Site is a supported listing platform
type Site struct {
	Domain   string
	Platform string
}

// Sites is the fixed list of platforms searched for every target
var Sites = []Site{
	{Domain: "propertyguru.com.sg", Platform: "propertyguru"},
	{Domain: "99.co", Platform: "99.co"},
}

// Query is one search request
type Query struct {
	Text    string
	Limit   int
	Formats []string
}

// ItemMetadata is per-item provider metadata
type ItemMetadata struct {
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Item is one discovered page
type Item struct {
	Content  string       `json:"content,omitempty"`
	URL      string       `json:"url,omitempty"`
	Title    string       `json:"title,omitempty"`
	Metadata ItemMetadata `json:"metadata"`
}

// Failed reports whether the provider flagged this item as an error page
func (i Item) Failed() bool {
	return i.Metadata.Error != "" || i.Metadata.StatusCode >= 400
}

// Searcher runs a discovery query
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Item, error)
}

// BuildQuery builds the provider query for a target on a site
func BuildQuery(target string, site Site, criteria string) string {
	parts := []string{"site:" + site.Domain, strings.TrimSpace(target)}
	if c := strings.TrimSpace(criteria); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, " ")
}

// PlatformForURL returns the platform of a known site, or the bare host
func PlatformForURL(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, site := range Sites {
		if host == site.Domain || strings.HasSuffix(host, "."+site.Domain) {
			return site.Platform
		}
	}
	return host
}

// ProviderError is a non-success answer from the search provider
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("search provider error: %s", e.Message)
	}
	return fmt.Sprintf("search provider error: status %d: %s", e.StatusCode, e.Message)
}
