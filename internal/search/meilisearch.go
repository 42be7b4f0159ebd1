package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"property-monitor/internal/models"
)

const defaultIndex = "listings"

// SearchClient mirrors stored listings into a Meilisearch index
type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey, index string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	if index == "" {
		index = defaultIndex
	}

	return &SearchClient{
		client: client,
		index:  index,
	}
}

// Document is the indexed form of a listing
type Document struct {
	ID        uint   `json:"id"`
	ListingID string `json:"listing_id"`
	Platform  string `json:"platform"`
	URL       string `json:"url"`
	CondoName string `json:"condo_name"`
	Target    string `json:"target"`
	Address   string `json:"address"`
	District  string `json:"district"`
	PriceSGD  *int   `json:"price_sgd"`
	PricePSF  *int   `json:"price_psf"`
	Bedrooms  *int   `json:"bedrooms"`
	Bathrooms *int   `json:"bathrooms"`
	SizeSqft  *int   `json:"size_sqft"`
	Tenure    string `json:"tenure"`
	AgentName string `json:"agent_name"`
	IsSent    bool   `json:"is_sent"`
	ScrapedAt int64  `json:"scraped_at"`
}

// ToDocument converts a stored listing
func ToDocument(l models.Listing) Document {
	return Document{
		ID:        l.ID,
		ListingID: l.ListingID,
		Platform:  l.Platform,
		URL:       l.URL,
		CondoName: l.CondoName,
		Target:    l.Target,
		Address:   l.Address,
		District:  l.District,
		PriceSGD:  l.PriceSGD,
		PricePSF:  l.PricePSF,
		Bedrooms:  l.Bedrooms,
		Bathrooms: l.Bathrooms,
		SizeSqft:  l.SizeSqft,
		Tenure:    l.Tenure,
		AgentName: l.AgentName,
		IsSent:    l.IsSent,
		ScrapedAt: l.ScrapedAt.Unix(),
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	// Create index if it doesn't exist
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	if err != nil && !strings.Contains(err.Error(), "index_already_exists") {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"condo_name",
		"address",
		"district",
		"target",
		"agent_name",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"platform",
		"bedrooms",
		"price_sgd",
		"is_sent",
		"target",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price_sgd",
		"price_psf",
		"scraped_at",
	})
	if err != nil {
		return err
	}

	return nil
}

// IndexListings upserts listings that already have a row id
func (s *SearchClient) IndexListings(listings []models.Listing) error {
	docs := make([]Document, 0, len(listings))
	seen := make(map[uint]bool, len(listings))
	for _, l := range listings {
		if l.ID == 0 || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		docs = append(docs, ToDocument(l))
	}
	if len(docs) == 0 {
		return nil
	}
	_, err := s.client.Index(s.index).AddDocuments(docs, "id")
	if err != nil {
		return fmt.Errorf("failed to index %d listings: %w", len(docs), err)
	}
	return nil
}

// MarkSent flips is_sent on already indexed listings with a partial update
func (s *SearchClient) MarkSent(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	docs := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, map[string]interface{}{"id": id, "is_sent": true})
	}
	_, err := s.client.Index(s.index).UpdateDocuments(docs, "id")
	if err != nil {
		return fmt.Errorf("failed to mark %d listings sent in index: %w", len(ids), err)
	}
	return nil
}

// SearchRequest represents advanced search parameters
type SearchRequest struct {
	Query  string
	Limit  int64
	Offset int64
	Filter []string
	Sort   []string
	Facets []string
}

// SearchResult represents search results with facets
type SearchResult struct {
	Hits           []Document             `json:"hits"`
	TotalHits      int64                  `json:"total_hits"`
	Facets         map[string]interface{} `json:"facets,omitempty"`
	ProcessingTime int64                  `json:"processing_time_ms"`
}

// AdvancedSearch performs advanced search with facets and filters
func (s *SearchClient) AdvancedSearch(req SearchRequest) (*SearchResult, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if len(req.Filter) > 0 {
		searchReq.Filter = strings.Join(req.Filter, " AND ")
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}
	if len(req.Facets) > 0 {
		searchReq.Facets = req.Facets
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		if doc, ok := parseDocument(hit); ok {
			docs = append(docs, doc)
		}
	}

	var facets map[string]interface{}
	if searchRes.FacetDistribution != nil {
		facets, _ = searchRes.FacetDistribution.(map[string]interface{})
	}

	return &SearchResult{
		Hits:           docs,
		TotalHits:      searchRes.EstimatedTotalHits,
		Facets:         facets,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// parseDocument converts a search hit to a Document
func parseDocument(hit interface{}) (Document, bool) {
	data, err := json.Marshal(hit)
	if err != nil {
		return Document{}, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, false
	}
	return doc, true
}
