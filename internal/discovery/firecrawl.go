package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultFirecrawlURL = "https://api.firecrawl.dev"

// FirecrawlClient searches the web through the Firecrawl search API and
// scrapes each hit in the requested formats
type FirecrawlClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewFirecrawlClient creates a search client
func NewFirecrawlClient(apiKey, baseURL string, timeout time.Duration) *FirecrawlClient {
	if baseURL == "" {
		baseURL = defaultFirecrawlURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FirecrawlClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type firecrawlSearchRequest struct {
	Query         string                  `json:"query"`
	Limit         int                     `json:"limit,omitempty"`
	ScrapeOptions *firecrawlScrapeOptions `json:"scrapeOptions,omitempty"`
}

type firecrawlScrapeOptions struct {
	Formats []string `json:"formats"`
}

// Search runs one query. Transport failures, non-2xx answers and
// success=false bodies are returned as errors.
func (c *FirecrawlClient) Search(ctx context.Context, q Query) ([]Item, error) {
	body := firecrawlSearchRequest{Query: q.Text, Limit: q.Limit}
	if len(q.Formats) > 0 {
		body.ScrapeOptions = &firecrawlScrapeOptions{Formats: q.Formats}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if m, ok := payload.(map[string]interface{}); ok {
		if success, ok := m["success"].(bool); ok && !success {
			return nil, &ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		}
	}

	items := Normalize(payload)
	log.Printf("[Firecrawl] query=%q items=%d duration_ms=%d", q.Text, len(items), time.Since(start).Milliseconds())
	return items, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
