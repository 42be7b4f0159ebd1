// Package extractor turns unstructured listing page text into a Listing by
// prompting a language model for a JSON object.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"property-monitor/internal/models"
)

const defaultMaxContentChars = 40000

// ErrExtraction is returned when the model call fails or its answer cannot
// be parsed
var ErrExtraction = errors.New("extraction failed")

const promptTemplate = `You are a real estate data extractor.
Analyze the following text from a property listing (%s).
Extract the following fields into a valid JSON object.

Fields:
- platform: "propertyguru" or "99.co" (infer from url)
- listing_id: unique id from the platform
- url: %s
- condo_name: standardized name (inferred from text or "%s")
- address: string
- district: string (e.g. D10)
- price_sgd: integer (no symbols)
- price_psf: integer (no symbols)
- bedrooms: integer
- bathrooms: integer
- size_sqft: integer
- floor_level: string (e.g. "High", "Low", "12")
- tenure: string
- top_year: integer (TOP year)
- agent_name: string
- agent_phone: string
- listing_date: string (ISO format if possible, else raw)

Any other useful attribute may be added as an extra snake_case key.
If a field is not found, return null.
Strictly return ONLY the JSON object. No markdown formatting.

Text content:
%s`

// Extractor builds prompts and parses model answers into listings
type Extractor struct {
	gen             Generator
	maxContentChars int
}

// New creates an extractor. maxContentChars <= 0 uses the default.
func New(gen Generator, maxContentChars int) *Extractor {
	if maxContentChars <= 0 {
		maxContentChars = defaultMaxContentChars
	}
	return &Extractor{gen: gen, maxContentChars: maxContentChars}
}

// Extract asks the model for the listing attributes of one page. It never
// panics; every failure is logged and returned wrapping ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, content, url, hint string) (*models.Listing, error) {
	prompt := BuildPrompt(truncate(content, e.maxContentChars), url, hint)

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		log.Printf("[Extractor] LLM call failed for %s: %v", url, err)
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	listing, err := Parse(raw)
	if err != nil {
		log.Printf("[Extractor] LLM parse error for %s: %v (response: %s)", url, err, truncate(raw, 500))
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	if listing.URL == "" {
		listing.URL = url
	}
	// Identity comes from the page that was fetched, not the URL the model echoes
	source := url
	if source == "" {
		source = listing.URL
	}
	if listing.ListingID == "" {
		listing.ListingID = FallbackListingID(source)
	}
	if listing.Platform == "" {
		listing.Platform = PlatformFromURL(source)
	}
	return listing, nil
}

// BuildPrompt renders the extraction prompt
func BuildPrompt(content, url, hint string) string {
	return fmt.Sprintf(promptTemplate, url, url, hint, content)
}

// Parse decodes a model answer into a listing. Code fences and any text
// around the outermost JSON object are ignored.
func Parse(raw string) (*models.Listing, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if fields == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return fromFields(fields), nil
}

func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func fromFields(fields map[string]interface{}) *models.Listing {
	l := &models.Listing{
		Platform:    strings.ToLower(toString(fields["platform"])),
		ListingID:   toString(fields["listing_id"]),
		URL:         toString(fields["url"]),
		CondoName:   toString(fields["condo_name"]),
		Address:     toString(fields["address"]),
		District:    toString(fields["district"]),
		PriceSGD:    toNonNegativeInt(fields["price_sgd"]),
		PricePSF:    toNonNegativeInt(fields["price_psf"]),
		Bedrooms:    toNonNegativeInt(fields["bedrooms"]),
		Bathrooms:   toNonNegativeInt(fields["bathrooms"]),
		SizeSqft:    toNonNegativeInt(fields["size_sqft"]),
		FloorLevel:  toString(fields["floor_level"]),
		Tenure:      toString(fields["tenure"]),
		TopYear:     toNonNegativeInt(fields["top_year"]),
		AgentName:   toString(fields["agent_name"]),
		AgentPhone:  toString(fields["agent_phone"]),
		ListingDate: toString(fields["listing_date"]),
	}

	for key, v := range fields {
		if knownFields[key] || v == nil {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]any)
		}
		l.Extra[key] = v
	}
	return l
}

var knownFields = map[string]bool{
	"platform": true, "listing_id": true, "url": true, "condo_name": true,
	"address": true, "district": true, "price_sgd": true, "price_psf": true,
	"bedrooms": true, "bathrooms": true, "size_sqft": true, "floor_level": true,
	"tenure": true, "top_year": true, "agent_name": true, "agent_phone": true,
	"listing_date": true, "target": true,
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

// numberPattern matches the first number in text like "S$ 2,800,000",
// "1.2M" or "1,450psf"
var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// unitPattern matches a multiplier right after the number. It must not run
// into a longer word, so "2.8M" scales but "850mrt" and "1,450psf" do not.
var unitPattern = regexp.MustCompile(`(?i)^\s*(million|mil|k|m)(?:[^a-z]|$)`)

// toNonNegativeInt coerces a model value to an integer. Negative values and
// anything unparseable become nil.
func toNonNegativeInt(v interface{}) *int {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		loc := numberPattern.FindStringIndex(n)
		if loc == nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(n[loc[0]:loc[1]], ",", ""), 64)
		if err != nil {
			return nil
		}
		if unit := unitPattern.FindStringSubmatch(n[loc[1]:]); unit != nil {
			switch strings.ToLower(unit[1]) {
			case "k":
				parsed *= 1e3
			case "m", "mil", "million":
				parsed *= 1e6
			}
		}
		f = parsed
	default:
		return nil
	}

	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32*1000.0 {
		return nil
	}
	i := int(math.Round(f))
	return &i
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
