package discovery

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listKeys are the keys providers have used for the result list, in
// preference order. "data" may itself be a mapping holding "web".
var listKeys = []string{"web", "data", "results"}

// Normalize maps any supported provider payload to items. It accepts typed
// items, decoded JSON arrays, and mappings holding the list under one of the
// known keys. Unrecognized shapes yield no items.
func Normalize(payload interface{}) []Item {
	switch v := payload.(type) {
	case nil:
		return nil
	case []Item:
		return v
	case Item:
		return []Item{v}
	case *Item:
		if v == nil {
			return nil
		}
		return []Item{*v}
	case json.RawMessage:
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err != nil {
			log.Printf("[Discovery] Failed to decode payload: %v", err)
			return nil
		}
		return Normalize(decoded)
	case []interface{}:
		items := make([]Item, 0, len(v))
		for _, raw := range v {
			if item, ok := normalizeItem(raw); ok {
				items = append(items, item)
			}
		}
		return items
	case map[string]interface{}:
		for _, key := range listKeys {
			if inner, ok := v[key]; ok && inner != nil {
				if items := Normalize(inner); len(items) > 0 {
					return items
				}
			}
		}
		// A single document mapping
		if _, hasURL := v["url"]; hasURL {
			if item, ok := normalizeItem(v); ok {
				return []Item{item}
			}
		}
	}
	return nil
}

func normalizeItem(raw interface{}) (Item, bool) {
	switch v := raw.(type) {
	case Item:
		return v, true
	case *Item:
		if v == nil {
			return Item{}, false
		}
		return *v, true
	case map[string]interface{}:
		meta, _ := v["metadata"].(map[string]interface{})

		item := Item{
			Content: firstString(v, "markdown", "content"),
			URL:     firstString(v, "url"),
			Title:   firstString(v, "title"),
		}
		if item.Content == "" {
			if html := firstString(v, "html", "rawHtml"); html != "" {
				item.Content = HTMLToText(html)
			}
		}
		if meta != nil {
			if item.URL == "" {
				item.URL = firstString(meta, "sourceURL", "url", "ogUrl")
			}
			if item.Title == "" {
				item.Title = firstString(meta, "title")
			}
			item.Metadata.Error = firstString(meta, "error")
			item.Metadata.StatusCode = toStatusCode(meta["statusCode"])
		}
		return item, true
	}
	return Item{}, false
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func toStatusCode(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

// HTMLToText extracts readable text from an HTML document, preferring the
// main content region and dropping scripts, styles and navigation
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, noscript, nav, footer, header, svg, iframe").Remove()

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
