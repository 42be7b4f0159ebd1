package extractor

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"

	"property-monitor/internal/discovery"
)

// FallbackListingID derives a listing id from a URL when the model found
// none: the last non-empty path segment, or the MD5 of the normalized URL.
func FallbackListingID(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if u, err := url.Parse(rawURL); err == nil {
		segments := strings.Split(u.Path, "/")
		for i := len(segments) - 1; i >= 0; i-- {
			if s := strings.TrimSpace(segments[i]); s != "" {
				return s
			}
		}
	}
	return generateMD5(normalizeURL(rawURL))
}

// PlatformFromURL maps a listing URL to its platform name
func PlatformFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return discovery.PlatformForURL(u.Hostname())
}

// normalizeURL normalizes a URL by removing query strings and trailing slashes
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Scheme = "https"

	return u.String()
}

func generateMD5(text string) string {
	hash := md5.Sum([]byte(text))
	return fmt.Sprintf("%x", hash)
}
