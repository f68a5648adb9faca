package extract

import (
	"net/url"
	"strings"
)

// DefaultBaseURL is the public Ad Library search page.
const DefaultBaseURL = "https://www.facebook.com/ads/library/"

// SearchURL builds the keyword search for term in region across all active
// ads and media types.
func SearchURL(base, term, region string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	q := url.Values{}
	q.Set("active_status", "active")
	q.Set("ad_type", "all")
	q.Set("country", strings.ToUpper(region))
	q.Set("q", term)
	q.Set("search_type", "keyword_unordered")
	q.Set("media_type", "all")
	return base + "?" + q.Encode()
}

// unwrapRedirect returns the target of an l.facebook.com link shim, or raw
// when it is not one.
func unwrapRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Hostname() != "l.facebook.com" {
		return raw
	}
	if target := u.Query().Get("u"); target != "" {
		return target
	}
	return raw
}
