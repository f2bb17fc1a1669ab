// Package links extracts and normalizes URLs mentioned in inbound messages
// so the gateway can surface link context to the agent loop.
package links

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultMaxLinks bounds extraction when a caller passes a non-positive limit.
const DefaultMaxLinks = 5

var (
	httpURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)
	shorteners     = []string{"bit.ly", "t.co", "goo.gl", "tinyurl.com", "ow.ly", "is.gd", "buff.ly", "j.mp", "rb.gy", "cutt.ly"}
)

// ExtractFromMessage pulls up to maxLinks distinct URLs out of message text,
// preserving first-seen order and trimming trailing sentence punctuation.
func ExtractFromMessage(message string, maxLinks int) []string {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	matches := httpURLPattern.FindAllString(message, -1)

	seen := make(map[string]bool)
	var urls []string
	for _, match := range matches {
		match = strings.TrimRight(match, ".,;:!?)")

		if !seen[match] && len(urls) < maxLinks {
			seen[match] = true
			urls = append(urls, match)
		}
	}

	return urls
}

// IsShortener reports whether a URL's host is a known link shortener.
func IsShortener(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")

	for _, shortener := range shorteners {
		if host == shortener {
			return true
		}
	}

	return false
}

// Normalize canonicalizes a URL for deduplication: lowercases scheme and
// host, strips default ports and trailing path slash, sorts query
// parameters, and drops the fragment.
func Normalize(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	host := parsed.Host
	if strings.HasSuffix(host, ":80") && parsed.Scheme == "http" {
		parsed.Host = strings.TrimSuffix(host, ":80")
	}
	if strings.HasSuffix(host, ":443") && parsed.Scheme == "https" {
		parsed.Host = strings.TrimSuffix(host, ":443")
	}

	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = parsed.Query().Encode()
	}

	parsed.Fragment = ""

	return parsed.String()
}

// Domain extracts the lowercased host (without port) from a URL.
func Domain(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}

	return host
}

// IsValid reports whether a string parses as an http(s) URL with a host.
func IsValid(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}
