package types

import (
	"net/url"
	"sort"
	"strings"
)

// Tracking query parameters stripped during normalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"ref_src":      true,
}

// NormalizeURL canonicalizes a URL for entity dedup: scheme and host are
// lowercased, the fragment is stripped, tracking parameters are removed and
// the remaining query keys are sorted. Invariant: NormalizeURL is
// idempotent. Unparsable input is returned trimmed but otherwise unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			if trackingParams[strings.ToLower(k)] {
				delete(q, k)
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range q[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	// Trailing slash on a bare path is not meaningful.
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}

	return u.String()
}

// HostOf returns the lowercased host portion of a URL, empty if unparsable.
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
