package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"by": true, "with": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "that": true,
	"this": true, "these": true, "those": true, "it": true, "its": true,
	"has": true, "have": true, "had": true, "not": true, "no": true,
	"than": true, "then": true, "there": true, "their": true, "which": true,
	"will": true, "would": true, "can": true, "could": true, "may": true,
	"about": true, "into": true, "over": true, "under": true, "per": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z0-9%.]+`)

// tokens returns the lowercased non-stop-word token set of a statement.
func tokens(statement string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(statement), -1) {
		w = strings.Trim(w, ".")
		if w == "" || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// jaccard computes set similarity; empty sets score 0.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// years extracts distinct 4-digit years from a statement.
func years(statement string) []string {
	seen := map[string]bool{}
	var out []string
	for _, y := range yearRe.FindAllString(statement, -1) {
		if !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	return out
}

var numberRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

// numbers extracts numeric values, skipping 4-digit years so a date is
// never treated as a measurement.
func numbers(statement string) []float64 {
	var out []float64
	for _, m := range numberRe.FindAllString(statement, -1) {
		if yearRe.MatchString(m) {
			continue
		}
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// relativeDiff is |a-b| / max(|a|,|b|); 0 when both are 0.
func relativeDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	den := abs(a)
	if abs(b) > den {
		den = abs(b)
	}
	return abs(a-b) / den
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
