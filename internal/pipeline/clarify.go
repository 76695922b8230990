package pipeline

import (
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Queries shorter than this are considered under-specified.
const minQueryLength = 12

// ambiguityMarkers are phrases that signal the user has not named a
// subject at all.
var ambiguityMarkers = []string{
	"something about", "anything about", "stuff about", "you know",
	"that thing", "whatever", "etc etc",
}

// Clarify decides whether the query is answerable as-is. The policy is
// to proceed with a reasonable interpretation whenever possible; a
// clarification request is reserved for genuinely ambiguous input.
// Returns true when the session must wait for approval.
func Clarify(s *types.Session) bool {
	query := strings.TrimSpace(s.Query)

	reason := ""
	switch {
	case len(query) < minQueryLength:
		reason = "the query is very short"
	case !hasSubstantiveWord(query):
		reason = "the query names no concrete subject"
	case hasAmbiguityMarker(query):
		reason = "the query is explicitly vague"
	}

	if reason == "" {
		s.RefinedQuery = query
		return false
	}

	s.Clarification = fmt.Sprintf(
		"Please restate the research question: %s. A good query names the subject and the aspect to investigate, e.g. %q.",
		reason, "effects of climate change on wheat yields")
	logging.Pipeline("session %s needs clarification: %s", s.ID, reason)
	return true
}

// Approve accepts an optional restated query and releases the session.
func Approve(s *types.Session, restated string) {
	restated = strings.TrimSpace(restated)
	if restated != "" {
		s.RefinedQuery = restated
	} else {
		s.RefinedQuery = s.Query
	}
	s.Clarification = ""
}

// hasSubstantiveWord is the no-nouns proxy: at least one non-stop-word
// token longer than three characters.
func hasSubstantiveWord(query string) bool {
	for w := range tokens(query) {
		if len(w) > 3 {
			return true
		}
	}
	return false
}

func hasAmbiguityMarker(query string) bool {
	q := strings.ToLower(query)
	for _, m := range ambiguityMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}
