package news

import (
	"sort"
	"strings"
)

// DefaultKeyword is the cache identity used when a query has no keywords.
const DefaultKeyword = "default"

// NormalizeKeywords canonicalizes a free-text keyword set into a stable
// cache identity: lowercase, whitespace-collapsed, empties dropped, tokens
// sorted and joined with single spaces. Two queries that normalize to the
// same string share one digest while the cache TTL holds.
//
// This rule is a contract; tests pin it.
func NormalizeKeywords(keywords []string) string {
	tokens := make([]string, 0, len(keywords))
	for _, k := range keywords {
		for _, f := range strings.Fields(strings.ToLower(k)) {
			if f != "" {
				tokens = append(tokens, f)
			}
		}
	}
	if len(tokens) == 0 {
		return DefaultKeyword
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
