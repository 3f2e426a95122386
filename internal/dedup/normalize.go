package dedup

import (
	"sort"
	"strings"
)

// canonicalizeTags implements spec.md §4.5.2 step 5: split on commas, trim,
// lowercase, drop empties, deduplicate, sort ascending, rejoin with commas.
func canonicalizeTags(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	var tokens []string
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func joinTags(tokens []string) string {
	return strings.Join(tokens, ",")
}

// isSupersetOf reports whether tokens contains every token in exclusion
// (spec.md §4.5.2 step 4: "the summary token set is a superset of any
// tag-exclusion group's tokens").
func isSupersetOf(tokens, exclusion []string) bool {
	if len(exclusion) == 0 {
		return false
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	for _, e := range exclusion {
		if !set[e] {
			return false
		}
	}
	return true
}
