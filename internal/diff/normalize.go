package diff

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeString lowercases, trims, strips punctuation, and collapses
// internal whitespace runs, so cosmetic edits (re-casing, re-punctuating,
// extra spaces) never register as a change.
func normalizeString(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

// normalizeValue applies type-appropriate normalization for equality
// comparison and canonical hashing.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return normalizeString(val)
	case []any:
		normalized := make([]any, len(val))
		for i, e := range val {
			normalized[i] = normalizeValue(e)
		}
		return normalized
	case map[string]any:
		return canonicalJSON(val)
	case float64, int, int64, bool, nil:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// canonicalJSON renders a mapping with lexicographically sorted keys so two
// structurally-equal maps with differently ordered keys hash identically.
func canonicalJSON(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(normalizeValue(m[k]))
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered)
}

// valuesEqual compares two field values using type-appropriate normalization.
func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", normalizeValue(a)) == fmt.Sprintf("%v", normalizeValue(b))
}

// tokenize splits a normalized string into a token set for Jaccard similarity.
func tokenize(s string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(normalizeString(s)) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// jaccardDistance returns 1 - |intersection|/|union| for two strings' token
// sets; 0 when the strings are token-identical, 1 when fully disjoint. Two
// empty strings are considered identical (distance 0).
func jaccardDistance(a, b string) float64 {
	setA := tokenize(a)
	setB := tokenize(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return 1 - float64(intersection)/float64(union)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
