package parser

import (
	"regexp"
	"strings"
)

// exclusionRule drops a whole listing when its pattern matches the name.
type exclusionRule struct {
	reason  string
	pattern *regexp.Regexp
}

var defaultExclusions = []exclusionRule{
	{reason: "preventa", pattern: regexp.MustCompile(`(?i)preventa`)},
	{reason: "promo", pattern: regexp.MustCompile(`(?i)promo`)},
	{reason: "expansion", pattern: regexp.MustCompile(`(?i)expansi`)},
}

var (
	knownAnnotations = regexp.MustCompile(`(?i)\((castellano|inglés|seminuevo)\)`)
	anyParenthesized = regexp.MustCompile(`\([^)]*\)`)
)

// NameNormalizer filters and cleans offer titles.
type NameNormalizer struct {
	exclusions []exclusionRule
}

// NewNameNormalizer returns a normalizer with the default blocklist.
func NewNameNormalizer() *NameNormalizer {
	return &NameNormalizer{exclusions: defaultExclusions}
}

// Excluded reports whether the name hits the blocklist and which rule did.
func (n *NameNormalizer) Excluded(name string) (string, bool) {
	for _, rule := range n.exclusions {
		if rule.pattern.MatchString(name) {
			return rule.reason, true
		}
	}
	return "", false
}

// Normalize returns the cleaned name, or false when the listing must be
// dropped. Exclusion runs before any cleanup.
func (n *NameNormalizer) Normalize(name string) (string, bool) {
	if _, excluded := n.Excluded(name); excluded {
		return "", false
	}

	cleaned := knownAnnotations.ReplaceAllString(name, "")
	cleaned = anyParenthesized.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " "), true
}
