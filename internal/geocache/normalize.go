package geocache

import (
	"regexp"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// Street suffixes and directionals folded to their postal abbreviations.
// Applied on word boundaries only, so "Main Street" and "main st" share a key
// but "Streeter Ave" is left alone.
var abbreviations = []struct {
	pattern *regexp.Regexp
	abbrev  string
}{
	{regexp.MustCompile(`\bstreet\b`), "st"},
	{regexp.MustCompile(`\bavenue\b`), "ave"},
	{regexp.MustCompile(`\broad\b`), "rd"},
	{regexp.MustCompile(`\bdrive\b`), "dr"},
	{regexp.MustCompile(`\bboulevard\b`), "blvd"},
	{regexp.MustCompile(`\blane\b`), "ln"},
	{regexp.MustCompile(`\bcourt\b`), "ct"},
	{regexp.MustCompile(`\bplace\b`), "pl"},
	{regexp.MustCompile(`\bapartment\b`), "apt"},
	{regexp.MustCompile(`\bsuite\b`), "ste"},
	{regexp.MustCompile(`\bnorth\b`), "n"},
	{regexp.MustCompile(`\bsouth\b`), "s"},
	{regexp.MustCompile(`\beast\b`), "e"},
	{regexp.MustCompile(`\bwest\b`), "w"},
}

// NormalizeAddress folds an address into its canonical cache key:
// lowercased, whitespace collapsed, common suffixes and directionals
// abbreviated, commas and periods stripped (hyphens in street names kept).
// The result is stable under re-normalization.
func NormalizeAddress(address string) string {
	normalized := strings.ToLower(strings.TrimSpace(address))
	normalized = whitespaceRE.ReplaceAllString(normalized, " ")

	for _, a := range abbreviations {
		normalized = a.pattern.ReplaceAllString(normalized, a.abbrev)
	}

	normalized = strings.ReplaceAll(normalized, ",", "")
	normalized = strings.ReplaceAll(normalized, ".", "")

	// Stripping punctuation can leave doubled or trailing spaces behind.
	normalized = whitespaceRE.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
