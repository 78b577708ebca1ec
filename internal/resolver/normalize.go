package resolver

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixWords lists legal-form and deal-structure words stripped during
// normalization. Deal vehicles (holdco, bidco, topco) appear constantly in
// fund reports and never help identify the operating company.
var suffixWords = map[string]bool{
	"inc": true, "incorporated": true,
	"llc": true, "lp": true, "l.p.": true, "llp": true, "pllc": true,
	"corp": true, "corporation": true,
	"ltd": true, "limited": true,
	"co": true, "plc": true,
	"gmbh": true, "sa": true, "ag": true, "bv": true, "nv": true,
	"holdings": true, "group": true,
	"holdco": true, "parent": true, "topco": true, "bidco": true, "midco": true,
	"buyer": true, "acquiror": true, "acquisition": true,
	"investor": true, "purchaser": true,
}

// connectorWords are filler tokens carried in raw names.
var connectorWords = map[string]bool{
	"and": true, "the": true, "of": true,
	"dba": true, "fka": true, "aka": true,
}

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	punctuationRe   = regexp.MustCompile(`[,.()'"&/\-]`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)

	// NFD + strip combining marks + NFC folds "Société" to "Societe".
	diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize reduces a raw company name to its matchable core: lowercased,
// diacritics folded, parentheticals like "(dba Aptean)" removed, punctuation
// replaced with spaces, legal suffixes and connector words dropped, and
// whitespace collapsed.
func Normalize(name string) string {
	text := strings.ToLower(strings.TrimSpace(name))
	if text == "" {
		return ""
	}

	if folded, _, err := transform.String(diacriticFold, text); err == nil {
		text = folded
	}

	text = parentheticalRe.ReplaceAllString(text, " ")
	text = punctuationRe.ReplaceAllString(text, " ")
	text = multiSpaceRe.ReplaceAllString(text, " ")

	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if suffixWords[w] || connectorWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Tokenize returns the set of words in the normalized name.
func Tokenize(name string) map[string]bool {
	normalized := Normalize(name)
	if normalized == "" {
		return nil
	}
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		tokens[w] = true
	}
	return tokens
}

// Jaccard computes set similarity between two token sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// firstEntitySuffixRe matches a legal suffix followed by a comma, the seam
// between entities in names like "Mustang Holdco, LLC, Mustang Purchaser,
// LLC and Mustang Blocker, Inc.".
var firstEntitySuffixRe = regexp.MustCompile(`(?i)\b(?:inc|llc|lp|l\.p\.|corp|corporation|ltd|limited)\.?\s*,`)

// FirstEntity extracts the leading company from a multi-entity raw name.
// Returns the input unchanged when no seam is found.
func FirstEntity(name string) string {
	text := strings.TrimSpace(name)
	if text == "" {
		return ""
	}

	if loc := firstEntitySuffixRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[1]-1])
	}

	if pos := strings.Index(strings.ToLower(text), " and "); pos > 0 {
		first := strings.TrimSpace(text[:pos])
		if len(first) >= 3 {
			return first
		}
	}
	return text
}
