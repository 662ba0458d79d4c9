// Package textnorm normalizes identifiers, titles and names for comparison.
package textnorm

import (
	"regexp"
	"strings"
)

// DOI pattern: 10.XXXX/... where XXXX is 4-9 digits
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

// resolverPrefixes are stripped from the front of a DOI, compared case-insensitively.
var resolverPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"dx.doi.org/",
	"doi:",
}

const doiTrailing = ".,;:)]}>\"'"

// NormalizeDOI normalizes a DOI to a consistent format for comparison.
// It removes resolver prefixes and trailing punctuation and lowercases.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(doi)
		for _, p := range resolverPrefixes {
			if strings.HasPrefix(lower, p) {
				doi = strings.TrimSpace(doi[len(p):])
				changed = true
				break
			}
		}
	}
	doi = strings.TrimRight(doi, doiTrailing)
	return strings.ToLower(doi)
}

// FindDOI returns the first valid DOI in text, normalized, or "".
func FindDOI(text string) string {
	for _, match := range doiPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, doiTrailing)
		if IsValidDOI(match) {
			return strings.ToLower(match)
		}
	}
	return ""
}

// IsValidDOI performs basic validation on a bare DOI.
func IsValidDOI(doi string) bool {
	if len(doi) < 10 {
		return false
	}
	if !strings.HasPrefix(doi, "10.") {
		return false
	}
	slashIdx := strings.Index(doi, "/")
	if slashIdx == -1 || slashIdx >= len(doi)-1 {
		return false
	}
	return doiPattern.MatchString(doi)
}
