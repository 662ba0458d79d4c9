// Package names splits, classifies and parses free-text author bylines.
package names

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/textnorm"
)

// nameSuffixes are generational suffixes kept apart from the family name.
var nameSuffixes = map[string]bool{
	"jr":  true,
	"jr.": true,
	"sr":  true,
	"sr.": true,
	"ii":  true,
	"iii": true,
	"iv":  true,
}

var degreePattern = regexp.MustCompile(`(?i)^(md|do|phd|ph\.d|dphil|mph|ms|msc|rn|fccp|frcp|facp|mbbs|bsc|mrcp|frcpc)\.?$`)

// initialsPattern matches "J", "JA", "J.A.", "J-P".
var initialsPattern = regexp.MustCompile(`^(?:\p{Lu}\.?-?){1,3}$`)

// footnoteMarks trails names in bylines: "Smith J1,2*".
var footnoteMarks = regexp.MustCompile(`[\d*†‡§¶#,]+$`)

var ackTokens = []string{
	"author contributions", "contribution", "guarantor", "ethic",
	"conflict of interest", "acknowledg", "funding", "data availability",
	"investigator list", "supplementary",
}

var groupTokens = []string{
	"group", "consortium", "investigators", "investigator",
	"collaboration", "collaborative", "trialists", "network",
}

var affiliationTokens = []string{
	"department", "dept", "university", "univ", "hospital", "institute",
	"school", "center", "centre", "college", "faculty", "division",
	"laboratory", "clinic", "correspondence", "orcid", "email", "e mail",
	"address", "street", "road",
}

var sectionHeaders = map[string]bool{
	"abstract": true, "introduction": true, "background": true, "methods": true,
	"results": true, "discussion": true, "conclusion": true, "conclusions": true,
	"keywords": true, "references": true, "acknowledgements": true, "acknowledgments": true,
}

// Noise reasons returned by Classify.
const (
	NoiseEmpty       = "empty"
	NoiseNumeric     = "numeric"
	NoiseAffiliation = "affiliation"
	NoiseHeader      = "section_header"
	NoiseAck         = "acknowledgement"
	NoiseSentence    = "sentence"
)

// Classify returns a noise reason when s cannot be an author name, or "".
func Classify(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return NoiseEmpty
	}
	if !strings.ContainsFunc(trimmed, unicode.IsLetter) {
		return NoiseNumeric
	}
	if unicode.IsDigit([]rune(trimmed)[0]) {
		return NoiseAffiliation
	}
	if strings.Contains(trimmed, "@") {
		return NoiseAffiliation
	}

	norm := textnorm.Normalize(trimmed)
	if sectionHeaders[norm] {
		return NoiseHeader
	}
	for _, tok := range ackTokens {
		if strings.Contains(norm, tok) {
			return NoiseAck
		}
	}
	words := " " + norm + " "
	for _, tok := range affiliationTokens {
		if strings.Contains(words, " "+tok+" ") {
			return NoiseAffiliation
		}
	}
	if len(strings.Fields(norm)) > 8 {
		return NoiseSentence
	}
	return ""
}

// IsAckLike reports whether s reads like an acknowledgement or contribution note.
func IsAckLike(s string) bool {
	return Classify(s) == NoiseAck
}

// IsGroup reports whether s names a study group or consortium.
func IsGroup(s string) bool {
	words := " " + textnorm.Normalize(s) + " "
	for _, tok := range groupTokens {
		if strings.Contains(words, " "+tok+" ") {
			return true
		}
	}
	return false
}

// Split breaks a byline into candidate author strings. Semicolons separate
// authors when present; otherwise commas and "and" do. A lone
// "Family, Given" pair is kept together.
func Split(byline string) []string {
	byline = strings.TrimSpace(byline)
	if byline == "" {
		return nil
	}
	if strings.Contains(byline, ";") {
		return trimAll(strings.Split(byline, ";"))
	}

	byline = strings.ReplaceAll(byline, " & ", ", ")
	byline = strings.ReplaceAll(byline, " and ", ", ")
	parts := joinDegrees(trimAll(strings.Split(byline, ",")))
	if len(parts) == 2 && len(strings.Fields(parts[0])) == 1 && len(strings.Fields(parts[1])) <= 2 {
		return []string{parts[0] + ", " + parts[1]}
	}
	return parts
}

// joinDegrees reattaches degree-only parts to the preceding name.
func joinDegrees(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if len(out) > 0 && degreePattern.MatchString(p) {
			out[len(out)-1] += ", " + p
			continue
		}
		out = append(out, p)
	}
	return out
}

func trimAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse converts one author string into a structured author. Degrees and
// footnote marks are removed. Accepted forms are "Family, Given",
// "Family Initials", "Initials Family" and "Given ... Family".
func Parse(s string) record.Author {
	s = strings.TrimSpace(footnoteMarks.ReplaceAllString(strings.TrimSpace(s), ""))
	if IsGroup(s) {
		return record.Author{Display: s, Group: true}
	}

	// degrees listed after commas: "John Smith MD, PhD"
	var listed []string
	segs := strings.Split(s, ",")
	kept := segs[:0]
	for _, seg := range segs {
		if degreePattern.MatchString(strings.TrimSpace(seg)) {
			listed = append(listed, strings.Trim(strings.TrimSpace(seg), "."))
			continue
		}
		kept = append(kept, seg)
	}
	s = strings.TrimSpace(strings.Join(kept, ","))

	var a record.Author
	if family, given, ok := strings.Cut(s, ","); ok {
		givenParts, degrees := stripDegrees(strings.Fields(given))
		a.Family = strings.TrimSpace(family)
		a.Given = strings.Join(givenParts, " ")
		a.Degrees = append(degrees, listed...)
		a.Display = strings.TrimSpace(a.Given + " " + a.Family)
		return a
	}

	parts, degrees := stripDegrees(strings.Fields(s))
	if len(parts) < 2 {
		// "Jones MS" is a surname with initials, not a degree
		parts, degrees = strings.Fields(s), nil
	}
	a.Degrees = append(degrees, listed...)
	if n := len(parts); n > 2 && nameSuffixes[strings.ToLower(parts[n-1])] {
		a.Suffix = parts[n-1]
		parts = parts[:n-1]
	}

	switch n := len(parts); {
	case n == 0:
		return record.Author{Display: s}
	case n == 1:
		a.Family = parts[0]
	case initialsPattern.MatchString(parts[n-1]):
		a.Family = strings.Join(parts[:n-1], " ")
		a.Given = parts[n-1]
	case initialsPattern.MatchString(parts[0]):
		a.Given = parts[0]
		a.Family = strings.Join(parts[1:], " ")
	default:
		a.Given = strings.Join(parts[:n-1], " ")
		a.Family = parts[n-1]
	}
	a.Display = strings.Join(parts, " ")
	return a
}

func stripDegrees(parts []string) (kept, degrees []string) {
	for _, p := range parts {
		if degreePattern.MatchString(strings.Trim(p, ",")) {
			degrees = append(degrees, strings.Trim(p, ",."))
			continue
		}
		kept = append(kept, p)
	}
	return kept, degrees
}

// Surname returns the normalized family name of a, parsing the display
// form when the author is unstructured. Group authors have none.
func Surname(a record.Author) string {
	if a.Group {
		return ""
	}
	if a.Family != "" {
		return textnorm.Surname(a.Family)
	}
	if a.Display == "" || Classify(a.Display) != "" {
		return ""
	}
	return textnorm.Surname(Parse(a.Display).Family)
}

// Surnames returns the normalized surnames of every author, expanding
// unstructured bylines first, in byline order.
func Surnames(authors []record.Author) []string {
	var out []string
	for _, a := range authors {
		if a.Family == "" && !a.Group && a.Display != "" {
			for _, part := range Split(a.Display) {
				if Classify(part) != "" {
					continue
				}
				if s := Surname(Parse(part)); s != "" {
					out = append(out, s)
				}
			}
			continue
		}
		if s := Surname(a); s != "" {
			out = append(out, s)
		}
	}
	return out
}
