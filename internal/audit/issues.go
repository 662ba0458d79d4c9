package audit

import (
	"strings"

	"github.com/medparse/medparse/internal/names"
	"github.com/medparse/medparse/internal/record"
)

// Severity of an issue.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
)

// Issue codes.
const (
	IssueTitleMissing        = "META_TITLE_MISSING"
	IssueAuthorsMissing      = "AUTHORS_MISSING"
	IssueAuthorsUnstructured = "AUTHORS_NOT_STRUCTURED"
	IssueAuthorsAckLike      = "AUTHORS_ACK_LIKE"
	IssueAuthorsGroupOnly    = "AUTHORS_GROUP_ONLY"
	IssueNoSections          = "STRUCTURE_NO_SECTIONS"
	IssueJSONError           = "JSON_ERROR"

	IssueYearMissing     = "META_YEAR_MISSING"
	IssueYearFormat      = "YEAR_FORMAT_INVALID"
	IssueDOIMissing      = "META_DOI_MISSING"
	IssueJournalMissing  = "META_JOURNAL_MISSING"
	IssueAbstractMissing = "ABSTRACT_MISSING"
)

// Severities maps every issue code to its severity.
var Severities = map[string]Severity{
	IssueTitleMissing:        Critical,
	IssueAuthorsMissing:      Critical,
	IssueAuthorsUnstructured: Critical,
	IssueAuthorsAckLike:      Critical,
	IssueAuthorsGroupOnly:    Critical,
	IssueNoSections:          Critical,
	IssueJSONError:           Critical,

	IssueYearMissing:     Warning,
	IssueYearFormat:      Warning,
	IssueDOIMissing:      Warning,
	IssueJournalMissing:  Warning,
	IssueAbstractMissing: Warning,
}

// Issues returns the issue codes of a record in a fixed order.
func Issues(r *record.Record) []string {
	m := r.Metadata
	var out []string

	if !record.IsPresent(m.Title) {
		out = append(out, IssueTitleMissing)
	}

	switch {
	case !hasAuthors(r):
		out = append(out, IssueAuthorsMissing)
	default:
		groups, unstructured, ack := 0, 0, false
		for _, a := range m.Authors {
			if a.Group {
				groups++
			} else if !a.IsStructured() {
				unstructured++
			}
			if names.IsAckLike(a.Name()) {
				ack = true
			}
		}
		if unstructured > 0 {
			out = append(out, IssueAuthorsUnstructured)
		}
		if ack {
			out = append(out, IssueAuthorsAckLike)
		}
		if groups == len(m.Authors) {
			out = append(out, IssueAuthorsGroupOnly)
		}
	}

	if len(r.Structure.Sections) == 0 {
		out = append(out, IssueNoSections)
	}

	year := strings.TrimSpace(m.YearNorm)
	if !record.IsPresent(year) {
		year = strings.TrimSpace(m.Year.String())
	}
	switch {
	case !record.IsPresent(year):
		out = append(out, IssueYearMissing)
	case !yearFormat.MatchString(year):
		out = append(out, IssueYearFormat)
	}

	if !record.IsPresent(m.DOI) {
		out = append(out, IssueDOIMissing)
	}
	if !record.IsPresent(m.Journal) && !record.IsPresent(m.JournalFull) {
		out = append(out, IssueJournalMissing)
	}
	if !record.IsPresent(m.Abstract) {
		out = append(out, IssueAbstractMissing)
	}
	return out
}

// HasCritical reports whether any code is of critical severity.
func HasCritical(codes []string) bool {
	for _, c := range codes {
		if Severities[c] == Critical {
			return true
		}
	}
	return false
}
