package entityresolver

import (
	"regexp"
	"strings"

	"github.com/strataline/policygraph/vocabulary/entities"
)

// genericTerms are names too vague to be useful Coverage or Exclusion
// entities. Comparison is case-insensitive on the trimmed value.
var genericTerms = map[string]struct{}{
	"the policy": {}, "policy": {}, "coverage": {}, "coverages": {},
	"exclusion": {}, "exclusions": {}, "section": {}, "part": {},
	"insurance": {}, "the insured": {}, "this policy": {}, "endorsement": {},
	"condition": {}, "conditions": {},
}

// sectionRefPatterns match headings and clause references that extraction
// sometimes mistakes for coverage names.
var sectionRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^SECTION [IVX\d]+`),
	regexp.MustCompile(`^PART [A-Z\d]+`),
	regexp.MustCompile(`^PARAGRAPH`),
	regexp.MustCompile(`^\d+\. [A-Z]`),
	regexp.MustCompile(`^[A-Z]\.\d+`),
}

var leadingArticle = regexp.MustCompile(`(?i)^(the|a|an)\s+`)

// FilterStats counts quality-filter drops per reason for one document.
type FilterStats struct {
	LowConfidence    int `json:"low_confidence"`
	GenericTerm      int `json:"generic_term"`
	SectionReference int `json:"section_reference"`
	TooShort         int `json:"too_short"`
}

// Dropped is the total number of filtered candidates.
func (s FilterStats) Dropped() int {
	return s.LowConfidence + s.GenericTerm + s.SectionReference + s.TooShort
}

// applyQualityFilter removes low-quality Coverage and Exclusion candidates.
// Other entity types pass through untouched. The returned stats record why
// each drop happened.
func applyQualityFilter(cands []Candidate, confidenceFloor float64) ([]Candidate, FilterStats) {
	var stats FilterStats
	out := cands[:0]
	for _, c := range cands {
		if c.EntityType != entities.Coverage && c.EntityType != entities.Exclusion {
			out = append(out, c)
			continue
		}

		name := strings.TrimSpace(c.NormalizedValue)
		switch {
		case c.Confidence < confidenceFloor:
			stats.LowConfidence++
		case isGenericTerm(name):
			stats.GenericTerm++
		case isSectionReference(name):
			stats.SectionReference++
		case isTooShort(name):
			stats.TooShort++
		default:
			out = append(out, c)
		}
	}
	return out, stats
}

func isGenericTerm(name string) bool {
	_, generic := genericTerms[strings.ToLower(name)]
	return generic
}

func isSectionReference(name string) bool {
	for _, re := range sectionRefPatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func isTooShort(name string) bool {
	return len(leadingArticle.ReplaceAllString(name, "")) < 5
}
