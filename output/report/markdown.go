package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strataline/policygraph/storage"
)

// Transformer renders extracted-field trees as markdown. Extraction output
// is schemaless beyond the section vocabulary, so the renderer walks
// whatever shape the model produced.
type Transformer struct{}

// NewTransformer creates a markdown transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// SectionContent is one extracted section ready for rendering.
type SectionContent struct {
	SectionType string
	PageRange   storage.PageRange
	Confidence  float64
	Fields      map[string]any
}

// Section writes one extracted section at the given heading level.
func (t *Transformer) Section(sb *strings.Builder, sc SectionContent, level int) {
	writeHeading(sb, level, toTitleCase(sc.SectionType))
	if sc.PageRange.Start > 0 {
		fmt.Fprintf(sb, "*Pages %d-%d", sc.PageRange.Start, sc.PageRange.End)
		if sc.Confidence > 0 {
			fmt.Fprintf(sb, ", confidence %.2f", sc.Confidence)
		}
		sb.WriteString("*\n\n")
	}

	for _, entry := range orderFields(sc.Fields) {
		t.writeField(sb, entry.name, entry.value, level+1)
	}
}

// Identity fields lead; everything else follows alphabetically.
var preferredFieldOrder = []string{
	"policy_number", "named_insured", "carrier", "policy_type",
	"effective_date", "expiration_date", "total_premium",
	"name", "title", "description",
}

type fieldEntry struct {
	name  string
	value any
}

func orderFields(fields map[string]any) []fieldEntry {
	orderMap := make(map[string]int, len(preferredFieldOrder))
	for i, name := range preferredFieldOrder {
		orderMap[name] = i
	}

	entries := make([]fieldEntry, 0, len(fields))
	for name, value := range fields {
		entries = append(entries, fieldEntry{name: name, value: value})
	}

	sort.Slice(entries, func(i, j int) bool {
		orderI, okI := orderMap[entries[i].name]
		orderJ, okJ := orderMap[entries[j].name]
		if okI && okJ {
			return orderI < orderJ
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return entries[i].name < entries[j].name
	})

	return entries
}

// writeField writes one extracted field. Scalars become labeled lines,
// lists become bullets, and maps either recurse as subsections or flatten
// to a key-value list.
func (t *Transformer) writeField(sb *strings.Builder, name string, value any, level int) {
	switch v := value.(type) {
	case string:
		fmt.Fprintf(sb, "**%s:** %s\n\n", toTitleCase(name), v)

	case []any:
		fmt.Fprintf(sb, "**%s:**\n\n", toTitleCase(name))
		for _, item := range v {
			switch itemVal := item.(type) {
			case string:
				sb.WriteString("- ")
				sb.WriteString(itemVal)
				sb.WriteString("\n")
			case map[string]any:
				writeMapAsItem(sb, itemVal)
			default:
				fmt.Fprintf(sb, "- %v\n", item)
			}
		}
		sb.WriteString("\n")

	case map[string]any:
		if hasNestedValues(v) {
			writeHeading(sb, level, toTitleCase(name))
			for _, sub := range orderFields(v) {
				t.writeField(sb, sub.name, sub.value, level+1)
			}
		} else {
			fmt.Fprintf(sb, "**%s:**\n\n", toTitleCase(name))
			writeMapAsList(sb, v)
			sb.WriteString("\n")
		}

	case nil:

	default:
		fmt.Fprintf(sb, "**%s:** %v\n\n", toTitleCase(name), value)
	}
}

// hasNestedValues reports whether a map holds maps or lists, which render
// as subsections rather than a flat key-value list.
func hasNestedValues(m map[string]any) bool {
	for _, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			return true
		}
	}
	return false
}

// writeMapAsItem renders one list element that is itself a record: the
// name-ish key leads the bullet, the rest trail as key-value pairs.
func writeMapAsItem(sb *strings.Builder, m map[string]any) {
	lead, leadKey := "", ""
	for _, key := range []string{"name", "coverage_name", "title", "term", "claim_number", "vin", "address"} {
		if s, ok := m[key].(string); ok && s != "" {
			lead, leadKey = s, key
			break
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("- ")
	if lead != "" {
		fmt.Fprintf(sb, "**%s**", lead)
	}
	first := lead == ""
	for _, k := range keys {
		v := m[k]
		if k == leadKey || v == nil {
			continue
		}
		if first {
			first = false
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(sb, "%s: %v", toTitleCase(k), v)
	}
	sb.WriteString("\n")
}

func writeMapAsList(sb *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if m[k] == nil {
			continue
		}
		fmt.Fprintf(sb, "- **%s:** %v\n", toTitleCase(k), m[k])
	}
}

func writeHeading(sb *strings.Builder, level int, title string) {
	if level > 6 {
		level = 6
	}
	sb.WriteString(strings.Repeat("#", level))
	sb.WriteString(" ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
}

// toTitleCase converts snake_case field names to Title Case labels.
func toTitleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	words := strings.Fields(s)
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + strings.ToLower(word[1:])
		}
	}
	return strings.Join(words, " ")
}
