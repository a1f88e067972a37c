// Package sectiontext renders structured section extractions into stable,
// keyword-enriched text. The same rendering feeds the embedding index and
// query-time content resolution, so identical input must always produce
// identical output.
package sectiontext

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Missing is the canonical rendering for absent values.
const Missing = "Not specified"

// dateLayouts are accepted input formats, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
}

// FormatCurrency renders a monetary amount as $12,345.67.
// Accepts numeric types and strings with optional $ and separators.
// Unparseable or absent values render as Missing.
func FormatCurrency(v any) string {
	amount, ok := toFloat(v)
	if !ok {
		return Missing
	}

	neg := amount < 0
	if neg {
		amount = -amount
	}

	whole := math.Floor(amount)
	cents := int(math.Round((amount - whole) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}

	intPart := groupThousands(strconv.FormatFloat(whole, 'f', 0, 64))
	s := fmt.Sprintf("$%s.%02d", intPart, cents)
	if neg {
		return "-" + s
	}
	return s
}

// FormatDate renders a date as YYYY-MM-DD. Accepts time.Time and common
// string formats. Strings that cannot be parsed are returned trimmed so
// the original information survives; absent values render as Missing.
func FormatDate(v any) string {
	switch d := v.(type) {
	case nil:
		return Missing
	case time.Time:
		if d.IsZero() {
			return Missing
		}
		return d.Format("2006-01-02")
	case *time.Time:
		if d == nil || d.IsZero() {
			return Missing
		}
		return d.Format("2006-01-02")
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return Missing
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return s
	default:
		return Missing
	}
}

// FormatText renders a general scalar: trimmed strings, canonical numbers,
// Missing for nil and empty values.
func FormatText(v any) string {
	switch t := v.(type) {
	case nil:
		return Missing
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return Missing
		}
		return s
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// toFloat coerces numeric types and money-formatted strings.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		s = strings.ReplaceAll(s, "$", "")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// groupThousands inserts commas into an unsigned integer string.
func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// field returns the first present, non-empty value among alternative keys.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}
