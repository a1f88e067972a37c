package citationmapper

import (
	"strings"

	"github.com/strataline/policygraph/storage"
)

// An exact OCR match never scores below the floor regardless of how shaky
// the underlying word confidences are.
const (
	tier1Floor = 0.95
	tier1Ceil  = 1.0
)

// normalizeWord lowercases and strips everything but letters and digits so
// OCR punctuation drift ("Coverage," vs "coverage") cannot break a match.
func normalizeWord(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeWords splits free text into normalized words, dropping tokens
// that normalize to nothing.
func normalizeWords(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := normalizeWord(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// findWordRun locates the first contiguous run of OCR words whose
// normalized sequence equals target. Pure-punctuation OCR tokens are
// transparent to matching but included in the returned run so their boxes
// stay part of the highlight.
func findWordRun(words []storage.OCRWord, target []string) ([]storage.OCRWord, bool) {
	if len(target) == 0 {
		return nil, false
	}
	type token struct {
		norm string
		idx  int
	}
	seq := make([]token, 0, len(words))
	for i := range words {
		if n := normalizeWord(words[i].Text); n != "" {
			seq = append(seq, token{norm: n, idx: i})
		}
	}
	if len(seq) < len(target) {
		return nil, false
	}
	for start := 0; start+len(target) <= len(seq); start++ {
		matched := true
		for j, t := range target {
			if seq[start+j].norm != t {
				matched = false
				break
			}
		}
		if matched {
			first := seq[start].idx
			last := seq[start+len(target)-1].idx
			return words[first : last+1], true
		}
	}
	return nil, false
}

// mergeLineBoxes merges matched word boxes into one rectangle per text
// line, grouped into one span per page. Words must be in reading order.
func mergeLineBoxes(words []storage.OCRWord) []storage.CitationSpan {
	var spans []storage.CitationSpan
	for i := range words {
		w := &words[i]
		box := storage.BBox{X0: w.X0, Y0: w.Y0, X1: w.X1, Y1: w.Y1}

		if len(spans) == 0 || spans[len(spans)-1].PageNumber != w.PageNumber {
			spans = append(spans, storage.CitationSpan{
				PageNumber: w.PageNumber,
				BBoxes:     []storage.BBox{box},
			})
			continue
		}

		span := &spans[len(spans)-1]
		line := &span.BBoxes[len(span.BBoxes)-1]
		if sameLine(*line, box) {
			line.X0 = min(line.X0, box.X0)
			line.Y0 = min(line.Y0, box.Y0)
			line.X1 = max(line.X1, box.X1)
			line.Y1 = max(line.Y1, box.Y1)
		} else {
			span.BBoxes = append(span.BBoxes, box)
		}
	}
	return spans
}

// sameLine reports whether two boxes overlap vertically by at least half
// the shorter box's height.
func sameLine(a, b storage.BBox) bool {
	overlap := min(a.Y1, b.Y1) - max(a.Y0, b.Y0)
	if overlap <= 0 {
		return false
	}
	return overlap >= 0.5*min(a.Y1-a.Y0, b.Y1-b.Y0)
}

// tier1Confidence averages the matched word confidences and clamps into
// the exact-match band.
func tier1Confidence(words []storage.OCRWord) float64 {
	if len(words) == 0 {
		return tier1Floor
	}
	sum := 0.0
	for i := range words {
		sum += words[i].Confidence
	}
	avg := sum / float64(len(words))
	if avg < tier1Floor {
		return tier1Floor
	}
	if avg > tier1Ceil {
		return tier1Ceil
	}
	return avg
}

// matchedText joins the matched OCR words with single spaces. This is the
// stored verbatim text for tier-1 citations, so the citation always equals
// what is actually printed on the page.
func matchedText(words []storage.OCRWord) string {
	parts := make([]string, 0, len(words))
	for i := range words {
		if t := strings.TrimSpace(words[i].Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
