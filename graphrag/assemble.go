package graphrag

import (
	"fmt"
	"strings"

	"github.com/strataline/policygraph/graphstore"
)

// summaryMaxChars bounds the summarized rendition of lower-ranked results.
const summaryMaxChars = 240

// assembledContext is the packed, budgeted context for the response model.
type assembledContext struct {
	markdown      string
	included      []candidate
	fullTextCount int
	summaryCount  int
	neighborCount int
	totalTokens   int
	sectionTokens map[string]int
}

// estimateTokens approximates the tokenizer at four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// assemble packs candidates and graph neighbors into a Markdown context
// under the token budget. The top results keep their full text; the rest
// are summarized; whatever no longer fits is dropped in rank order.
func (e *Engine) assemble(candidates []candidate, neighbors []graphstore.Neighbor, budget int) assembledContext {
	out := assembledContext{sectionTokens: make(map[string]int)}
	var sb strings.Builder

	write := func(block, section string) bool {
		tokens := estimateTokens(block)
		if out.totalTokens+tokens > budget {
			return false
		}
		sb.WriteString(block)
		out.totalTokens += tokens
		if section != "" {
			out.sectionTokens[section] += tokens
		}
		return true
	}

	if len(candidates) > 0 {
		write("## Document Context\n\n", "")
	}
	for _, c := range candidates {
		rank := len(out.included) + 1
		head := fmt.Sprintf("### [%d] %s | %s%s\n", rank, c.filename, c.embedding.SectionType, pageSuffix(c.pageStart, c.pageEnd))

		if out.fullTextCount < e.config.FullTextSlots {
			if write(head+c.text+"\n\n", c.embedding.SectionType) {
				c.fullText = true
				out.fullTextCount++
				out.included = append(out.included, c)
				continue
			}
		}
		if write(head+summarize(c.text, summaryMaxChars)+"\n\n", c.embedding.SectionType) {
			out.summaryCount++
			out.included = append(out.included, c)
			continue
		}
		break
	}

	if len(neighbors) > 0 && write("## Entity Relationships\n\n", "") {
		for _, n := range neighbors {
			line := fmt.Sprintf("- %s %q %s %s %q (confidence %.2f)\n",
				n.SourceLabel, n.SourceName, n.Type, n.TargetLabel, n.TargetName, n.Confidence)
			if !write(line, "") {
				break
			}
			out.neighborCount++
		}
	}

	out.markdown = sb.String()
	return out
}

// summarize truncates to max characters at a word boundary.
func summarize(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func pageSuffix(start, end int) string {
	switch {
	case start <= 0:
		return ""
	case start == end:
		return fmt.Sprintf(" (page %d)", start)
	default:
		return fmt.Sprintf(" (pages %d-%d)", start, end)
	}
}
