package graphrag

import (
	"context"
	"fmt"
	"strings"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
)

// generalReply answers conversational queries without touching the corpus.
const generalReply = "I answer questions about the insurance documents in this workflow: " +
	"coverages, exclusions, policy terms, schedules, and claims history. " +
	"Ask about a specific policy or coverage to get started."

// noContextReply goes out when retrieval found nothing to ground an answer
// on. No synthesis call is made in that case.
const noContextReply = "The indexed documents contain nothing matching this question. " +
	"Try rephrasing it, or check that the workflow has finished processing."

const synthesisSystemPrompt = `You answer questions about insurance documents using ONLY the provided context.

Rules:
- Ground every statement in the context; cite supporting blocks as [n] using their numbers.
- Quote limits, deductibles, and dates exactly as written.
- If the context does not contain the answer, say so plainly; never guess.
- Entity relationship lines describe how policies, coverages, and organizations connect; use them for multi-hop questions.
- Answer in short paragraphs or a compact list, no preamble.`

func synthesisUserPrompt(query, contextMarkdown string) string {
	var sb strings.Builder
	sb.WriteString(contextMarkdown)
	sb.WriteString("\n---\n\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}

// respond runs the synthesis call over the assembled context.
func (e *Engine) respond(ctx context.Context, query string, contextMarkdown string) (string, error) {
	temp := 0.2
	resp, err := e.llm.Complete(ctx, llm.Request{
		Capability: e.config.SynthesisCapability,
		Messages: []llm.Message{
			{Role: "system", Content: synthesisSystemPrompt},
			{Role: "user", Content: synthesisUserPrompt(query, contextMarkdown)},
		},
		Temperature: &temp,
		MaxTokens:   e.config.ResponseMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis call: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// attachCitations loads citation rows for the returned sources in one batch
// and pairs them by document and source id. Citations enrich the response;
// a lookup failure never fails the query.
func (e *Engine) attachCitations(ctx context.Context, sources []Source) {
	if len(sources) == 0 {
		return
	}
	ids := make([]string, len(sources))
	for i := range sources {
		ids[i] = sources[i].EntityID
	}
	citations, err := e.store.ListCitationsBySourceIDs(ctx, ids)
	if err != nil {
		e.logger.Warn("citation lookup failed", "error", err)
		return
	}

	type citationKey struct {
		documentID int64
		sourceID   string
	}
	byKey := make(map[citationKey]*storage.Citation, len(citations))
	for i := range citations {
		byKey[citationKey{citations[i].DocumentID, citations[i].SourceID}] = &citations[i]
	}
	for i := range sources {
		c, ok := byKey[citationKey{sources[i].DocumentID, sources[i].EntityID}]
		if !ok {
			continue
		}
		sources[i].Citation = &SourceCitation{
			PageNumber:   c.PrimaryPage,
			Method:       c.ExtractionMethod,
			Confidence:   c.ExtractionConfidence,
			VerbatimText: c.VerbatimText,
		}
	}
}
