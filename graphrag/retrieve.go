package graphrag

import (
	"context"
	"fmt"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
)

// candidate is one retrieval result flowing through reranking, content
// resolution, and context assembly.
type candidate struct {
	embedding  storage.VectorEmbedding
	similarity float64
	score      float64

	// Filled by content resolution.
	text      string
	filename  string
	pageStart int
	pageEnd   int

	// Set during context assembly when the full text made it in.
	fullText bool
}

// retrieve embeds every expanded query and merges the filtered vector
// matches, keeping the best similarity seen per embedding row.
func (e *Engine) retrieve(ctx context.Context, workflowID int64, plan *QueryPlan, docIDs []int64) ([]candidate, error) {
	filters := storage.SearchFilters{
		DocumentIDs:  docIDs,
		WorkflowID:   &workflowID,
		SectionTypes: plan.SectionTypeFilters,
		EntityTypes:  plan.EntityTypeFilters,
	}

	best := make(map[int64]int)
	merged := make([]candidate, 0, e.config.VectorTopK)
	for _, q := range plan.ExpandedQueries {
		vec, err := e.encoder.EncodeOne(ctx, q)
		if err != nil {
			return nil, llm.NewTransientError(fmt.Errorf("embed query: %w", err))
		}
		matches, err := e.store.SemanticSearch(ctx, vec, e.config.VectorTopK, filters, e.config.MaxDistance)
		if err != nil {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
		for _, m := range matches {
			s := 1 - m.Distance
			if s < 0 {
				s = 0
			}
			if i, seen := best[m.Embedding.ID]; seen {
				if s > merged[i].similarity {
					merged[i].similarity = s
				}
				continue
			}
			best[m.Embedding.ID] = len(merged)
			merged = append(merged, candidate{embedding: m.Embedding, similarity: s})
		}
	}
	return merged, nil
}
