package graphrag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/strataline/policygraph/sectiontext"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// resolveContent re-derives each candidate's text from its backing rows with
// the same templates the indexer used. Candidates whose backing rows are
// gone, a stale index entry pointing at re-extracted content, are dropped.
func (e *Engine) resolveContent(ctx context.Context, workflowID int64, candidates []candidate, docs map[int64]storage.Document) ([]candidate, error) {
	type extractionKey struct {
		docID   int64
		section string
	}
	cache := make(map[extractionKey]*storage.SectionExtraction)

	resolved := candidates[:0]
	for _, c := range candidates {
		doc, ok := docs[c.embedding.DocumentID]
		if !ok {
			continue
		}
		c.filename = doc.Filename

		if c.embedding.EntityType == sections.EntityTypeChunk {
			chunk, err := e.store.GetChunkByStableID(ctx, c.embedding.EntityID)
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.Debug("stale chunk embedding skipped", "stable_chunk_id", c.embedding.EntityID)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve chunk %s: %w", c.embedding.EntityID, err)
			}
			c.text = sectiontext.RenderChunk(chunkSection(chunk), chunk.PageNumber, chunk.RawText)
			c.pageStart, c.pageEnd = chunk.PageNumber, chunk.PageNumber
			resolved = append(resolved, c)
			continue
		}

		key := extractionKey{c.embedding.DocumentID, c.embedding.SectionType}
		ex, seen := cache[key]
		if !seen {
			var err error
			ex, err = e.store.GetLatestSectionExtraction(ctx, c.embedding.DocumentID, workflowID, c.embedding.SectionType)
			if errors.Is(err, storage.ErrNotFound) {
				ex = nil
			} else if err != nil {
				return nil, fmt.Errorf("resolve section %s of document %d: %w", c.embedding.SectionType, c.embedding.DocumentID, err)
			}
			cache[key] = ex
		}
		if ex == nil {
			continue
		}

		suffix := strings.TrimPrefix(c.embedding.EntityID, c.embedding.SectionType+"_")
		text, ok := sectiontext.EntityBySuffix(c.embedding.SectionType, ex.ExtractedFields, suffix)
		if !ok {
			e.logger.Debug("stale entity embedding skipped", "entity_id", c.embedding.EntityID)
			continue
		}
		c.text = text
		c.pageStart, c.pageEnd = ex.PageRange.Start, ex.PageRange.End
		resolved = append(resolved, c)
	}
	return resolved, nil
}

// chunkSection picks the section a chunk renders under, preferring the
// classifier's effective assignment.
func chunkSection(chunk *storage.DocumentChunk) string {
	if chunk.EffectiveSectionType != "" {
		return chunk.EffectiveSectionType
	}
	if chunk.SectionType != "" {
		return chunk.SectionType
	}
	return sections.Other
}
