// Package citationmapper locates the verbatim source text behind section
// extractions on the physical page. Tier 1 matches the text against OCR
// word coordinates for precise per-line highlight boxes; when no exact run
// exists the tier 2 fallback finds the closest chunk embedding and cites
// its whole page. Citations are keyed by the same entity ids the semantic
// indexer writes, so query results join directly to their page spans.
package citationmapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/sectiontext"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// SourceTypeSectionEntity marks citations whose source_id is a section
// entity id of the form "<section>_<suffix>".
const SourceTypeSectionEntity = "section_entity"

// Extraction methods recorded on citations.
const (
	MethodTier1 = "tier1_exact_match"
	MethodTier2 = "tier2_semantic"
)

// Store is the repository surface this stage needs.
type Store interface {
	ListSectionExtractions(ctx context.Context, documentID, workflowID int64) ([]storage.SectionExtraction, error)
	ListOCRWords(ctx context.Context, documentID int64, pr storage.PageRange) ([]storage.OCRWord, error)
	ListPages(ctx context.Context, documentID int64) ([]storage.DocumentPage, error)
	GetChunkByStableID(ctx context.Context, stableChunkID string) (*storage.DocumentChunk, error)
	SemanticSearch(ctx context.Context, queryVec []float32, topK int, filters storage.SearchFilters, maxDistance float64) ([]storage.EmbeddingMatch, error)
	UpsertCitation(ctx context.Context, c *storage.Citation) error
}

// Encoder is the embedding surface the tier 2 fallback needs.
type Encoder interface {
	EncodeOne(ctx context.Context, text string) ([]float32, error)
}

// Component implements the citation step of the summarized stage.
type Component struct {
	name    string
	config  Config
	store   Store
	encoder Encoder
	logger  *slog.Logger
}

// NewComponent creates the citation mapper from its JSON config fragment.
func NewComponent(rawConfig json.RawMessage, deps workflow.Deps) (*Component, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}

	return &Component{
		name:    "citation-mapper",
		config:  config,
		store:   deps.Store,
		encoder: deps.Embedder,
		logger:  deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageSummarized }

// source is one verbatim text to locate.
type source struct {
	sourceID    string
	sectionType string
	text        string
	clauseRef   *string
	pageRange   storage.PageRange
}

// Run maps every extraction-backed verbatim text of the document to page
// coordinates.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	extractions, err := c.store.ListSectionExtractions(ctx, req.DocumentID, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load section extractions: %w", err)
	}
	sources := collectSources(extractions)
	if len(sources) == 0 {
		c.logger.Info("no verbatim sources to cite", "document_id", req.DocumentID)
		return nil
	}

	pageList, err := c.store.ListPages(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	pages := make(map[int]storage.DocumentPage, len(pageList))
	for _, p := range pageList {
		pages[p.PageNumber] = p
	}

	tier1, tier2, unmapped, skipped := 0, 0, 0, 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(normalizeWords(src.text)) < c.config.MinWords {
			skipped++
			continue
		}
		cit, err := c.locate(ctx, req, src, pages)
		if err != nil {
			return err
		}
		if cit == nil {
			c.logger.Debug("citation unmapped",
				"document_id", req.DocumentID,
				"source_id", src.sourceID)
			unmapped++
			continue
		}
		if err := c.store.UpsertCitation(ctx, cit); err != nil {
			return fmt.Errorf("persist citation %s: %w", src.sourceID, err)
		}
		if cit.ExtractionMethod == MethodTier1 {
			tier1++
		} else {
			tier2++
		}
	}

	c.logger.Info("citations mapped",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"sources", len(sources),
		"tier1", tier1,
		"tier2", tier2,
		"unmapped", unmapped,
		"skipped", skipped)
	return nil
}

// locate tries the exact OCR match first and the semantic fallback second.
// A nil citation with nil error means the source could not be placed.
func (c *Component) locate(ctx context.Context, req workflow.StageRequest, src source, pages map[int]storage.DocumentPage) (*storage.Citation, error) {
	words, err := c.store.ListOCRWords(ctx, req.DocumentID, src.pageRange)
	if err != nil {
		return nil, fmt.Errorf("load ocr words: %w", err)
	}
	if matched, ok := findWordRun(words, normalizeWords(src.text)); ok {
		return tier1Citation(req.DocumentID, src, matched, pages), nil
	}
	return c.tier2Citation(ctx, req, src, pages)
}

// tier1Citation builds a citation from an exact OCR word run.
func tier1Citation(documentID int64, src source, matched []storage.OCRWord, pages map[int]storage.DocumentPage) *storage.Citation {
	spans := mergeLineBoxes(matched)
	pr := storage.PageRange{}
	for i := range spans {
		if page, ok := pages[spans[i].PageNumber]; ok {
			for j := range spans[i].BBoxes {
				spans[i].BBoxes[j] = clampBox(spans[i].BBoxes[j], page)
			}
		}
		if pr.Start == 0 || spans[i].PageNumber < pr.Start {
			pr.Start = spans[i].PageNumber
		}
		if spans[i].PageNumber > pr.End {
			pr.End = spans[i].PageNumber
		}
	}
	return &storage.Citation{
		DocumentID:           documentID,
		SourceType:           SourceTypeSectionEntity,
		SourceID:             src.sourceID,
		Spans:                spans,
		VerbatimText:         matchedText(matched),
		PrimaryPage:          spans[0].PageNumber,
		PageRange:            pr,
		ExtractionConfidence: tier1Confidence(matched),
		ExtractionMethod:     MethodTier1,
		ClauseReference:      src.clauseRef,
	}
}

// tier2Citation finds the semantically closest chunk and cites its page.
func (c *Component) tier2Citation(ctx context.Context, req workflow.StageRequest, src source, pages map[int]storage.DocumentPage) (*storage.Citation, error) {
	vec, err := c.encoder.EncodeOne(ctx, src.text)
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("encode citation text: %w", err))
	}
	matches, err := c.store.SemanticSearch(ctx, vec, c.config.Tier2TopK, storage.SearchFilters{
		DocumentIDs: []int64{req.DocumentID},
		WorkflowID:  &req.WorkflowID,
		EntityTypes: []string{sections.EntityTypeChunk},
	}, c.config.Tier2MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("semantic citation search: %w", err)
	}

	for _, m := range matches {
		chunk, err := c.store.GetChunkByStableID(ctx, m.Embedding.EntityID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load chunk %s: %w", m.Embedding.EntityID, err)
		}
		if src.pageRange.Start > 0 &&
			(chunk.PageNumber < src.pageRange.Start || chunk.PageNumber > src.pageRange.End) {
			continue
		}
		page, ok := pages[chunk.PageNumber]
		if !ok {
			continue
		}
		w, h := page.EffectiveSize()
		confidence := 1 - m.Distance
		if confidence < 0 {
			confidence = 0
		}
		return &storage.Citation{
			DocumentID: req.DocumentID,
			SourceType: SourceTypeSectionEntity,
			SourceID:   src.sourceID,
			Spans: []storage.CitationSpan{{
				PageNumber: chunk.PageNumber,
				BBoxes:     []storage.BBox{{X0: 0, Y0: 0, X1: w, Y1: h}},
			}},
			VerbatimText:         src.text,
			PrimaryPage:          chunk.PageNumber,
			PageRange:            storage.PageRange{Start: chunk.PageNumber, End: chunk.PageNumber},
			ExtractionConfidence: confidence,
			ExtractionMethod:     MethodTier2,
			ClauseReference:      src.clauseRef,
		}, nil
	}
	return nil, nil
}

// collectSources walks the latest extractions and pulls out every unit that
// carries verbatim source text. Source ids mirror the semantic indexer's
// entity ids so one lookup serves both embeddings and citations.
func collectSources(extractions []storage.SectionExtraction) []source {
	var out []source
	for _, ex := range extractions {
		listKey, isList := sections.ListKey(ex.SectionType)
		if !isList {
			if text, ok := verbatimOf(ex.ExtractedFields); ok {
				out = append(out, source{
					sourceID:    ex.SectionType + "_" + sectiontext.SuffixMain,
					sectionType: ex.SectionType,
					text:        text,
					clauseRef:   clauseOf(ex.ExtractedFields),
					pageRange:   ex.PageRange,
				})
			}
			continue
		}
		raw, _ := ex.ExtractedFields[listKey].([]any)
		for i, it := range raw {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			text, ok := verbatimOf(item)
			if !ok {
				continue
			}
			out = append(out, source{
				sourceID:    fmt.Sprintf("%s_%d", ex.SectionType, i),
				sectionType: ex.SectionType,
				text:        text,
				clauseRef:   clauseOf(item),
				pageRange:   ex.PageRange,
			})
		}
	}
	return out
}

func verbatimOf(m map[string]any) (string, bool) {
	for _, key := range []string{"source_text", "definition_text"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func clauseOf(m map[string]any) *string {
	for _, key := range []string{"clause_reference", "section_reference"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			ref := strings.TrimSpace(s)
			return &ref
		}
	}
	return nil
}

// clampBox keeps a box inside the page bounds after rotation normalization.
func clampBox(b storage.BBox, page storage.DocumentPage) storage.BBox {
	w, h := page.EffectiveSize()
	b.X0 = min(max(b.X0, 0), w)
	b.X1 = min(max(b.X1, 0), w)
	b.Y0 = min(max(b.Y0, 0), h)
	b.Y1 = min(max(b.Y1, 0), h)
	return b
}
