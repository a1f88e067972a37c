// Package sectionextractor implements the extracted stage: it turns
// classified document chunks into structured per-section extractions. Chunks
// are grouped by effective section, batched into a small number of LLM calls,
// and persisted as SectionExtraction rows keyed by a fresh pipeline run id.
// Statement-of-values and loss-run sections skip the model entirely when the
// import materialized their table rows.
package sectionextractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// Store is the repository surface this stage needs.
type Store interface {
	GetDocument(ctx context.Context, id int64) (*storage.Document, error)
	GetClassification(ctx context.Context, documentID int64) (*storage.DocumentClassification, error)
	ListChunks(ctx context.Context, documentID int64) ([]storage.DocumentChunk, error)
	ListTables(ctx context.Context, documentID int64) ([]storage.DocumentTable, error)
	ListSOVItems(ctx context.Context, documentID int64) ([]storage.SOVItem, error)
	ListLossRunClaims(ctx context.Context, documentID int64) ([]storage.LossRunClaim, error)
	CreateSectionExtraction(ctx context.Context, e *storage.SectionExtraction) error
	UpdateDocumentStatus(ctx context.Context, id int64, status storage.DocumentStatus) error
}

// Completer is the LLM surface this stage needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ChunkText is one chunk as presented to the model.
type ChunkText struct {
	PageNumber int
	Text       string
}

// SectionChunks is the model-facing view of one section's chunks.
type SectionChunks struct {
	SectionType string
	Chunks      []ChunkText
}

// sectionInput extends SectionChunks with the provenance persisted alongside
// the extraction.
type sectionInput struct {
	SectionChunks
	ChunkIDs       []int64
	StableChunkIDs []string
	PageRange      storage.PageRange
}

// Component implements the extracted stage.
type Component struct {
	name   string
	config Config
	store  Store
	llm    Completer
	logger *slog.Logger
}

// NewComponent creates the section extractor from its JSON config fragment.
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
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}

	return &Component{
		name:   "section-extractor",
		config: config,
		store:  deps.Store,
		llm:    deps.LLM,
		logger: deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageExtracted }

// extractResult is the constrained JSON shape the model returns.
type extractResult struct {
	Sections map[string]map[string]any `json:"sections"`
}

// Run extracts every present section of one document. Each run gets a fresh
// pipeline run id so re-runs append rather than overwrite; downstream stages
// read only the latest run.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	doc, err := c.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	docType := "unknown"
	classification, err := c.store.GetClassification(ctx, req.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load classification: %w", err)
	}
	if classification != nil {
		docType = classification.DocumentType
	}

	inputs, err := c.groupChunks(ctx, req.DocumentID)
	if err != nil {
		return err
	}

	pipelineRunID := uuid.NewString()
	persisted := 0
	llmCalls := 0

	tableSections, err := c.extractFromTables(ctx, req, pipelineRunID, inputs)
	if err != nil {
		return err
	}
	persisted += len(tableSections)

	var pending []sectionInput
	for _, st := range sections.All() {
		if _, done := tableSections[st]; done {
			continue
		}
		in, present := inputs[st]
		if !present {
			continue
		}
		pending = append(pending, in)
	}

	for start := 0; start < len(pending); start += c.config.MaxSectionsPerCall {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + c.config.MaxSectionsPerCall
		if end > len(pending) {
			end = len(pending)
		}
		n, calls, err := c.extractBatch(ctx, req, pipelineRunID, docType, pending[start:end])
		if err != nil {
			return err
		}
		persisted += n
		llmCalls += calls
	}

	c.logger.Info("sections extracted",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"pipeline_run_id", pipelineRunID,
		"sections", persisted,
		"table_sections", len(tableSections),
		"llm_calls", llmCalls)
	return c.advanceStatus(ctx, doc)
}

// groupChunks buckets the document's chunks by effective section type,
// truncating per-chunk text and capping each section's chunk count.
func (c *Component) groupChunks(ctx context.Context, documentID int64) (map[string]sectionInput, error) {
	chunks, err := c.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document has no chunks to extract")
	}

	inputs := make(map[string]sectionInput)
	for _, ch := range chunks {
		st := effectiveSection(ch)
		in := inputs[st]
		if in.SectionType == "" {
			in.SectionType = st
		}
		if len(in.Chunks) < c.config.MaxChunksPerSection {
			text := strings.TrimSpace(ch.RawText)
			if len(text) > c.config.MaxCharsPerChunk {
				text = text[:c.config.MaxCharsPerChunk]
			}
			in.Chunks = append(in.Chunks, ChunkText{PageNumber: ch.PageNumber, Text: text})
		}
		in.ChunkIDs = append(in.ChunkIDs, ch.ID)
		in.StableChunkIDs = append(in.StableChunkIDs, ch.StableChunkID)
		if in.PageRange.Start == 0 || ch.PageNumber < in.PageRange.Start {
			in.PageRange.Start = ch.PageNumber
		}
		if ch.PageNumber > in.PageRange.End {
			in.PageRange.End = ch.PageNumber
		}
		inputs[st] = in
	}
	return inputs, nil
}

// effectiveSection resolves the section a chunk belongs to, preferring the
// reviewed effective type over the imported one.
func effectiveSection(ch storage.DocumentChunk) string {
	if sections.IsValid(ch.EffectiveSectionType) {
		return ch.EffectiveSectionType
	}
	if sections.IsValid(ch.SectionType) {
		return ch.SectionType
	}
	return sections.Other
}

// extractFromTables materializes sov and loss_run extractions from imported
// table rows, bypassing the model. Returns the section types it handled.
func (c *Component) extractFromTables(ctx context.Context, req workflow.StageRequest, pipelineRunID string, inputs map[string]sectionInput) (map[string]struct{}, error) {
	done := make(map[string]struct{})
	if !c.config.PreferTables {
		return done, nil
	}

	tables, err := c.store.ListTables(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	byType := make(map[string][]storage.DocumentTable)
	for _, t := range tables {
		byType[t.TableType] = append(byType[t.TableType], t)
	}

	if sovTables := byType[sections.TablePropertySOV]; len(sovTables) > 0 {
		items, err := c.store.ListSOVItems(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("load sov items: %w", err)
		}
		if len(items) > 0 {
			if err := c.persistTableSection(ctx, req, pipelineRunID, sections.SOV,
				BuildSOVFields(items), sovTables, inputs); err != nil {
				return nil, err
			}
			done[sections.SOV] = struct{}{}
			c.logger.Info("sov extracted from table rows",
				"document_id", req.DocumentID, "locations", len(items))
		}
	}

	if lossTables := byType[sections.TableLossRun]; len(lossTables) > 0 {
		claims, err := c.store.ListLossRunClaims(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("load loss run claims: %w", err)
		}
		if len(claims) > 0 {
			if err := c.persistTableSection(ctx, req, pipelineRunID, sections.LossRun,
				BuildLossRunFields(claims), lossTables, inputs); err != nil {
				return nil, err
			}
			done[sections.LossRun] = struct{}{}
			c.logger.Info("loss run extracted from table rows",
				"document_id", req.DocumentID, "claims", len(claims))
		}
	}
	return done, nil
}

func (c *Component) persistTableSection(ctx context.Context, req workflow.StageRequest, pipelineRunID, sectionType string, fields map[string]any, tables []storage.DocumentTable, inputs map[string]sectionInput) error {
	pr := tablePageRange(tables)
	src := storage.SourceChunks{}
	if in, ok := inputs[sectionType]; ok {
		src = storage.SourceChunks{ChunkIDs: in.ChunkIDs, StableChunkIDs: in.StableChunkIDs}
		if pr.Start == 0 {
			pr = in.PageRange
		}
	}
	return c.persist(ctx, req, &storage.SectionExtraction{
		DocumentID:      req.DocumentID,
		WorkflowID:      req.WorkflowID,
		SectionType:     sectionType,
		PipelineRunID:   pipelineRunID,
		ExtractedFields: fields,
		PageRange:       pr,
		Confidence:      tableConfidence,
		SourceChunks:    src,
		ModelVersion:    ModelVersionTables,
		PromptVersion:   PromptVersion,
	})
}

// extractBatch runs one LLM call for a batch of sections, with one repair
// retry on parse failure. Transport errors propagate so the engine's retry
// policy applies; a batch that stays unparseable after repair degrades to
// empty extractions so the stage can still complete.
func (c *Component) extractBatch(ctx context.Context, req workflow.StageRequest, pipelineRunID, docType string, batch []sectionInput) (int, int, error) {
	names := make([]string, len(batch))
	views := make([]SectionChunks, len(batch))
	for i, in := range batch {
		names[i] = in.SectionType
		views[i] = in.SectionChunks
	}

	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(docType, views)},
	}
	calls := 0

	resp, err := c.complete(ctx, messages)
	if err != nil {
		return 0, calls, err
	}
	calls++
	result, parseErr := parseExtraction(resp.Content)
	if parseErr != nil {
		c.logger.Warn("extraction parse failed, attempting repair",
			"document_id", req.DocumentID, "sections", names, "error", parseErr)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr, names)},
		)
		resp, err = c.complete(ctx, messages)
		if err != nil {
			return 0, calls, err
		}
		calls++
		result, parseErr = parseExtraction(resp.Content)
	}

	persisted := 0
	for _, in := range batch {
		fields, ok := result.Sections[in.SectionType]
		if parseErr != nil || !ok {
			if parseErr != nil {
				c.logger.Warn("extraction failed after repair, recording empty section",
					"document_id", req.DocumentID, "section", in.SectionType, "error", parseErr)
			} else {
				c.logger.Warn("model omitted requested section, recording empty section",
					"document_id", req.DocumentID, "section", in.SectionType)
			}
			if err := c.persistSection(ctx, req, pipelineRunID, in, EmptyFields(in.SectionType), 0, resp.Model); err != nil {
				return persisted, calls, err
			}
			persisted++
			continue
		}

		normalized := NormalizeFields(in.SectionType, fields)
		if err := c.persistSection(ctx, req, pipelineRunID, in, normalized, SectionConfidence(normalized), resp.Model); err != nil {
			return persisted, calls, err
		}
		persisted++
	}
	return persisted, calls, nil
}

func (c *Component) persistSection(ctx context.Context, req workflow.StageRequest, pipelineRunID string, in sectionInput, fields map[string]any, confidence float64, modelVersion string) error {
	return c.persist(ctx, req, &storage.SectionExtraction{
		DocumentID:      req.DocumentID,
		WorkflowID:      req.WorkflowID,
		SectionType:     in.SectionType,
		PipelineRunID:   pipelineRunID,
		ExtractedFields: fields,
		PageRange:       in.PageRange,
		Confidence:      confidence,
		SourceChunks:    storage.SourceChunks{ChunkIDs: in.ChunkIDs, StableChunkIDs: in.StableChunkIDs},
		ModelVersion:    modelVersion,
		PromptVersion:   PromptVersion,
	})
}

func (c *Component) persist(ctx context.Context, req workflow.StageRequest, e *storage.SectionExtraction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.CreateSectionExtraction(ctx, e); err != nil {
		return fmt.Errorf("persist %s extraction: %w", e.SectionType, err)
	}
	return nil
}

func (c *Component) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	temp := 0.0
	resp, err := c.llm.Complete(ctx, llm.Request{
		Capability:  c.config.Capability,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   c.config.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	return resp, nil
}

func parseExtraction(content string) (extractResult, error) {
	var result extractResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &result); err != nil {
		return extractResult{}, fmt.Errorf("parse extraction: %w", err)
	}
	if len(result.Sections) == 0 {
		return extractResult{}, fmt.Errorf("parse extraction: sections missing or empty")
	}
	return result, nil
}

// advanceStatus moves the document status to extracted unless it is already
// there.
func (c *Component) advanceStatus(ctx context.Context, doc *storage.Document) error {
	if doc.Status == storage.DocumentStatusExtracted {
		return nil
	}
	if err := c.store.UpdateDocumentStatus(ctx, doc.ID, storage.DocumentStatusExtracted); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}
