// Package semanticindexer rebuilds the dense vector index for one document:
// every section extraction is templated into deterministic text units and
// every chunk into contextualized text, all texts are batch-encoded, and the
// resulting rows replace the document's previous embeddings wholesale.
// Identical inputs always produce identical entity ids and content hashes,
// so reindexing an unchanged document is a no-op at the content level.
package semanticindexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/strataline/policygraph/identity"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/sectiontext"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// Store is the repository surface this stage needs.
type Store interface {
	ListChunks(ctx context.Context, documentID int64) ([]storage.DocumentChunk, error)
	ListSectionExtractions(ctx context.Context, documentID, workflowID int64) ([]storage.SectionExtraction, error)
	DeleteEmbeddings(ctx context.Context, documentID int64, workflowID *int64) (int64, error)
	UpsertVectorEmbedding(ctx context.Context, e *storage.VectorEmbedding) error
	UpsertEmbeddingSyncState(ctx context.Context, st *storage.EmbeddingSyncState) error
}

// Encoder is the embedding surface this stage needs.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// Component implements the indexing step of the summarized stage.
type Component struct {
	name    string
	config  Config
	store   Store
	encoder Encoder
	logger  *slog.Logger
}

// NewComponent creates the semantic indexer from its JSON config fragment.
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
		name:    "semantic-indexer",
		config:  config,
		store:   deps.Store,
		encoder: deps.Embedder,
		logger:  deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageSummarized }

// unit is one row to embed.
type unit struct {
	sectionType string
	entityType  string
	entityID    string
	text        string
	sourceChunk *int64
	locationID  *string
}

// Run rebuilds the document's embeddings for this workflow.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	extractions, err := c.store.ListSectionExtractions(ctx, req.DocumentID, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load section extractions: %w", err)
	}
	var chunks []storage.DocumentChunk
	if c.config.IndexChunks {
		chunks, err = c.store.ListChunks(ctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("load chunks: %w", err)
		}
	}

	units := collectUnits(extractions, chunks)
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = c.encoder.Encode(ctx, texts)
		if err != nil {
			return llm.NewTransientError(fmt.Errorf("encode %d texts: %w", len(texts), err))
		}
	}

	// Replace the document's index wholesale. Encoding happens first so a
	// transient embedding outage never leaves the index emptied.
	deleted, err := c.store.DeleteEmbeddings(ctx, req.DocumentID, &req.WorkflowID)
	if err != nil {
		return fmt.Errorf("delete stale embeddings: %w", err)
	}
	if len(units) == 0 {
		c.logger.Info("nothing to index",
			"document_id", req.DocumentID,
			"workflow_id", req.WorkflowID,
			"deleted", deleted)
		return nil
	}

	effectiveDate := documentEffectiveDate(extractions)
	model := c.encoder.Model()
	dim := c.encoder.Dimensions()
	sectionRows, chunkRows := 0, 0
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(vectors[i]) != dim {
			return fmt.Errorf("embedding width %d for %s, model declares %d", len(vectors[i]), u.entityID, dim)
		}
		row := &storage.VectorEmbedding{
			DocumentID:       req.DocumentID,
			WorkflowID:       &req.WorkflowID,
			SourceChunkID:    u.sourceChunk,
			SectionType:      u.sectionType,
			EntityType:       u.entityType,
			EntityID:         u.entityID,
			EmbeddingModel:   model,
			EmbeddingDim:     dim,
			EmbeddingVersion: c.config.EmbeddingVersion,
			Embedding:        pgvector.NewVector(vectors[i]),
			ContentHash:      identity.ContentHash(u.text),
			EffectiveDate:    effectiveDate,
			LocationID:       u.locationID,
		}
		if err := c.store.UpsertVectorEmbedding(ctx, row); err != nil {
			if u.sourceChunk != nil {
				if serr := c.markChunkSync(ctx, *u.sourceChunk, dim, storage.SyncStatusFailed, err.Error()); serr != nil {
					c.logger.Debug("failed to record chunk sync failure", "chunk_id", *u.sourceChunk, "error", serr)
				}
			}
			return fmt.Errorf("upsert embedding %s: %w", u.entityID, err)
		}
		if u.sourceChunk != nil {
			if err := c.markChunkSync(ctx, *u.sourceChunk, dim, storage.SyncStatusSynced, ""); err != nil {
				return fmt.Errorf("record chunk sync %s: %w", u.entityID, err)
			}
			chunkRows++
		} else {
			sectionRows++
		}
	}

	c.logger.Info("semantic index rebuilt",
		"document_id", req.DocumentID,
		"workflow_id", req.WorkflowID,
		"deleted", deleted,
		"section_entities", sectionRows,
		"chunk_embeddings", chunkRows,
		"embedding_model", model,
		"embedding_version", c.config.EmbeddingVersion)
	return nil
}

// collectUnits flattens section extractions and chunks into embedding units
// in a stable order: section entities in extraction order, then chunks.
func collectUnits(extractions []storage.SectionExtraction, chunks []storage.DocumentChunk) []unit {
	var units []unit
	for _, ex := range extractions {
		var locIDs map[string]string
		if ex.SectionType == sections.SOV {
			locIDs = sovLocationIDs(ex.ExtractedFields)
		}
		for _, ent := range sectiontext.Entities(ex.SectionType, ex.ExtractedFields) {
			u := unit{
				sectionType: ex.SectionType,
				entityType:  ent.EntityType,
				entityID:    ex.SectionType + "_" + ent.Suffix,
				text:        ent.Text,
			}
			if id, ok := locIDs[ent.Suffix]; ok {
				u.locationID = &id
			}
			units = append(units, u)
		}
	}
	for i := range chunks {
		ch := &chunks[i]
		st := ch.EffectiveSectionType
		if !sections.IsValid(st) {
			st = ch.SectionType
		}
		if !sections.IsValid(st) {
			st = sections.Other
		}
		units = append(units, unit{
			sectionType: st,
			entityType:  sections.EntityTypeChunk,
			entityID:    ch.StableChunkID,
			text:        sectiontext.RenderChunk(st, ch.PageNumber, ch.RawText),
			sourceChunk: &ch.ID,
		})
	}
	return units
}

// documentEffectiveDate derives the document-level effective date from the
// declarations extraction. All of the document's rows carry it so recency
// scoring at query time sees a uniform date.
func documentEffectiveDate(extractions []storage.SectionExtraction) *time.Time {
	for _, ex := range extractions {
		if ex.SectionType != sections.Declarations {
			continue
		}
		for _, key := range []string{"effective_date", "policy_period_start"} {
			v, ok := ex.ExtractedFields[key]
			if !ok {
				continue
			}
			s := sectiontext.FormatDate(v)
			if s == sectiontext.Missing {
				continue
			}
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return &t
			}
		}
	}
	return nil
}

// sovLocationIDs maps entity suffixes to location numbers so location-aware
// filters can target individual schedule rows.
func sovLocationIDs(fields map[string]any) map[string]string {
	listKey, ok := sections.ListKey(sections.SOV)
	if !ok {
		return nil
	}
	raw, _ := fields[listKey].([]any)
	out := make(map[string]string, len(raw))
	for i, it := range raw {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if v := sectiontext.FormatText(item["location_number"]); v != sectiontext.Missing {
			out[strconv.Itoa(i)] = v
		}
	}
	return out
}

func (c *Component) markChunkSync(ctx context.Context, chunkID int64, dim int, status storage.SyncStatus, syncErr string) error {
	now := time.Now().UTC()
	return c.store.UpsertEmbeddingSyncState(ctx, &storage.EmbeddingSyncState{
		ChunkID:          chunkID,
		EmbeddingModel:   c.encoder.Model(),
		EmbeddingVersion: c.config.EmbeddingVersion,
		VectorDimension:  dim,
		SyncStatus:       status,
		LastSyncedAt:     &now,
		SyncError:        syncErr,
	})
}
