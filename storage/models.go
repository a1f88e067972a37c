package storage

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	DocumentStatusUploaded      DocumentStatus = "uploaded"
	DocumentStatusOCRProcessing DocumentStatus = "ocr_processing"
	DocumentStatusOCRProcessed  DocumentStatus = "ocr_processed"
	DocumentStatusClassified    DocumentStatus = "classified"
	DocumentStatusExtracted     DocumentStatus = "extracted"
)

// WorkflowStatus is the terminal-aware status of a whole workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusPartial   WorkflowStatus = "partial"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// StageStatus is shared by aggregate and per-document stage rows.
// StageStatusPartial is legal only on aggregate rows; per-document rows
// terminate in completed or failed.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusPartial   StageStatus = "partial"
	StageStatusFailed    StageStatus = "failed"
)

// EvidenceType classifies how an evidence binding was produced.
type EvidenceType string

const (
	EvidenceExtracted     EvidenceType = "extracted"
	EvidenceInferred      EvidenceType = "inferred"
	EvidenceHumanVerified EvidenceType = "human_verified"
)

// Citation extraction methods.
const (
	MethodTier1ExactMatch = "tier1_exact_match"
	MethodTier2Semantic   = "tier2_semantic"
)

// SyncStatus is shared by embedding and graph sync state rows.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Document is the unit of ingestion.
type Document struct {
	ID        int64          `json:"id"`
	Filename  string         `json:"filename" validate:"required"`
	FilePath  string         `json:"file_path"`
	MimeType  string         `json:"mime_type"`
	PageCount int            `json:"page_count" validate:"gte=0"`
	Status    DocumentStatus `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DocumentPage carries page geometry. Width and height are PDF points;
// rotation is one of 0, 90, 180, 270.
type DocumentPage struct {
	ID           int64          `json:"id"`
	DocumentID   int64          `json:"document_id" validate:"required"`
	PageNumber   int            `json:"page_number" validate:"gte=1"`
	WidthPoints  float64        `json:"width_points" validate:"gt=0"`
	HeightPoints float64        `json:"height_points" validate:"gt=0"`
	Rotation     int            `json:"rotation" validate:"oneof=0 90 180 270"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EffectiveSize returns page width and height with rotation normalized:
// 90 and 270 degree rotations swap the axes.
func (p DocumentPage) EffectiveSize() (width, height float64) {
	if p.Rotation == 90 || p.Rotation == 270 {
		return p.HeightPoints, p.WidthPoints
	}
	return p.WidthPoints, p.HeightPoints
}

// DocumentChunk is a section-aware text unit.
type DocumentChunk struct {
	ID                   int64     `json:"id"`
	DocumentID           int64     `json:"document_id" validate:"required"`
	StableChunkID        string    `json:"stable_chunk_id" validate:"required"`
	PageNumber           int       `json:"page_number" validate:"gte=1"`
	ChunkIndex           int       `json:"chunk_index" validate:"gte=0"`
	SectionType          string    `json:"section_type"`
	EffectiveSectionType string    `json:"effective_section_type"`
	SubsectionType       string    `json:"subsection_type,omitempty"`
	RawText              string    `json:"raw_text"`
	TokenCount           int       `json:"token_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// OCRWord is one recognized word with page coordinates in PDF points.
type OCRWord struct {
	ID         int64   `json:"id"`
	DocumentID int64   `json:"document_id"`
	PageNumber int     `json:"page_number"`
	WordIndex  int     `json:"word_index"`
	Text       string  `json:"text"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	Confidence float64 `json:"confidence"`
}

// DocumentClassification is the classifier's verdict for a document.
type DocumentClassification struct {
	ID           int64          `json:"id"`
	DocumentID   int64          `json:"document_id"`
	DocumentType string         `json:"document_type"`
	Confidence   float64        `json:"confidence"`
	Sections     map[string]any `json:"sections,omitempty"`
	ModelVersion string         `json:"model_version,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DocumentTable is a first-class extracted table.
type DocumentTable struct {
	ID            int64          `json:"id"`
	DocumentID    int64          `json:"document_id"`
	StableTableID string         `json:"stable_table_id"`
	PageNumber    int            `json:"page_number"`
	TableIndex    int            `json:"table_index"`
	TableType     string         `json:"table_type"`
	TableJSON     map[string]any `json:"table_json"`
	Confidence    float64        `json:"confidence"`
	RawMarkdown   string         `json:"raw_markdown,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SOVItem is one materialized row of a statement-of-values table.
type SOVItem struct {
	ID             int64          `json:"id"`
	DocumentID     int64          `json:"document_id"`
	TableID        int64          `json:"table_id"`
	LocationNumber string         `json:"location_number"`
	Address        string         `json:"address"`
	City           string         `json:"city"`
	State          string         `json:"state"`
	Zip            string         `json:"zip"`
	BuildingValue  float64        `json:"building_value"`
	ContentsValue  float64        `json:"contents_value"`
	TIV            float64        `json:"tiv"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// LossRunClaim is one materialized row of a loss-run table.
type LossRunClaim struct {
	ID             int64          `json:"id"`
	DocumentID     int64          `json:"document_id"`
	TableID        int64          `json:"table_id"`
	ClaimNumber    string         `json:"claim_number"`
	DateOfLoss     *time.Time     `json:"date_of_loss,omitempty"`
	Status         string         `json:"status"`
	CauseOfLoss    string         `json:"cause_of_loss"`
	PaidAmount     float64        `json:"paid_amount"`
	ReservedAmount float64        `json:"reserved_amount"`
	IncurredAmount float64        `json:"incurred_amount"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PageRange is an inclusive page span.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SourceChunks records which chunks produced an extraction.
type SourceChunks struct {
	ChunkIDs       []int64  `json:"chunk_ids,omitempty"`
	StableChunkIDs []string `json:"stable_chunk_ids,omitempty"`
}

// SectionExtraction is the structured output of extraction for one section
// of one document within one pipeline run.
type SectionExtraction struct {
	ID              int64          `json:"id"`
	DocumentID      int64          `json:"document_id" validate:"required"`
	WorkflowID      int64          `json:"workflow_id" validate:"required"`
	SectionType     string         `json:"section_type" validate:"required"`
	PipelineRunID   string         `json:"pipeline_run_id"`
	ExtractedFields map[string]any `json:"extracted_fields"`
	PageRange       PageRange      `json:"page_range"`
	Confidence      float64        `json:"confidence"`
	SourceChunks    SourceChunks   `json:"source_chunks"`
	ModelVersion    string         `json:"model_version,omitempty"`
	PromptVersion   string         `json:"prompt_version,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EntityMention is a document-scoped occurrence of an entity.
type EntityMention struct {
	ID                    int64          `json:"id"`
	DocumentID            int64          `json:"document_id" validate:"required"`
	EntityType            string         `json:"entity_type" validate:"required"`
	MentionText           string         `json:"mention_text"`
	ExtractedFields       map[string]any `json:"extracted_fields,omitempty"`
	Confidence            float64        `json:"confidence"`
	SourceDocumentChunkID *int64         `json:"source_document_chunk_id,omitempty"`
	SourceStableChunkID   *string        `json:"source_stable_chunk_id,omitempty"`
	SectionExtractionID   *int64         `json:"section_extraction_id,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// CanonicalEntity is the deduplicated identity of a real-world entity.
type CanonicalEntity struct {
	ID           int64          `json:"id"`
	EntityType   string         `json:"entity_type" validate:"required"`
	CanonicalKey string         `json:"canonical_key" validate:"required,len=32"`
	Attributes   map[string]any `json:"attributes"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EntityEvidence binds a canonical entity to one mention on one document.
type EntityEvidence struct {
	ID                int64        `json:"id"`
	CanonicalEntityID int64        `json:"canonical_entity_id"`
	EntityMentionID   int64        `json:"entity_mention_id"`
	DocumentID        int64        `json:"document_id"`
	Confidence        float64      `json:"confidence"`
	EvidenceType      EvidenceType `json:"evidence_type"`
	CreatedAt         time.Time    `json:"created_at"`
}

// EntityRelationship is a directed, evidence-backed edge between two
// canonical entities.
type EntityRelationship struct {
	ID               int64          `json:"id"`
	SourceEntityID   int64          `json:"source_entity_id"`
	TargetEntityID   int64          `json:"target_entity_id"`
	RelationshipType string         `json:"relationship_type" validate:"required"`
	Confidence       float64        `json:"confidence"`
	Attributes       map[string]any `json:"attributes"`
	DocumentID       *int64         `json:"document_id,omitempty"`
	WorkflowID       *int64         `json:"workflow_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Workflow is one logical run over one or more documents.
type Workflow struct {
	ID                   int64          `json:"id"`
	WorkflowDefinitionID string         `json:"workflow_definition_id"`
	WorkflowName         string         `json:"workflow_name"`
	Status               WorkflowStatus `json:"status"`
	DurableRunID         string         `json:"durable_run_id,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// WorkflowDocument joins a workflow to a document.
type WorkflowDocument struct {
	ID         int64     `json:"id"`
	WorkflowID int64     `json:"workflow_id"`
	DocumentID int64     `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowStageRun is the aggregate status of one stage across all
// documents in a workflow.
type WorkflowStageRun struct {
	ID           int64       `json:"id"`
	WorkflowID   int64       `json:"workflow_id"`
	StageName    string      `json:"stage_name"`
	Status       StageStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// WorkflowDocumentStageRun is the per-document status of one stage.
type WorkflowDocumentStageRun struct {
	ID           int64       `json:"id"`
	WorkflowID   int64       `json:"workflow_id"`
	DocumentID   int64       `json:"document_id"`
	StageName    string      `json:"stage_name"`
	Status       StageStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Attempts     int         `json:"attempts"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// WorkflowRunEvent is an append-only progress event.
type WorkflowRunEvent struct {
	ID         int64          `json:"id"`
	WorkflowID int64          `json:"workflow_id"`
	EventType  string         `json:"event_type"`
	DocumentID *int64         `json:"document_id,omitempty"`
	StageName  string         `json:"stage_name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// VectorEmbedding is one dense vector tied to a chunk or section entity.
type VectorEmbedding struct {
	ID               int64           `json:"id"`
	DocumentID       int64           `json:"document_id" validate:"required"`
	WorkflowID       *int64          `json:"workflow_id,omitempty"`
	SourceChunkID    *int64          `json:"source_chunk_id,omitempty"`
	SectionType      string          `json:"section_type"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id" validate:"required"`
	EmbeddingModel   string          `json:"embedding_model"`
	EmbeddingDim     int             `json:"embedding_dim" validate:"gt=0"`
	EmbeddingVersion string          `json:"embedding_version"`
	Embedding        pgvector.Vector `json:"-"`
	ContentHash      string          `json:"content_hash"`
	EffectiveDate    *time.Time      `json:"effective_date,omitempty"`
	LocationID       *string         `json:"location_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BBox is an axis-aligned rectangle in PDF points.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// CitationSpan locates verbatim text on one page.
type CitationSpan struct {
	PageNumber int    `json:"page_number"`
	BBoxes     []BBox `json:"bboxes"`
}

// Citation is a resolved span of verbatim source text.
type Citation struct {
	ID                   int64          `json:"id"`
	DocumentID           int64          `json:"document_id" validate:"required"`
	SourceType           string         `json:"source_type" validate:"required"`
	SourceID             string         `json:"source_id" validate:"required"`
	Spans                []CitationSpan `json:"spans"`
	VerbatimText         string         `json:"verbatim_text"`
	PrimaryPage          int            `json:"primary_page"`
	PageRange            PageRange      `json:"page_range"`
	ExtractionConfidence float64        `json:"extraction_confidence"`
	ExtractionMethod     string         `json:"extraction_method"`
	ClauseReference      *string        `json:"clause_reference,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// EmbeddingSyncState tracks whether a chunk's embedding is current.
type EmbeddingSyncState struct {
	ID               int64      `json:"id"`
	ChunkID          int64      `json:"chunk_id"`
	EmbeddingModel   string     `json:"embedding_model"`
	EmbeddingVersion string     `json:"embedding_version"`
	VectorDimension  int        `json:"vector_dimension"`
	SyncStatus       SyncStatus `json:"sync_status"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	SyncError        string     `json:"sync_error,omitempty"`
}

// GraphSyncState tracks whether a canonical entity is projected.
type GraphSyncState struct {
	ID           int64      `json:"id"`
	EntityID     int64      `json:"entity_id"`
	EntityType   string     `json:"entity_type"`
	Neo4jNodeID  string     `json:"neo4j_node_id,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`
}

// LLMCall is one recorded model invocation.
type LLMCall struct {
	ID               int64      `json:"id"`
	RequestID        string     `json:"request_id"`
	Capability       string     `json:"capability"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	DocumentID       *int64     `json:"document_id,omitempty"`
	WorkflowID       *int64     `json:"workflow_id,omitempty"`
	Stage            string     `json:"stage,omitempty"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	DurationMS       int64      `json:"duration_ms"`
	Attempts         int        `json:"attempts"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
