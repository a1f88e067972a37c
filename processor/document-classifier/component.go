// Package documentclassifier implements the classified stage: it determines
// the document type and per-section page placement, persisting the verdict
// as a DocumentClassification row. Classification prefers the LLM; when the
// response cannot be parsed even after a repair attempt, a filename
// heuristic keeps the pipeline moving with a low-confidence verdict.
package documentclassifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/sections"
	"github.com/strataline/policygraph/workflow"
)

// Document types emitted by the classifier.
const (
	TypePolicy           = "policy"
	TypeQuote            = "quote"
	TypeBinder           = "binder"
	TypeEndorsement      = "endorsement"
	TypeSOV              = "sov"
	TypeLossRun          = "loss_run"
	TypeACORDApplication = "acord_application"
	TypeCertificate      = "certificate"
	TypeOther            = "other"
)

var knownTypes = map[string]struct{}{
	TypePolicy: {}, TypeQuote: {}, TypeBinder: {}, TypeEndorsement: {},
	TypeSOV: {}, TypeLossRun: {}, TypeACORDApplication: {}, TypeCertificate: {},
	TypeOther: {},
}

// ModelVersionHeuristic marks verdicts produced without a model.
const ModelVersionHeuristic = "filename_heuristic"

// Store is the repository surface this stage needs.
type Store interface {
	GetDocument(ctx context.Context, id int64) (*storage.Document, error)
	GetClassification(ctx context.Context, documentID int64) (*storage.DocumentClassification, error)
	CreateClassification(ctx context.Context, c *storage.DocumentClassification) error
	ListChunks(ctx context.Context, documentID int64) ([]storage.DocumentChunk, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status storage.DocumentStatus) error
}

// Completer is the LLM surface this stage needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Component implements the classified stage.
type Component struct {
	name   string
	config Config
	store  Store
	llm    Completer
	logger *slog.Logger
}

// NewComponent creates the document classifier from its JSON config fragment.
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
		name:   "document-classifier",
		config: config,
		store:  deps.Store,
		llm:    deps.LLM,
		logger: deps.GetLogger(),
	}, nil
}

// Name returns the stage this component serves.
func (c *Component) Name() workflow.StageName { return workflow.StageClassified }

// classifyResult is the constrained JSON shape the model returns.
type classifyResult struct {
	DocumentType string              `json:"document_type"`
	Confidence   float64             `json:"confidence"`
	Sections     map[string]pageSpan `json:"sections"`
}

type pageSpan struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

// Run classifies one document and records the verdict.
func (c *Component) Run(ctx context.Context, req workflow.StageRequest) error {
	doc, err := c.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	existing, err := c.store.GetClassification(ctx, req.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load classification: %w", err)
	}
	if existing != nil && !c.config.ReclassifyExisting {
		c.logger.Debug("classification already exists",
			"document_id", req.DocumentID, "document_type", existing.DocumentType)
		return c.advanceStatus(ctx, doc)
	}

	samples, err := c.sampleChunks(ctx, req.DocumentID)
	if err != nil {
		return err
	}

	verdict, modelVersion, err := c.classify(ctx, doc, samples)
	if err != nil {
		return err
	}

	record := &storage.DocumentClassification{
		DocumentID:   req.DocumentID,
		DocumentType: verdict.DocumentType,
		Confidence:   verdict.Confidence,
		Sections:     sectionsToMap(verdict.Sections),
		ModelVersion: modelVersion,
	}
	if err := c.store.CreateClassification(ctx, record); err != nil {
		return fmt.Errorf("persist classification: %w", err)
	}

	c.logger.Info("document classified",
		"document_id", req.DocumentID,
		"document_type", verdict.DocumentType,
		"confidence", verdict.Confidence,
		"sections", len(verdict.Sections),
		"model_version", modelVersion)
	return c.advanceStatus(ctx, doc)
}

// classify runs the LLM with one repair retry, falling back to the filename
// heuristic when no parseable verdict comes back. Transport errors propagate
// so the engine's retry policy applies; parse errors do not.
func (c *Component) classify(ctx context.Context, doc *storage.Document, samples []string) (classifyResult, string, error) {
	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(doc.Filename, doc.PageCount, samples)},
	}

	resp, err := c.complete(ctx, messages)
	if err != nil {
		return classifyResult{}, "", err
	}
	verdict, parseErr := parseVerdict(resp.Content)
	if parseErr == nil {
		return c.validateVerdict(doc, verdict), resp.Model, nil
	}

	c.logger.Warn("classification parse failed, attempting repair",
		"document_id", doc.ID, "error", parseErr)
	messages = append(messages,
		llm.Message{Role: "assistant", Content: resp.Content},
		llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr)},
	)
	resp, err = c.complete(ctx, messages)
	if err != nil {
		return classifyResult{}, "", err
	}
	verdict, parseErr = parseVerdict(resp.Content)
	if parseErr == nil {
		return c.validateVerdict(doc, verdict), resp.Model, nil
	}

	c.logger.Warn("classification failed after repair, using filename heuristic",
		"document_id", doc.ID, "error", parseErr)
	docType, confidence := classifyByFilename(doc.Filename)
	return classifyResult{DocumentType: docType, Confidence: confidence}, ModelVersionHeuristic, nil
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
		return nil, fmt.Errorf("classification call: %w", err)
	}
	return resp, nil
}

func parseVerdict(content string) (classifyResult, error) {
	var verdict classifyResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &verdict); err != nil {
		return classifyResult{}, fmt.Errorf("parse classification: %w", err)
	}
	if verdict.DocumentType == "" {
		return classifyResult{}, fmt.Errorf("parse classification: document_type missing")
	}
	return verdict, nil
}

// validateVerdict normalizes the model output into the closed type set and
// drops section placements that are out of vocabulary or out of page bounds.
func (c *Component) validateVerdict(doc *storage.Document, v classifyResult) classifyResult {
	v.DocumentType = strings.ToLower(strings.TrimSpace(v.DocumentType))
	if _, ok := knownTypes[v.DocumentType]; !ok {
		c.logger.Warn("unknown document type from model",
			"document_id", doc.ID, "document_type", v.DocumentType)
		v.DocumentType = TypeOther
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}

	for name, span := range v.Sections {
		if !sections.IsValid(name) {
			c.logger.Warn("dropping unknown section placement", "document_id", doc.ID, "section", name)
			delete(v.Sections, name)
			continue
		}
		if span.StartPage < 1 || span.EndPage < span.StartPage ||
			(doc.PageCount > 0 && span.EndPage > doc.PageCount) {
			c.logger.Warn("dropping out-of-bounds section placement",
				"document_id", doc.ID, "section", name,
				"start_page", span.StartPage, "end_page", span.EndPage)
			delete(v.Sections, name)
		}
	}
	return v
}

// sampleChunks returns the head of the document in page order, truncated per
// chunk.
func (c *Component) sampleChunks(ctx context.Context, documentID int64) ([]string, error) {
	chunks, err := c.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document has no chunks to classify")
	}

	n := c.config.SampleChunks
	if n > len(chunks) {
		n = len(chunks)
	}
	samples := make([]string, 0, n)
	for _, ch := range chunks[:n] {
		text := strings.TrimSpace(ch.RawText)
		if len(text) > c.config.SampleChars {
			text = text[:c.config.SampleChars]
		}
		samples = append(samples, text)
	}
	return samples, nil
}

// advanceStatus moves the document status to classified unless it has
// already progressed further.
func (c *Component) advanceStatus(ctx context.Context, doc *storage.Document) error {
	switch doc.Status {
	case storage.DocumentStatusClassified, storage.DocumentStatusExtracted:
		return nil
	}
	if err := c.store.UpdateDocumentStatus(ctx, doc.ID, storage.DocumentStatusClassified); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

// classifyByFilename is the last-resort verdict when the model yields no
// parseable output.
func classifyByFilename(filename string) (string, float64) {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "sov") || strings.Contains(name, "statement of values"):
		return TypeSOV, 0.4
	case strings.Contains(name, "loss run") || strings.Contains(name, "loss_run") || strings.Contains(name, "lossrun"):
		return TypeLossRun, 0.4
	case strings.Contains(name, "endorsement"):
		return TypeEndorsement, 0.4
	case strings.Contains(name, "quote"):
		return TypeQuote, 0.4
	case strings.Contains(name, "binder"):
		return TypeBinder, 0.4
	case strings.Contains(name, "acord"):
		return TypeACORDApplication, 0.4
	case strings.Contains(name, "certificate") || strings.Contains(name, "coi"):
		return TypeCertificate, 0.4
	default:
		return TypePolicy, 0.3
	}
}

// sectionsToMap converts validated placements into the storage shape.
func sectionsToMap(spans map[string]pageSpan) map[string]any {
	if len(spans) == 0 {
		return nil
	}
	out := make(map[string]any, len(spans))
	for name, span := range spans {
		out[name] = map[string]any{
			"start_page": span.StartPage,
			"end_page":   span.EndPage,
		}
	}
	return out
}
