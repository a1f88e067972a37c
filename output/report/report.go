// Package report renders a workflow's pipeline results as a markdown
// dossier: classification and extraction per document, the resolved entity
// graph, and stage timings. The output is meant for underwriter review and
// submission files, not for machine consumption.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
	"github.com/strataline/policygraph/vocabulary/sections"
)

// Store is the read surface the renderer needs. *storage.Store satisfies it.
type Store interface {
	GetWorkflow(ctx context.Context, id int64) (*storage.Workflow, error)
	ListStageRuns(ctx context.Context, workflowID int64) ([]storage.WorkflowStageRun, error)
	ListWorkflowDocuments(ctx context.Context, workflowID int64) ([]storage.Document, error)
	GetClassification(ctx context.Context, documentID int64) (*storage.DocumentClassification, error)
	ListSectionExtractions(ctx context.Context, documentID, workflowID int64) ([]storage.SectionExtraction, error)
	ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]storage.CanonicalEntity, error)
	ListRelationshipsByWorkflow(ctx context.Context, workflowID int64) ([]storage.EntityRelationship, error)
}

// Render builds the markdown dossier for one workflow.
func Render(ctx context.Context, store Store, workflowID int64) (string, error) {
	wf, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("load workflow %d: %w", workflowID, err)
	}

	var sb strings.Builder
	transformer := NewTransformer()

	title := wf.WorkflowName
	if title == "" {
		title = fmt.Sprintf("workflow %d", wf.ID)
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Status:** %s", wf.Status)
	if wf.CompletedAt != nil && wf.StartedAt != nil {
		fmt.Fprintf(&sb, " in %s", roundDuration(wf.CompletedAt.Sub(*wf.StartedAt)))
	}
	sb.WriteString("\n")
	if wf.ErrorMessage != "" {
		fmt.Fprintf(&sb, "**Error:** %s\n", wf.ErrorMessage)
	}
	sb.WriteString("\n")

	if err := renderStages(ctx, &sb, store, workflowID); err != nil {
		return "", err
	}
	if err := renderDocuments(ctx, &sb, store, transformer, workflowID); err != nil {
		return "", err
	}
	if err := renderGraph(ctx, &sb, store, workflowID); err != nil {
		return "", err
	}

	return sb.String(), nil
}

func renderStages(ctx context.Context, sb *strings.Builder, store Store, workflowID int64) error {
	runs, err := store.ListStageRuns(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list stage runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	sb.WriteString("## Pipeline\n\n")
	for _, run := range runs {
		fmt.Fprintf(sb, "- %s: %s", run.StageName, run.Status)
		if run.StartedAt != nil && run.CompletedAt != nil {
			fmt.Fprintf(sb, " (%s)", roundDuration(run.CompletedAt.Sub(*run.StartedAt)))
		}
		if run.ErrorMessage != "" {
			fmt.Fprintf(sb, ": %s", run.ErrorMessage)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return nil
}

func renderDocuments(ctx context.Context, sb *strings.Builder, store Store, transformer *Transformer, workflowID int64) error {
	docs, err := store.ListWorkflowDocuments(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	sb.WriteString("## Documents\n\n")
	for _, doc := range docs {
		fmt.Fprintf(sb, "### %s\n\n", doc.Filename)

		cls, err := store.GetClassification(ctx, doc.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sb.WriteString("- **Type:** unclassified\n")
		case err != nil:
			return fmt.Errorf("classification for document %d: %w", doc.ID, err)
		default:
			fmt.Fprintf(sb, "- **Type:** %s (confidence %.2f)\n", cls.DocumentType, cls.Confidence)
		}
		fmt.Fprintf(sb, "- **Pages:** %d\n\n", doc.PageCount)

		extractions, err := store.ListSectionExtractions(ctx, doc.ID, workflowID)
		if err != nil {
			return fmt.Errorf("extractions for document %d: %w", doc.ID, err)
		}
		for _, ext := range orderExtractions(extractions) {
			transformer.Section(sb, SectionContent{
				SectionType: ext.SectionType,
				PageRange:   ext.PageRange,
				Confidence:  ext.Confidence,
				Fields:      ext.ExtractedFields,
			}, 4)
		}
	}
	return nil
}

// orderExtractions sorts extractions into reading order: the section
// vocabulary's order, unknown types last alphabetically.
func orderExtractions(extractions []storage.SectionExtraction) []storage.SectionExtraction {
	orderMap := make(map[string]int)
	for i, name := range sections.All() {
		orderMap[name] = i
	}

	out := make([]storage.SectionExtraction, len(extractions))
	copy(out, extractions)
	sort.SliceStable(out, func(i, j int) bool {
		orderI, okI := orderMap[out[i].SectionType]
		orderJ, okJ := orderMap[out[j].SectionType]
		if okI && okJ {
			return orderI < orderJ
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return out[i].SectionType < out[j].SectionType
	})
	return out
}

func renderGraph(ctx context.Context, sb *strings.Builder, store Store, workflowID int64) error {
	ents, err := store.ListCanonicalEntitiesByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	if len(ents) == 0 {
		return nil
	}

	byType := make(map[string][]storage.CanonicalEntity)
	for _, ent := range ents {
		byType[ent.EntityType] = append(byType[ent.EntityType], ent)
	}

	sb.WriteString("## Entities\n\n")
	for _, entityType := range entityTypeOrder(byType) {
		fmt.Fprintf(sb, "### %s\n\n", entityType)
		group := byType[entityType]
		sort.Slice(group, func(i, j int) bool {
			return entityName(group[i]) < entityName(group[j])
		})
		for _, ent := range group {
			sb.WriteString("- **")
			sb.WriteString(entityName(ent))
			sb.WriteString("**")
			if detail := entityDetail(ent); detail != "" {
				sb.WriteString(" (")
				sb.WriteString(detail)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	rels, err := store.ListRelationshipsByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list relationships: %w", err)
	}
	if len(rels) == 0 {
		return nil
	}

	nameByID := make(map[int64]string, len(ents))
	for _, ent := range ents {
		nameByID[ent.ID] = entityName(ent)
	}

	sb.WriteString("## Relationships\n\n")
	for _, rel := range rels {
		source, okS := nameByID[rel.SourceEntityID]
		target, okT := nameByID[rel.TargetEntityID]
		if !okS || !okT {
			continue
		}
		fmt.Fprintf(sb, "- %s %s %s (confidence %.2f)\n", source, rel.RelationshipType, target, rel.Confidence)
	}
	sb.WriteString("\n")
	return nil
}

// entityTypeOrder returns the present types in vocabulary order, unknown
// types last alphabetically.
func entityTypeOrder(byType map[string][]storage.CanonicalEntity) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range entities.All() {
		if _, ok := byType[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	var rest []string
	for t := range byType {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func entityName(ent storage.CanonicalEntity) string {
	if name, ok := ent.Attributes["name"].(string); ok && name != "" {
		return name
	}
	return ent.CanonicalKey
}

// entityDetail compacts the most identifying approved attributes into a
// parenthetical. Name is the bullet itself; free-text attributes stay out.
func entityDetail(ent storage.CanonicalEntity) string {
	var parts []string
	for _, key := range entities.GraphProperties(ent.EntityType) {
		switch key {
		case "name", "description", "source_text", "confidence":
			continue
		}
		val, ok := ent.Attributes[key]
		if !ok || val == nil {
			continue
		}
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", key, val))
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, ", ")
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second)
	case d >= time.Second:
		return d.Round(100 * time.Millisecond)
	default:
		return d.Round(time.Millisecond)
	}
}
