package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
)

// GraphStore is the read surface the builder needs. *storage.Store
// satisfies it.
type GraphStore interface {
	GetWorkflow(ctx context.Context, id int64) (*storage.Workflow, error)
	ListWorkflowDocuments(ctx context.Context, workflowID int64) ([]storage.Document, error)
	ListCanonicalEntitiesByWorkflow(ctx context.Context, workflowID int64) ([]storage.CanonicalEntity, error)
	ListRelationshipsByWorkflow(ctx context.Context, workflowID int64) ([]storage.EntityRelationship, error)
	ListEntityEvidence(ctx context.Context, canonicalEntityID int64) ([]storage.EntityEvidence, error)
}

// FromWorkflow builds an exporter holding the workflow's knowledge graph.
// The minimal profile carries entities, approved attributes, and direct
// relationship edges; the provenance profile adds document nodes,
// relationship nodes with confidence, and prov:wasDerivedFrom links.
func FromWorkflow(ctx context.Context, store GraphStore, workflowID int64, profile Profile) (*Exporter, error) {
	if _, err := store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("load workflow %d: %w", workflowID, err)
	}

	ents, err := store.ListCanonicalEntitiesByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	rels, err := store.ListRelationshipsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	e := NewExporter()

	iriByID := make(map[int64]string, len(ents))
	for _, ent := range ents {
		iriByID[ent.ID] = EntityIRI(ent.EntityType, ent.CanonicalKey)
	}

	// Direct edges ride on their source entity node.
	edgesBySource := make(map[int64][]storage.EntityRelationship)
	for _, rel := range rels {
		edgesBySource[rel.SourceEntityID] = append(edgesBySource[rel.SourceEntityID], rel)
	}

	for _, ent := range ents {
		node := Node{
			IRI:   iriByID[ent.ID],
			Types: []string{"pg:" + ent.EntityType},
		}
		node.Triples = append(node.Triples, attributeTriples(ent)...)

		for _, rel := range edgesBySource[ent.ID] {
			target, ok := iriByID[rel.TargetEntityID]
			if !ok {
				continue
			}
			node.Triples = append(node.Triples, Triple{
				Predicate: "pg:" + rel.RelationshipType,
				Object:    IRI(target),
			})
		}

		if profile == ProfileProvenance {
			evidence, err := store.ListEntityEvidence(ctx, ent.ID)
			if err != nil {
				return nil, fmt.Errorf("list evidence for entity %d: %w", ent.ID, err)
			}
			for _, docID := range evidenceDocuments(evidence) {
				node.Triples = append(node.Triples, Triple{
					Predicate: "prov:wasDerivedFrom",
					Object:    IRI(DocumentIRI(docID)),
				})
			}
		}

		e.AddNode(node)
	}

	if profile == ProfileProvenance {
		docs, err := store.ListWorkflowDocuments(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			e.AddNode(Node{
				IRI:   DocumentIRI(doc.ID),
				Types: []string{"pg:Document", "prov:Entity"},
				Triples: []Triple{
					{Predicate: "pg:filename", Object: doc.Filename},
					{Predicate: "pg:pageCount", Object: doc.PageCount},
					{Predicate: "dc:created", Object: doc.CreatedAt},
				},
			})
		}

		for _, rel := range rels {
			source, okS := iriByID[rel.SourceEntityID]
			target, okT := iriByID[rel.TargetEntityID]
			if !okS || !okT {
				continue
			}
			node := Node{
				IRI:   RelationshipIRI(rel.ID),
				Types: []string{"pg:Relationship"},
				Triples: []Triple{
					{Predicate: "pg:source", Object: IRI(source)},
					{Predicate: "pg:target", Object: IRI(target)},
					{Predicate: "pg:relationshipType", Object: rel.RelationshipType},
					{Predicate: "pg:confidence", Object: rel.Confidence},
				},
			}
			if rel.DocumentID != nil {
				node.Triples = append(node.Triples, Triple{
					Predicate: "prov:wasDerivedFrom",
					Object:    IRI(DocumentIRI(*rel.DocumentID)),
				})
			}
			e.AddNode(node)
		}
	}

	return e, nil
}

// EntityIRI derives the stable IRI for a canonical entity.
func EntityIRI(entityType, canonicalKey string) string {
	return EntityNamespace + strings.ToLower(entityType) + "/" + canonicalKey
}

// DocumentIRI derives the IRI for a document.
func DocumentIRI(id int64) string {
	return fmt.Sprintf("%s%d", DocumentNamespace, id)
}

// RelationshipIRI derives the IRI for a relationship node.
func RelationshipIRI(id int64) string {
	return fmt.Sprintf("%srelationship/%d", EntityNamespace, id)
}

// attributeTriples maps the entity's approved attributes to pg: predicates.
// The allowlist is the same one the property graph projection uses, so both
// exports agree on what leaves the system. The name doubles as skos:prefLabel.
func attributeTriples(ent storage.CanonicalEntity) []Triple {
	var out []Triple

	if name, ok := ent.Attributes["name"].(string); ok && name != "" {
		out = append(out, Triple{Predicate: "skos:prefLabel", Object: name})
	}

	approved := entities.GraphProperties(ent.EntityType)
	sort.Strings(approved)
	for _, key := range approved {
		if key == "name" {
			continue
		}
		val, ok := ent.Attributes[key]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case string:
			if v == "" {
				continue
			}
			out = append(out, Triple{Predicate: "pg:" + key, Object: v})
		case float64, int, int64, bool:
			out = append(out, Triple{Predicate: "pg:" + key, Object: v})
		}
	}
	return out
}

// evidenceDocuments returns the distinct document ids in stable order.
func evidenceDocuments(evidence []storage.EntityEvidence) []int64 {
	seen := make(map[int64]struct{}, len(evidence))
	var out []int64
	for _, ev := range evidence {
		if _, dup := seen[ev.DocumentID]; dup {
			continue
		}
		seen[ev.DocumentID] = struct{}{}
		out = append(out, ev.DocumentID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
