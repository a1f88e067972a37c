package storage

import (
	"testing"
)

func TestMergeAttributes(t *testing.T) {
	t.Run("sets absent keys", func(t *testing.T) {
		merged, changed := MergeAttributes(
			map[string]any{"policy_number": "POL-8888"},
			map[string]any{"policy_type": "property"},
		)
		if !changed {
			t.Error("expected change")
		}
		if merged["policy_number"] != "POL-8888" {
			t.Errorf("existing key lost: %v", merged["policy_number"])
		}
		if merged["policy_type"] != "property" {
			t.Errorf("incoming key not set: %v", merged["policy_type"])
		}
	})

	t.Run("longer string wins for growable keys", func(t *testing.T) {
		merged, changed := MergeAttributes(
			map[string]any{
				"description": "short",
				"source_text": "a much longer source text already present",
			},
			map[string]any{
				"description": "a strictly longer description",
				"source_text": "short",
			},
		)
		if !changed {
			t.Error("expected change")
		}
		if merged["description"] != "a strictly longer description" {
			t.Errorf("description not grown: %v", merged["description"])
		}
		if merged["source_text"] != "a much longer source text already present" {
			t.Errorf("source_text shrank: %v", merged["source_text"])
		}
	})

	t.Run("first writer wins for ordinary keys", func(t *testing.T) {
		merged, changed := MergeAttributes(
			map[string]any{"carrier": "Acme Insurance Co"},
			map[string]any{"carrier": "Different Carrier"},
		)
		if changed {
			t.Error("expected no change")
		}
		if merged["carrier"] != "Acme Insurance Co" {
			t.Errorf("first writer lost: %v", merged["carrier"])
		}
	})

	t.Run("nil incoming values ignored", func(t *testing.T) {
		merged, changed := MergeAttributes(
			map[string]any{"limit": "1000000"},
			map[string]any{"limit": nil, "deductible": nil},
		)
		if changed {
			t.Error("expected no change")
		}
		if merged["limit"] != "1000000" {
			t.Errorf("limit overwritten: %v", merged["limit"])
		}
		if _, ok := merged["deductible"]; ok {
			t.Error("nil value should not create a key")
		}
	})

	t.Run("monotonic over successive merges", func(t *testing.T) {
		m1, _ := MergeAttributes(
			map[string]any{"description": "first pass"},
			map[string]any{"description": "the second, longer description"},
		)
		m2, changed := MergeAttributes(m1, map[string]any{"description": "tiny"})
		if changed {
			t.Error("shorter description must not register as change")
		}
		desc, ok := m2["description"].(string)
		if !ok || len(desc) < len("the second, longer description") {
			t.Errorf("description shrank: %q", desc)
		}
	})

	t.Run("inputs not mutated", func(t *testing.T) {
		existing := map[string]any{"description": "short"}
		incoming := map[string]any{"description": "a longer value"}
		_, _ = MergeAttributes(existing, incoming)
		if existing["description"] != "short" {
			t.Error("existing map mutated")
		}
		if incoming["description"] != "a longer value" {
			t.Error("incoming map mutated")
		}
	})
}

func TestUnionEvidence(t *testing.T) {
	t.Run("dedups by quote", func(t *testing.T) {
		a := []any{map[string]any{"quote": "issued by Acme Insurance Co"}}
		b := []any{
			map[string]any{"quote": "issued by Acme Insurance Co"},
			map[string]any{"quote": "Named Insured: Tech Solutions Inc."},
		}
		out := unionEvidence(a, b)
		if len(out) != 2 {
			t.Fatalf("expected 2 evidence elements, got %d", len(out))
		}
	})

	t.Run("dedups by table reference", func(t *testing.T) {
		a := []any{map[string]any{"sov_id": float64(12)}}
		b := []any{
			map[string]any{"sov_id": float64(12)},
			map[string]any{"table_id": "doc_1_p2_t0"},
		}
		out := unionEvidence(a, b)
		if len(out) != 2 {
			t.Fatalf("expected 2 evidence elements, got %d", len(out))
		}
	})

	t.Run("empty existing", func(t *testing.T) {
		out := unionEvidence(nil, []any{map[string]any{"quote": "q"}})
		if len(out) != 1 {
			t.Fatalf("expected 1 element, got %d", len(out))
		}
	})
}

func TestMergeRelationshipAttributes(t *testing.T) {
	existing := map[string]any{
		"evidence":         []any{map[string]any{"quote": "q1"}},
		"extraction_batch": "policy_identity",
	}
	incoming := map[string]any{
		"evidence":         []any{map[string]any{"quote": "q2"}},
		"extraction_batch": "cross_batch_synthesis",
	}

	merged := mergeRelationshipAttributes(existing, incoming)
	ev, ok := merged["evidence"].([]any)
	if !ok || len(ev) != 2 {
		t.Fatalf("expected evidence union of 2, got %v", merged["evidence"])
	}
	if merged["extraction_batch"] != "policy_identity" {
		t.Errorf("first writer should win: %v", merged["extraction_batch"])
	}
}
