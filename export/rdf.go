// Package export serializes a workflow's knowledge graph as RDF, so the
// extracted entities and relationships can load into external triple stores
// and ontology tooling.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile determines how much provenance rides along with the graph.
type Profile string

const (
	// ProfileMinimal exports entities, attributes, and relationships only.
	ProfileMinimal Profile = "minimal"

	// ProfileProvenance adds PROV-O derivation triples: source documents,
	// confidences, and extraction timestamps.
	ProfileProvenance Profile = "provenance"
)

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case ProfileMinimal:
		return ProfileMinimal, nil
	case ProfileProvenance:
		return ProfileProvenance, nil
	default:
		return "", fmt.Errorf("unknown export profile %q (minimal, provenance)", s)
	}
}

// Format specifies the output serialization format.
type Format string

const (
	// FormatTurtle produces Turtle (.ttl) output.
	FormatTurtle Format = "turtle"

	// FormatNTriples produces N-Triples (.nt) output.
	FormatNTriples Format = "ntriples"

	// FormatJSONLD produces JSON-LD (.jsonld) output.
	FormatJSONLD Format = "jsonld"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatTurtle:
		return FormatTurtle, nil
	case FormatNTriples:
		return FormatNTriples, nil
	case FormatJSONLD:
		return FormatJSONLD, nil
	default:
		return "", fmt.Errorf("unknown export format %q (turtle, ntriples, jsonld)", s)
	}
}

// Namespaces of the exported graph.
const (
	Namespace         = "https://policygraph.dev/ns#"
	EntityNamespace   = "https://policygraph.dev/entity/"
	DocumentNamespace = "https://policygraph.dev/document/"
)

// IRI marks a triple object as a reference rather than a literal.
type IRI string

// Triple is one statement about its node. Predicate is a prefixed name
// ("pg:name", "prov:wasDerivedFrom"); objects are Go literals or IRI refs.
type Triple struct {
	Predicate string
	Object    any
}

// Node is one exportable graph node with its type assertions and triples.
type Node struct {
	IRI     string
	Types   []string // prefixed names, e.g. "pg:Policy"
	Triples []Triple
}

// Exporter accumulates nodes and serializes them. Profiles shape what the
// builder feeds in; the serializer writes whatever it holds.
type Exporter struct {
	nodes    []Node
	prefixes map[string]string
}

// NewExporter creates an empty exporter with the standard prefixes.
func NewExporter() *Exporter {
	return &Exporter{prefixes: defaultPrefixes()}
}

func defaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
		"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
		"xsd":  "http://www.w3.org/2001/XMLSchema#",
		"dc":   "http://purl.org/dc/terms/",
		"skos": "http://www.w3.org/2004/02/skos/core#",
		"prov": "http://www.w3.org/ns/prov#",
		"pg":   Namespace,
	}
}

// AddNode appends one node to the export set.
func (e *Exporter) AddNode(n Node) {
	e.nodes = append(e.nodes, n)
}

// Len reports the number of nodes staged for export.
func (e *Exporter) Len() int {
	return len(e.nodes)
}

// Export serializes all nodes to the specified format.
func (e *Exporter) Export(format Format) (string, error) {
	switch format {
	case FormatTurtle:
		return e.toTurtle(), nil
	case FormatNTriples:
		return e.toNTriples(), nil
	case FormatJSONLD:
		return e.toJSONLD(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// sortedPrefixes returns prefix keys in stable order so exports diff cleanly.
func (e *Exporter) sortedPrefixes() []string {
	keys := make([]string, 0, len(e.prefixes))
	for k := range e.prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expand resolves a prefixed name to a full IRI. Names without a known
// prefix pass through unchanged.
func (e *Exporter) expand(name string) string {
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return name
	}
	base, known := e.prefixes[prefix]
	if !known {
		return name
	}
	return base + local
}

func (e *Exporter) toTurtle() string {
	var sb strings.Builder

	for _, prefix := range e.sortedPrefixes() {
		fmt.Fprintf(&sb, "@prefix %s: <%s> .\n", prefix, e.prefixes[prefix])
	}
	sb.WriteString("\n")

	for _, n := range e.nodes {
		e.writeNodeTurtle(&sb, n)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *Exporter) writeNodeTurtle(sb *strings.Builder, n Node) {
	fmt.Fprintf(sb, "<%s>\n", n.IRI)

	for i, t := range n.Types {
		fmt.Fprintf(sb, "    a %s", t)
		if i < len(n.Types)-1 || len(n.Triples) > 0 {
			sb.WriteString(" ;\n")
		} else {
			sb.WriteString(" .\n")
		}
	}

	for i, triple := range n.Triples {
		fmt.Fprintf(sb, "    %s %s", triple.Predicate, e.formatTurtle(triple.Object))
		if i < len(n.Triples)-1 {
			sb.WriteString(" ;\n")
		} else {
			sb.WriteString(" .\n")
		}
	}
}

func (e *Exporter) toNTriples() string {
	var sb strings.Builder

	rdfType := e.expand("rdf:type")
	for _, n := range e.nodes {
		for _, t := range n.Types {
			fmt.Fprintf(&sb, "<%s> <%s> <%s> .\n", n.IRI, rdfType, e.expand(t))
		}
		for _, triple := range n.Triples {
			fmt.Fprintf(&sb, "<%s> <%s> %s .\n", n.IRI, e.expand(triple.Predicate), e.formatNTriples(triple.Object))
		}
	}
	return sb.String()
}

func (e *Exporter) toJSONLD() string {
	var sb strings.Builder

	sb.WriteString("{\n")
	sb.WriteString("  \"@context\": {\n")
	prefixes := e.sortedPrefixes()
	for i, prefix := range prefixes {
		fmt.Fprintf(&sb, "    \"%s\": \"%s\"", prefix, e.prefixes[prefix])
		if i < len(prefixes)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  },\n")
	sb.WriteString("  \"@graph\": [\n")

	for i, n := range e.nodes {
		e.writeNodeJSONLD(&sb, n)
		if i < len(e.nodes)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("  ]\n")
	sb.WriteString("}\n")
	return sb.String()
}

func (e *Exporter) writeNodeJSONLD(sb *strings.Builder, n Node) {
	sb.WriteString("    {\n")
	fmt.Fprintf(sb, "      \"@id\": \"%s\",\n", n.IRI)

	sb.WriteString("      \"@type\": [")
	for i, t := range n.Types {
		fmt.Fprintf(sb, "\"%s\"", t)
		if i < len(n.Types)-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString("]")

	for _, triple := range n.Triples {
		sb.WriteString(",\n")
		fmt.Fprintf(sb, "      \"%s\": %s", triple.Predicate, e.formatJSONLD(triple.Object))
	}
	sb.WriteString("\n    }")
}

func (e *Exporter) formatTurtle(obj any) string {
	switch v := obj.(type) {
	case IRI:
		return fmt.Sprintf("<%s>", string(v))
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return fmt.Sprintf("\"%s\"^^xsd:dateTime", v)
		}
		return fmt.Sprintf("\"%s\"", escapeString(v))
	case int, int32, int64:
		return fmt.Sprintf("\"%d\"^^xsd:integer", v)
	case float32, float64:
		return fmt.Sprintf("\"%g\"^^xsd:decimal", v)
	case bool:
		return fmt.Sprintf("\"%t\"^^xsd:boolean", v)
	case time.Time:
		return fmt.Sprintf("\"%s\"^^xsd:dateTime", v.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("\"%v\"", v)
	}
}

func (e *Exporter) formatNTriples(obj any) string {
	xsd := func(local string) string { return e.prefixes["xsd"] + local }
	switch v := obj.(type) {
	case IRI:
		return fmt.Sprintf("<%s>", string(v))
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return fmt.Sprintf("\"%s\"^^<%s>", v, xsd("dateTime"))
		}
		return fmt.Sprintf("\"%s\"", escapeString(v))
	case int, int32, int64:
		return fmt.Sprintf("\"%d\"^^<%s>", v, xsd("integer"))
	case float32, float64:
		return fmt.Sprintf("\"%g\"^^<%s>", v, xsd("decimal"))
	case bool:
		return fmt.Sprintf("\"%t\"^^<%s>", v, xsd("boolean"))
	case time.Time:
		return fmt.Sprintf("\"%s\"^^<%s>", v.UTC().Format(time.RFC3339), xsd("dateTime"))
	default:
		return fmt.Sprintf("\"%v\"", v)
	}
}

func (e *Exporter) formatJSONLD(obj any) string {
	switch v := obj.(type) {
	case IRI:
		return fmt.Sprintf("{\"@id\": \"%s\"}", string(v))
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return fmt.Sprintf("{\"@value\": \"%s\", \"@type\": \"xsd:dateTime\"}", v)
		}
		return fmt.Sprintf("\"%s\"", escapeString(v))
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case time.Time:
		return fmt.Sprintf("{\"@value\": \"%s\", \"@type\": \"xsd:dateTime\"}", v.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("\"%v\"", v)
	}
}

// escapeString escapes special characters for RDF string literals.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
