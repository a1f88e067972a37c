// Package relations defines the closed relationship vocabulary for the
// entity graph.
//
// Relationship types are a fixed set: the extractor prompts list them, the
// matcher validates against them, and the graph projector derives edge
// labels from them. Types outside the set are discarded with a warning
// rather than persisted, so the graph schema never grows by accident.
package relations
