// Package entities defines the canonical entity vocabulary: the closed set
// of entity types and, per type, the attribute keys approved for graph
// projection. The projector persists only approved keys so node property
// schemas stay stable as the LLM invents new attribute names.
package entities
