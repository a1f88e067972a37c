// Package identity derives the deterministic identifiers shared by the
// entity aggregator, resolver, semantic indexer, and query layer. All
// derivations are case-insensitive over the joined "type:value" string;
// any drift between components breaks joins, so nothing outside this
// package may hash entity identity material directly.
package identity

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CanonicalKeyLen is the hex length of a canonical key.
const CanonicalKeyLen = 32

// EntityIDHashLen is the hex length of the hash suffix in an entity ID.
const EntityIDHashLen = 16

// CanonicalKey returns the deduplication key for an entity: the first 32
// hex characters of sha256 over lower("type:value").
func CanonicalKey(entityType, normalizedValue string) string {
	sum := sha256.Sum256([]byte(joinLower(entityType, normalizedValue)))
	return hex.EncodeToString(sum[:])[:CanonicalKeyLen]
}

// EntityID returns the LLM-facing identifier for an entity:
// lower(type) + "_" + first 16 hex characters of sha1 over lower("type:value").
// It is shorter than the canonical key so prompts stay compact, but derives
// from the same joined string so the two always co-resolve.
func EntityID(entityType, normalizedValue string) string {
	sum := sha1.Sum([]byte(joinLower(entityType, normalizedValue)))
	return strings.ToLower(entityType) + "_" + hex.EncodeToString(sum[:])[:EntityIDHashLen]
}

// StableChunkID returns the reproducible identifier for a document chunk.
func StableChunkID(documentID int64, pageNumber, chunkIndex int) string {
	return fmt.Sprintf("doc_%d_p%d_c%d", documentID, pageNumber, chunkIndex)
}

// StableTableID returns the reproducible identifier for an extracted table.
func StableTableID(documentID int64, pageNumber, tableIndex int) string {
	return fmt.Sprintf("doc_%d_p%d_t%d", documentID, pageNumber, tableIndex)
}

// ContentHash returns the full sha256 hex digest of templated text. Used to
// detect embedding drift across runs: identical text hashes identically.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeValue trims and collapses inner whitespace so that visually
// identical mentions produce identical keys.
func NormalizeValue(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func joinLower(entityType, value string) string {
	return strings.ToLower(entityType + ":" + value)
}
