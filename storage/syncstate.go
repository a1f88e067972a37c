package storage

import (
	"context"
	"fmt"
)

// UpsertEmbeddingSyncState records the embedding currency of one chunk.
func (s *Store) UpsertEmbeddingSyncState(ctx context.Context, st *EmbeddingSyncState) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO embedding_sync_state (chunk_id, embedding_model, embedding_version,
			vector_dimension, sync_status, last_synced_at, sync_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id, embedding_model) DO UPDATE SET
			embedding_version = EXCLUDED.embedding_version,
			vector_dimension = EXCLUDED.vector_dimension,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			sync_error = EXCLUDED.sync_error
		RETURNING id`,
		st.ChunkID, st.EmbeddingModel, st.EmbeddingVersion,
		st.VectorDimension, st.SyncStatus, st.LastSyncedAt, st.SyncError,
	).Scan(&st.ID)
	return mapError("upsert embedding sync state", err)
}

// MarkForResync resets a chunk's embedding sync status to pending and
// clears any recorded error.
func (s *Store) MarkForResync(ctx context.Context, chunkID int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE embedding_sync_state
		SET sync_status = $2, sync_error = ''
		WHERE chunk_id = $1`, chunkID, SyncStatusPending)
	if err != nil {
		return mapError("mark for resync", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStaleEmbeddings returns sync rows whose embedding version differs from
// currentVersion.
func (s *Store) GetStaleEmbeddings(ctx context.Context, currentVersion string) ([]EmbeddingSyncState, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chunk_id, embedding_model, embedding_version, vector_dimension,
			sync_status, last_synced_at, sync_error
		FROM embedding_sync_state
		WHERE embedding_version <> $1
		ORDER BY chunk_id`, currentVersion)
	if err != nil {
		return nil, fmt.Errorf("get stale embeddings: %w", err)
	}
	defer rows.Close()

	var states []EmbeddingSyncState
	for rows.Next() {
		var st EmbeddingSyncState
		if err := rows.Scan(&st.ID, &st.ChunkID, &st.EmbeddingModel, &st.EmbeddingVersion,
			&st.VectorDimension, &st.SyncStatus, &st.LastSyncedAt, &st.SyncError); err != nil {
			return nil, fmt.Errorf("scan embedding sync state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// UpsertGraphSyncState records the projection status of one canonical
// entity.
func (s *Store) UpsertGraphSyncState(ctx context.Context, st *GraphSyncState) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO graph_sync_state (entity_id, entity_type, neo4j_node_id,
			sync_status, last_synced_at, sync_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			neo4j_node_id = EXCLUDED.neo4j_node_id,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			sync_error = EXCLUDED.sync_error
		RETURNING id`,
		st.EntityID, st.EntityType, st.Neo4jNodeID,
		st.SyncStatus, st.LastSyncedAt, st.SyncError,
	).Scan(&st.ID)
	return mapError("upsert graph sync state", err)
}

// ListGraphSyncFailures returns entities whose last projection failed.
func (s *Store) ListGraphSyncFailures(ctx context.Context) ([]GraphSyncState, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entity_id, entity_type, neo4j_node_id, sync_status, last_synced_at, sync_error
		FROM graph_sync_state WHERE sync_status = $1 ORDER BY entity_id`, SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list graph sync failures: %w", err)
	}
	defer rows.Close()

	var states []GraphSyncState
	for rows.Next() {
		var st GraphSyncState
		if err := rows.Scan(&st.ID, &st.EntityID, &st.EntityType, &st.Neo4jNodeID,
			&st.SyncStatus, &st.LastSyncedAt, &st.SyncError); err != nil {
			return nil, fmt.Errorf("scan graph sync state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
