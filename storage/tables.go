package storage

import (
	"context"
	"fmt"
)

// UpsertTable writes an extracted table keyed by stable table id.
func (s *Store) UpsertTable(ctx context.Context, t *DocumentTable) error {
	if t.StableTableID == "" {
		return validationErr("table missing stable_table_id")
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO document_tables (document_id, stable_table_id, page_number, table_index,
			table_type, table_json, confidence, raw_markdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stable_table_id) DO UPDATE SET
			table_type = EXCLUDED.table_type,
			table_json = EXCLUDED.table_json,
			confidence = EXCLUDED.confidence,
			raw_markdown = EXCLUDED.raw_markdown
		RETURNING id, created_at`,
		t.DocumentID, t.StableTableID, t.PageNumber, t.TableIndex,
		t.TableType, t.TableJSON, t.Confidence, t.RawMarkdown,
	).Scan(&t.ID, &t.CreatedAt)
	return mapError("upsert table", err)
}

// ListTables returns all tables of a document in page, index order.
func (s *Store) ListTables(ctx context.Context, documentID int64) ([]DocumentTable, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, stable_table_id, page_number, table_index,
			table_type, table_json, confidence, raw_markdown, created_at
		FROM document_tables WHERE document_id = $1
		ORDER BY page_number, table_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []DocumentTable
	for rows.Next() {
		var t DocumentTable
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.StableTableID, &t.PageNumber, &t.TableIndex,
			&t.TableType, &t.TableJSON, &t.Confidence, &t.RawMarkdown, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ReplaceSOVItems rewrites the materialized SOV rows of one table.
func (s *Store) ReplaceSOVItems(ctx context.Context, tableID int64, items []SOVItem) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sov_items WHERE table_id = $1`, tableID); err != nil {
		return mapError("delete sov items", err)
	}
	for i := range items {
		it := &items[i]
		it.TableID = tableID
		err := s.db.QueryRow(ctx, `
			INSERT INTO sov_items (document_id, table_id, location_number, address, city, state, zip,
				building_value, contents_value, tiv, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at`,
			it.DocumentID, it.TableID, it.LocationNumber, it.Address, it.City, it.State, it.Zip,
			it.BuildingValue, it.ContentsValue, it.TIV, it.Attributes,
		).Scan(&it.ID, &it.CreatedAt)
		if err != nil {
			return mapError("insert sov item", err)
		}
	}
	return nil
}

// ListSOVItems returns a document's SOV rows in insertion order.
func (s *Store) ListSOVItems(ctx context.Context, documentID int64) ([]SOVItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, table_id, location_number, address, city, state, zip,
			building_value, contents_value, tiv, attributes, created_at
		FROM sov_items WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list sov items: %w", err)
	}
	defer rows.Close()

	var items []SOVItem
	for rows.Next() {
		var it SOVItem
		if err := rows.Scan(&it.ID, &it.DocumentID, &it.TableID, &it.LocationNumber, &it.Address,
			&it.City, &it.State, &it.Zip, &it.BuildingValue, &it.ContentsValue, &it.TIV,
			&it.Attributes, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sov item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplaceLossRunClaims rewrites the materialized claims of one table.
func (s *Store) ReplaceLossRunClaims(ctx context.Context, tableID int64, claims []LossRunClaim) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM loss_run_claims WHERE table_id = $1`, tableID); err != nil {
		return mapError("delete loss run claims", err)
	}
	for i := range claims {
		c := &claims[i]
		c.TableID = tableID
		err := s.db.QueryRow(ctx, `
			INSERT INTO loss_run_claims (document_id, table_id, claim_number, date_of_loss, status,
				cause_of_loss, paid_amount, reserved_amount, incurred_amount, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at`,
			c.DocumentID, c.TableID, c.ClaimNumber, c.DateOfLoss, c.Status,
			c.CauseOfLoss, c.PaidAmount, c.ReservedAmount, c.IncurredAmount, c.Attributes,
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return mapError("insert loss run claim", err)
		}
	}
	return nil
}

// ListLossRunClaims returns a document's loss-run claims in insertion order.
func (s *Store) ListLossRunClaims(ctx context.Context, documentID int64) ([]LossRunClaim, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, table_id, claim_number, date_of_loss, status,
			cause_of_loss, paid_amount, reserved_amount, incurred_amount, attributes, created_at
		FROM loss_run_claims WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list loss run claims: %w", err)
	}
	defer rows.Close()

	var claims []LossRunClaim
	for rows.Next() {
		var c LossRunClaim
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TableID, &c.ClaimNumber, &c.DateOfLoss, &c.Status,
			&c.CauseOfLoss, &c.PaidAmount, &c.ReservedAmount, &c.IncurredAmount,
			&c.Attributes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loss run claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}
