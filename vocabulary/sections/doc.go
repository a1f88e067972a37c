// Package sections defines the section and table vocabulary for insurance
// documents.
//
// Section types drive chunk grouping, extraction prompts, semantic batch
// membership, template selection, and retrieval filters. Table types route
// extracted tables into the relationship batches that consume them.
package sections
