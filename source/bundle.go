// Package source feeds documents into the pipeline from the filesystem. An
// upstream OCR product writes one artifact bundle per document into a drop
// directory; the watcher notices it, the importer persists it, and a
// workflow is started over the new document. No OCR runs in this repository.
package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/strataline/policygraph/storage"
)

// ManifestName is the file holding a bundle inside a bundle directory.
const ManifestName = "document.json"

// Bundle is the on-disk artifact produced upstream for one document: the
// document descriptor plus everything OCR recovered from it.
type Bundle struct {
	Document BundleDocument `json:"document"`
	Pages    []BundlePage   `json:"pages"`
	Chunks   []BundleChunk  `json:"chunks"`
	OCRWords []BundleWord   `json:"ocr_words,omitempty"`
	Tables   []BundleTable  `json:"tables,omitempty"`
	RawText  string         `json:"raw_text,omitempty"`
}

// BundleDocument describes the source file.
type BundleDocument struct {
	Filename  string         `json:"filename"`
	MimeType  string         `json:"mime_type,omitempty"`
	PageCount int            `json:"page_count,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BundlePage carries page geometry in PDF points.
type BundlePage struct {
	PageNumber   int     `json:"page_number"`
	WidthPoints  float64 `json:"width_points"`
	HeightPoints float64 `json:"height_points"`
	Rotation     int     `json:"rotation"`
}

// BundleChunk is one section-aware text unit. Stable ids are not part of
// the bundle; they are derived after the document row exists.
type BundleChunk struct {
	PageNumber     int    `json:"page_number"`
	ChunkIndex     int    `json:"chunk_index"`
	SectionType    string `json:"section_type,omitempty"`
	SubsectionType string `json:"subsection_type,omitempty"`
	RawText        string `json:"raw_text"`
	TokenCount     int    `json:"token_count,omitempty"`
}

// BundleWord is one recognized word with page coordinates in PDF points.
// Confidence may arrive on a 0..1 or 0..100 scale; normalization maps both
// to 0..1.
type BundleWord struct {
	PageNumber int     `json:"page_number"`
	WordIndex  int     `json:"word_index"`
	Text       string  `json:"text"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	Confidence float64 `json:"confidence"`
}

// BundleTable is one extracted table, optionally with materialized rows for
// the table types the pipeline understands.
type BundleTable struct {
	PageNumber    int                    `json:"page_number"`
	TableIndex    int                    `json:"table_index"`
	TableType     string                 `json:"table_type"`
	TableJSON     map[string]any         `json:"table_json,omitempty"`
	Confidence    float64                `json:"confidence"`
	RawMarkdown   string                 `json:"raw_markdown,omitempty"`
	SOVItems      []storage.SOVItem      `json:"sov_items,omitempty"`
	LossRunClaims []storage.LossRunClaim `json:"loss_run_claims,omitempty"`
}

// LoadBundle reads a bundle from path. path may be the bundle JSON itself
// or a directory containing document.json.
func LoadBundle(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat bundle: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, ManifestName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: parse bundle %s: %v", storage.ErrValidation, filepath.Base(path), err)
	}
	return &b, nil
}

// Normalize fills derivable fields and maps vendor quirks onto the storage
// conventions: pages, chunks, and words sorted into document order,
// page_count derived when absent, OCR confidence scaled to 0..1, token
// counts estimated when missing.
func (b *Bundle) Normalize() {
	sort.Slice(b.Pages, func(i, j int) bool { return b.Pages[i].PageNumber < b.Pages[j].PageNumber })
	sort.Slice(b.Chunks, func(i, j int) bool {
		if b.Chunks[i].PageNumber != b.Chunks[j].PageNumber {
			return b.Chunks[i].PageNumber < b.Chunks[j].PageNumber
		}
		return b.Chunks[i].ChunkIndex < b.Chunks[j].ChunkIndex
	})
	sort.Slice(b.OCRWords, func(i, j int) bool {
		if b.OCRWords[i].PageNumber != b.OCRWords[j].PageNumber {
			return b.OCRWords[i].PageNumber < b.OCRWords[j].PageNumber
		}
		return b.OCRWords[i].WordIndex < b.OCRWords[j].WordIndex
	})

	if b.Document.PageCount == 0 {
		b.Document.PageCount = len(b.Pages)
	}
	if b.Document.MimeType == "" {
		b.Document.MimeType = "application/pdf"
	}

	for i := range b.OCRWords {
		if b.OCRWords[i].Confidence > 1 {
			b.OCRWords[i].Confidence /= 100
		}
		if b.OCRWords[i].Confidence > 1 {
			b.OCRWords[i].Confidence = 1
		}
	}
	for i := range b.Chunks {
		if b.Chunks[i].TokenCount == 0 {
			b.Chunks[i].TokenCount = (len(b.Chunks[i].RawText) + 3) / 4
		}
	}
}

// Validate checks the bundle's internal consistency. Errors wrap
// storage.ErrValidation so intake can tell a malformed drop from an IO or
// database failure.
func (b *Bundle) Validate() error {
	if b.Document.Filename == "" {
		return fmt.Errorf("%w: bundle document has no filename", storage.ErrValidation)
	}
	if len(b.Pages) == 0 {
		return fmt.Errorf("%w: bundle %s has no pages", storage.ErrValidation, b.Document.Filename)
	}
	if b.Document.PageCount != len(b.Pages) {
		return fmt.Errorf("%w: bundle %s declares %d pages but carries %d",
			storage.ErrValidation, b.Document.Filename, b.Document.PageCount, len(b.Pages))
	}

	for i, p := range b.Pages {
		if p.PageNumber != i+1 {
			return fmt.Errorf("%w: bundle %s pages are not dense, position %d holds page %d",
				storage.ErrValidation, b.Document.Filename, i+1, p.PageNumber)
		}
		if p.WidthPoints <= 0 || p.HeightPoints <= 0 {
			return fmt.Errorf("%w: bundle %s page %d has non-positive dimensions",
				storage.ErrValidation, b.Document.Filename, p.PageNumber)
		}
		switch p.Rotation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("%w: bundle %s page %d rotation %d",
				storage.ErrValidation, b.Document.Filename, p.PageNumber, p.Rotation)
		}
	}

	if len(b.Chunks) == 0 {
		return fmt.Errorf("%w: bundle %s has no chunks", storage.ErrValidation, b.Document.Filename)
	}
	for _, ch := range b.Chunks {
		if ch.PageNumber < 1 || ch.PageNumber > len(b.Pages) {
			return fmt.Errorf("%w: bundle %s chunk p%d/c%d references a page outside 1..%d",
				storage.ErrValidation, b.Document.Filename, ch.PageNumber, ch.ChunkIndex, len(b.Pages))
		}
		if ch.ChunkIndex < 0 {
			return fmt.Errorf("%w: bundle %s has a negative chunk index on page %d",
				storage.ErrValidation, b.Document.Filename, ch.PageNumber)
		}
	}

	for _, w := range b.OCRWords {
		if w.PageNumber < 1 || w.PageNumber > len(b.Pages) {
			return fmt.Errorf("%w: bundle %s OCR word references page %d of %d",
				storage.ErrValidation, b.Document.Filename, w.PageNumber, len(b.Pages))
		}
	}

	for _, t := range b.Tables {
		if t.PageNumber < 1 || t.PageNumber > len(b.Pages) {
			return fmt.Errorf("%w: bundle %s table references page %d of %d",
				storage.ErrValidation, b.Document.Filename, t.PageNumber, len(b.Pages))
		}
		if t.TableIndex < 0 {
			return fmt.Errorf("%w: bundle %s has a negative table index on page %d",
				storage.ErrValidation, b.Document.Filename, t.PageNumber)
		}
	}

	return nil
}
