package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/strataline/policygraph/storage"
)

func validBundle() *Bundle {
	return &Bundle{
		Document: BundleDocument{Filename: "policy.pdf", PageCount: 2},
		Pages: []BundlePage{
			{PageNumber: 1, WidthPoints: 612, HeightPoints: 792, Rotation: 0},
			{PageNumber: 2, WidthPoints: 612, HeightPoints: 792, Rotation: 90},
		},
		Chunks: []BundleChunk{
			{PageNumber: 1, ChunkIndex: 0, SectionType: "declarations", RawText: "COMMERCIAL PROPERTY DECLARATIONS"},
			{PageNumber: 2, ChunkIndex: 0, SectionType: "coverages", RawText: "Building coverage limit $1,000,000"},
		},
	}
}

const bundleJSON = `{
  "document": {"filename": "policy.pdf", "page_count": 1},
  "pages": [{"page_number": 1, "width_points": 612, "height_points": 792, "rotation": 0}],
  "chunks": [{"page_number": 1, "chunk_index": 0, "raw_text": "DECLARATIONS"}]
}`

func TestLoadBundleFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.bundle.json")
	if err := os.WriteFile(path, []byte(bundleJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.Document.Filename != "policy.pdf" || len(b.Pages) != 1 || len(b.Chunks) != 1 {
		t.Errorf("unexpected bundle: %+v", b)
	}
}

func TestLoadBundleFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(bundleJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBundle(dir)
	if err != nil {
		t.Fatalf("LoadBundle(dir): %v", err)
	}
	if b.Document.Filename != "policy.pdf" {
		t.Errorf("filename = %q", b.Document.Filename)
	}
}

func TestLoadBundleMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.bundle.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadBundle(path)
	if !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestNormalizeDerivesAndScales(t *testing.T) {
	b := validBundle()
	b.Document.PageCount = 0
	b.Document.MimeType = ""
	b.Chunks[0].TokenCount = 0
	b.OCRWords = []BundleWord{
		{PageNumber: 1, WordIndex: 1, Text: "PROPERTY", Confidence: 87},
		{PageNumber: 1, WordIndex: 0, Text: "COMMERCIAL", Confidence: 0.93},
	}

	b.Normalize()

	if b.Document.PageCount != 2 {
		t.Errorf("page count = %d, want derived 2", b.Document.PageCount)
	}
	if b.Document.MimeType != "application/pdf" {
		t.Errorf("mime = %q", b.Document.MimeType)
	}
	if b.Chunks[0].TokenCount == 0 {
		t.Error("token count not estimated")
	}
	if b.OCRWords[0].WordIndex != 0 {
		t.Errorf("words not sorted: first index %d", b.OCRWords[0].WordIndex)
	}
	if b.OCRWords[0].Confidence != 0.93 {
		t.Errorf("0..1 confidence rescaled: %v", b.OCRWords[0].Confidence)
	}
	if b.OCRWords[1].Confidence != 0.87 {
		t.Errorf("percent confidence = %v, want 0.87", b.OCRWords[1].Confidence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Bundle)
		ok     bool
	}{
		{"valid", func(b *Bundle) {}, true},
		{"missing filename", func(b *Bundle) { b.Document.Filename = "" }, false},
		{"no pages", func(b *Bundle) { b.Pages = nil }, false},
		{"page count mismatch", func(b *Bundle) { b.Document.PageCount = 5 }, false},
		{"sparse pages", func(b *Bundle) { b.Pages[1].PageNumber = 3 }, false},
		{"zero width", func(b *Bundle) { b.Pages[0].WidthPoints = 0 }, false},
		{"bad rotation", func(b *Bundle) { b.Pages[0].Rotation = 45 }, false},
		{"no chunks", func(b *Bundle) { b.Chunks = nil }, false},
		{"chunk page out of range", func(b *Bundle) { b.Chunks[0].PageNumber = 9 }, false},
		{"negative chunk index", func(b *Bundle) { b.Chunks[0].ChunkIndex = -1 }, false},
		{"word page out of range", func(b *Bundle) {
			b.OCRWords = []BundleWord{{PageNumber: 7, Text: "x"}}
		}, false},
		{"table page out of range", func(b *Bundle) {
			b.Tables = []BundleTable{{PageNumber: 4, TableType: "property_sov"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBundle()
			tt.mutate(b)
			err := b.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok {
				if !errors.Is(err, storage.ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
			}
		})
	}
}
