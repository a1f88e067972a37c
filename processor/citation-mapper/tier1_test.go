package citationmapper

import (
	"testing"

	"github.com/strataline/policygraph/storage"
)

func lineWords(page int, y, conf float64, texts ...string) []storage.OCRWord {
	words := make([]storage.OCRWord, len(texts))
	x := 72.0
	for i, t := range texts {
		w := float64(len(t)) * 6
		words[i] = storage.OCRWord{
			DocumentID: 7, PageNumber: page, WordIndex: i, Text: t,
			X0: x, Y0: y, X1: x + w, Y1: y + 10, Confidence: conf,
		}
		x += w + 4
	}
	return words
}

func TestFindWordRunExactMatch(t *testing.T) {
	words := lineWords(1, 100, 0.98, "The", "Building", "Coverage", "applies", "here")
	run, ok := findWordRun(words, normalizeWords("Building Coverage"))
	if !ok {
		t.Fatal("expected a match")
	}
	if len(run) != 2 || run[0].Text != "Building" || run[1].Text != "Coverage" {
		t.Errorf("run = %v", run)
	}
}

func TestFindWordRunIgnoresPunctuationDrift(t *testing.T) {
	words := lineWords(1, 100, 0.98, "covers", "\"Building", "Coverage,\"", "subject")
	run, ok := findWordRun(words, normalizeWords("building coverage"))
	if !ok {
		t.Fatal("expected a match despite OCR punctuation")
	}
	if len(run) != 2 {
		t.Errorf("run length = %d", len(run))
	}
}

func TestFindWordRunKeepsPunctuationTokensInside(t *testing.T) {
	words := lineWords(1, 100, 0.98, "Building", "-", "Coverage")
	run, ok := findWordRun(words, normalizeWords("building coverage"))
	if !ok {
		t.Fatal("expected a match across a pure-punctuation token")
	}
	if len(run) != 3 {
		t.Errorf("run should include the dash box, got %d words", len(run))
	}
}

func TestFindWordRunNoMatch(t *testing.T) {
	words := lineWords(1, 100, 0.98, "completely", "different", "text")
	if _, ok := findWordRun(words, normalizeWords("building coverage")); ok {
		t.Error("expected no match")
	}
	if _, ok := findWordRun(words, nil); ok {
		t.Error("empty target must not match")
	}
}

func TestMergeLineBoxesMergesPerLine(t *testing.T) {
	matched := append(
		lineWords(1, 100, 0.98, "Building", "Coverage"),
		lineWords(1, 120, 0.98, "applies", "here")...,
	)
	spans := mergeLineBoxes(matched)
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].PageNumber != 1 || len(spans[0].BBoxes) != 2 {
		t.Fatalf("span = %+v, want 2 line boxes on page 1", spans[0])
	}
	first := spans[0].BBoxes[0]
	if first.X0 != 72 || first.Y0 != 100 || first.Y1 != 110 {
		t.Errorf("first line box = %+v", first)
	}
	if first.X1 <= first.X0 {
		t.Errorf("line box not merged horizontally: %+v", first)
	}
}

func TestMergeLineBoxesSplitsPages(t *testing.T) {
	matched := append(
		lineWords(1, 700, 0.98, "continued", "on"),
		lineWords(2, 72, 0.98, "next", "page")...,
	)
	spans := mergeLineBoxes(matched)
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want one per page", len(spans))
	}
	if spans[0].PageNumber != 1 || spans[1].PageNumber != 2 {
		t.Errorf("span pages = %d, %d", spans[0].PageNumber, spans[1].PageNumber)
	}
}

func TestTier1ConfidenceClamps(t *testing.T) {
	low := lineWords(1, 100, 0.80, "a", "b")
	if got := tier1Confidence(low); got != tier1Floor {
		t.Errorf("low confidence = %v, want floor %v", got, tier1Floor)
	}
	mid := lineWords(1, 100, 0.97, "a", "b")
	if got := tier1Confidence(mid); got != 0.97 {
		t.Errorf("mid confidence = %v, want 0.97", got)
	}
	// Some OCR backends report 0-100.
	high := lineWords(1, 100, 97.0, "a", "b")
	if got := tier1Confidence(high); got != tier1Ceil {
		t.Errorf("overscaled confidence = %v, want ceil %v", got, tier1Ceil)
	}
}

func TestMatchedTextJoins(t *testing.T) {
	words := lineWords(1, 100, 0.98, "Building", "Coverage", "applies")
	if got := matchedText(words); got != "Building Coverage applies" {
		t.Errorf("matched text = %q", got)
	}
}
