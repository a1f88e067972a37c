package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsPipelineMetrics(t *testing.T) {
	c := NewCollector("test")

	c.ObserveDocumentStage("processed", "completed", 2*time.Second)
	c.ObserveDocumentStage("processed", "completed", time.Second)
	c.ObserveDocumentStage("classified", "failed", 500*time.Millisecond)
	c.StageSettled("processed", "completed")
	c.ObserveWorkflow("partial", 90*time.Second)

	if got := testutil.ToFloat64(c.stageDocuments.WithLabelValues("processed", "completed")); got != 2 {
		t.Errorf("processed completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.stageDocuments.WithLabelValues("classified", "failed")); got != 1 {
		t.Errorf("classified failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stageRuns.WithLabelValues("processed", "completed")); got != 1 {
		t.Errorf("stage runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workflows.WithLabelValues("partial")); got != 1 {
		t.Errorf("workflows partial = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.stageDuration); got != 2 {
		t.Errorf("stage duration series = %d, want 2", got)
	}
}

func TestCollectorRecordsLLMAndQueryMetrics(t *testing.T) {
	c := NewCollector("test")

	c.ObserveLLMCall("extraction", true, 3*time.Second, 1200, 300)
	c.ObserveLLMCall("extraction", false, time.Second, 0, 0)
	c.ObserveEmbedding(true, 24, 80*time.Millisecond)
	c.ObserveQuery("QA", true, 900*time.Millisecond)
	c.ObserveQueryStage("vector_retrieval", 120*time.Millisecond)
	c.CountBundle("imported")
	c.CountBundle("rejected")

	if got := testutil.ToFloat64(c.llmCalls.WithLabelValues("extraction", "ok")); got != 1 {
		t.Errorf("llm ok = %v", got)
	}
	if got := testutil.ToFloat64(c.llmCalls.WithLabelValues("extraction", "error")); got != 1 {
		t.Errorf("llm error = %v", got)
	}
	if got := testutil.ToFloat64(c.llmTokens.WithLabelValues("extraction", "prompt")); got != 1200 {
		t.Errorf("prompt tokens = %v", got)
	}
	if got := testutil.ToFloat64(c.embedTexts); got != 24 {
		t.Errorf("embed texts = %v", got)
	}
	if got := testutil.ToFloat64(c.queries.WithLabelValues("QA", "ok")); got != 1 {
		t.Errorf("queries = %v", got)
	}
	if got := testutil.ToFloat64(c.bundles.WithLabelValues("rejected")); got != 1 {
		t.Errorf("bundles rejected = %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveDocumentStage("processed", "completed", time.Second)
	c.StageSettled("processed", "completed")
	c.ObserveWorkflow("completed", time.Second)
	c.ObserveLLMCall("fast", true, time.Second, 10, 10)
	c.ObserveEmbedding(true, 1, time.Millisecond)
	c.ObserveQuery("QA", true, time.Second)
	c.ObserveQueryStage("planning", time.Millisecond)
	c.CountBundle("imported")
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollector("test")
	c.CountBundle("imported")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "test_bundles_total") {
		t.Errorf("body missing bundle counter:\n%s", body)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	c := NewCollector("test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
