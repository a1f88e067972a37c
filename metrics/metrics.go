// Package metrics exposes Prometheus instrumentation for the document
// pipeline and the query engine. A single Collector owns its registry, so
// independent instances (tests, embedded use) never fight over metric
// registration. Every recording method is safe on a nil receiver; components
// hold an optional *Collector and call it unconditionally.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "policygraph"

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	stageDuration    *prometheus.HistogramVec
	stageDocuments   *prometheus.CounterVec
	stageRuns        *prometheus.CounterVec
	workflows        *prometheus.CounterVec
	workflowDuration prometheus.Histogram

	llmCalls    *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	embedBatches  *prometheus.CounterVec
	embedTexts    prometheus.Counter
	embedDuration prometheus.Histogram

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	bundles *prometheus.CounterVec
}

// NewCollector builds a collector with its own registry under the given
// namespace. An empty namespace falls back to DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one document-stage execution, retries included.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		stageDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_documents_total",
			Help:      "Document-stage executions by terminal status.",
		}, []string{"stage", "status"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage aggregate settlements by status.",
		}, []string{"stage", "status"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Workflows finished by terminal status.",
		}, []string{"status"}),
		workflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall time from engine start to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM completions by capability and outcome.",
		}, []string{"capability", "status"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM completion latency, fallbacks and retries included.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"capability"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by capability and direction.",
		}, []string{"capability", "direction"}),

		embedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batch requests by outcome.",
		}, []string{"status"}),
		embedTexts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_texts_total",
			Help:      "Texts encoded across all batches.",
		}),
		embedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_duration_seconds",
			Help:      "Embedding batch latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Retrieval queries by intent and outcome.",
		}, []string{"intent", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_stage_duration_seconds",
			Help:      "Per-stage retrieval latency; stage \"total\" covers the whole query.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_total",
			Help:      "Artifact bundles presented to the importer, by outcome.",
		}, []string{"status"}),
	}

	registry.MustRegister(
		c.stageDuration,
		c.stageDocuments,
		c.stageRuns,
		c.workflows,
		c.workflowDuration,
		c.llmCalls,
		c.llmDuration,
		c.llmTokens,
		c.embedBatches,
		c.embedTexts,
		c.embedDuration,
		c.queries,
		c.queryDuration,
		c.bundles,
	)
	return c
}

// statusLabel folds a success flag into the shared ok/error label.
func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveDocumentStage records one document-stage execution.
func (c *Collector) ObserveDocumentStage(stage, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	c.stageDocuments.WithLabelValues(stage, status).Inc()
}

// StageSettled records a stage aggregate reaching a terminal status.
func (c *Collector) StageSettled(stage, status string) {
	if c == nil {
		return
	}
	c.stageRuns.WithLabelValues(stage, status).Inc()
}

// ObserveWorkflow records one workflow reaching a terminal status.
func (c *Collector) ObserveWorkflow(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.workflows.WithLabelValues(status).Inc()
	c.workflowDuration.Observe(d.Seconds())
}

// ObserveLLMCall records one completion attempt chain.
func (c *Collector) ObserveLLMCall(capability string, ok bool, d time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmCalls.WithLabelValues(capability, statusLabel(ok)).Inc()
	c.llmDuration.WithLabelValues(capability).Observe(d.Seconds())
	if promptTokens > 0 {
		c.llmTokens.WithLabelValues(capability, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokens.WithLabelValues(capability, "completion").Add(float64(completionTokens))
	}
}

// ObserveEmbedding records one encode batch.
func (c *Collector) ObserveEmbedding(ok bool, texts int, d time.Duration) {
	if c == nil {
		return
	}
	c.embedBatches.WithLabelValues(statusLabel(ok)).Inc()
	c.embedDuration.Observe(d.Seconds())
	if ok && texts > 0 {
		c.embedTexts.Add(float64(texts))
	}
}

// ObserveQuery records one retrieval query end to end.
func (c *Collector) ObserveQuery(intent string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(intent, statusLabel(ok)).Inc()
	c.queryDuration.WithLabelValues("total").Observe(d.Seconds())
}

// ObserveQueryStage records one retrieval pipeline stage.
func (c *Collector) ObserveQueryStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.queryDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CountBundle records one bundle outcome: imported, rejected, or failed.
func (c *Collector) CountBundle(status string) {
	if c == nil {
		return
	}
	c.bundles.WithLabelValues(status).Inc()
}

// Registry returns the collector's registry for additional registrations,
// such as a watcher drop-count gauge wired at startup.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends. The listener error is
// returned only when it is not the ordinary close on shutdown.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
