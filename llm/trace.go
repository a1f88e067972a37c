package llm

import "context"

// TraceContext scopes recorded calls to the pipeline work that made
// them. The engine attaches one before invoking a stage; zero fields are
// stored as null.
type TraceContext struct {
	WorkflowID *int64
	DocumentID *int64
	Stage      string
}

type traceKey struct{}

// WithTraceContext returns a context whose completions are attributed to
// the given workflow, document, and stage in call history.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// GetTraceContext returns the attribution carried by ctx, or a zero
// scope.
func GetTraceContext(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceKey{}).(TraceContext)
	return tc
}
