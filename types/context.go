package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID      contextKey = "trace_id"
	keyRunID        contextKey = "run_id"
	keyWorkflowName contextKey = "workflow_name"
	keyReplica      contextKey = "replica"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithWorkflowName adds the workflow name to context.
func WithWorkflowName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyWorkflowName, name)
}

// WorkflowName extracts the workflow name from context.
func WorkflowName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkflowName).(string)
	return v, ok && v != ""
}

// WithReplica adds the replica index of a fan-out run to context.
func WithReplica(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, keyReplica, index)
}

// Replica extracts the replica index from context.
func Replica(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyReplica).(int)
	return v, ok
}
