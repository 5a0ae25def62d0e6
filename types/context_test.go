package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithWorkflowName(ctx, "triage")
	if got, ok := WorkflowName(ctx); !ok || got != "triage" {
		t.Fatalf("WorkflowName mismatch: %v %v", got, ok)
	}

	ctx = WithReplica(ctx, 3)
	if got, ok := Replica(ctx); !ok || got != 3 {
		t.Fatalf("Replica mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatalf("empty run id should not be reported")
	}
	if _, ok := Replica(context.Background()); ok {
		t.Fatalf("replica should be absent")
	}
}
