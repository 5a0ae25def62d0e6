package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/chatflow/types"
)

// Result is one replica outcome delivered by StreamMany and StreamBatch.
type Result struct {
	// Index is the replica position (the input position for StreamBatch).
	Index int
	Chat  *Chat
	Err   error
}

// RunMany runs n replicas with the workflow inputs. Results keep replica order.
// Under PolicySkip failed chats are dropped; under PolicyRaise the first
// replica error is returned once every replica has finished.
func (w *ChatWorkflow) RunMany(ctx context.Context, n, maxSteps int) ([]*Chat, error) {
	return w.fanOut(ctx, w.replicaInputs(n), maxSteps)
}

// RunBatch runs one replica per entry of batch, each merged over the workflow
// inputs. Results keep input order.
func (w *ChatWorkflow) RunBatch(ctx context.Context, batch []map[string]any, maxSteps int) ([]*Chat, error) {
	return w.fanOut(ctx, w.batchInputs(batch), maxSteps)
}

// StreamMany is RunMany delivering results in completion order.
// The channel is closed when every replica has finished.
func (w *ChatWorkflow) StreamMany(ctx context.Context, n, maxSteps int) <-chan Result {
	return w.stream(ctx, w.replicaInputs(n), maxSteps)
}

// StreamBatch is RunBatch delivering results in completion order.
func (w *ChatWorkflow) StreamBatch(ctx context.Context, batch []map[string]any, maxSteps int) <-chan Result {
	return w.stream(ctx, w.batchInputs(batch), maxSteps)
}

func (w *ChatWorkflow) replicaInputs(n int) []map[string]any {
	inputs := make([]map[string]any, max(n, 0))
	for i := range inputs {
		inputs[i] = w.inputs
	}
	return inputs
}

func (w *ChatWorkflow) batchInputs(batch []map[string]any) []map[string]any {
	inputs := make([]map[string]any, len(batch))
	for i, params := range batch {
		merged := maps.Clone(w.inputs)
		if merged == nil {
			merged = make(map[string]any, len(params))
		}
		maps.Copy(merged, params)
		inputs[i] = merged
	}
	return inputs
}

// group returns an errgroup without a derived context: a failing replica never
// cancels its siblings.
func (w *ChatWorkflow) group() *errgroup.Group {
	var eg errgroup.Group
	if w.maxParallel > 0 {
		eg.SetLimit(w.maxParallel)
	}
	return &eg
}

func (w *ChatWorkflow) fanOut(ctx context.Context, inputs []map[string]any, maxSteps int) ([]*Chat, error) {
	results := make([]*Chat, len(inputs))
	eg := w.group()
	for i, in := range inputs {
		eg.Go(func() error {
			chat, err := w.run(types.WithReplica(ctx, i), in, maxSteps)
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			results[i] = chat
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if w.policy == PolicySkip {
		results = slices.DeleteFunc(results, (*Chat).Failed)
	}
	return results, nil
}

func (w *ChatWorkflow) stream(ctx context.Context, inputs []map[string]any, maxSteps int) <-chan Result {
	out := make(chan Result, len(inputs))
	go func() {
		defer close(out)
		eg := w.group()
		for i, in := range inputs {
			eg.Go(func() error {
				chat, err := w.run(types.WithReplica(ctx, i), in, maxSteps)
				if err == nil && w.policy == PolicySkip && chat.Failed() {
					return nil
				}
				out <- Result{Index: i, Chat: chat, Err: err}
				return nil
			})
		}
		_ = eg.Wait()
	}()
	return out
}
