package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/chatflow/types"
)

// 运行状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is the persisted outcome of one run.
type Record struct {
	RunID      string          `json:"run_id"`
	Workflow   string          `json:"workflow"`
	Status     string          `json:"status"`
	Messages   []types.Message `json:"messages"`
	Inputs     map[string]any  `json:"inputs,omitempty"`
	Data       map[string]any  `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Steps      int             `json:"steps"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration returns how long the run took.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recorder persists finished runs. workflow/store provides implementations.
type Recorder interface {
	Save(ctx context.Context, runID string, rec *Record) error
}

// newRecord summarises a run. chat may be nil when a run failed under PolicyRaise.
func newRecord(runID, name string, chat *Chat, last *Step, runErr error, started time.Time) *Record {
	rec := &Record{
		RunID:      runID,
		Workflow:   name,
		Status:     StatusSuccess,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if last != nil {
		rec.Steps = last.Index + 1
	}
	source := chat
	if source == nil && last != nil {
		source = last.Chat
	}
	if source != nil {
		rec.Messages = source.Clone().Messages
		if source.Context != nil {
			rec.Inputs = source.Context.Inputs()
			rec.Data = source.Context.Data()
		}
		if source.Err != nil && runErr == nil {
			runErr = source.Err
		}
	}
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	}
	return rec
}
