package workflow

import "time"

// Observer 接收运行级与步骤级观测数据（由 internal/metrics.Collector 实现）。
type Observer interface {
	ObserveRun(workflow, status string, duration time.Duration, steps int)
	ObserveStep(workflow, role string)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, string, time.Duration, int) {}
func (nopObserver) ObserveStep(string, string)                    {}
