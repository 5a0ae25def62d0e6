package llm

import "time"

// Observer 接收 Generator 的调用级观测数据（由 internal/metrics.Collector 实现）。
type Observer interface {
	ObserveAttempt(provider, model, status string, duration time.Duration, usage ChatUsage)
	ObserveThrottleWait(limiterID string, waited time.Duration)
	ObserveRetry(provider string, attempt int)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, string, time.Duration, ChatUsage) {}
func (nopObserver) ObserveThrottleWait(string, time.Duration)                      {}
func (nopObserver) ObserveRetry(string, int)                                        {}
