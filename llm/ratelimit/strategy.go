package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Strategy describes how a Limiter admits calls.
type Strategy struct {
	// MinInterval is the minimum spacing between consecutive call starts. 0 disables pacing.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	// MaxConcurrent bounds the number of in-flight calls. <= 0 means unbounded.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// ErrInvalidStrategy is returned for strategies that cannot be enforced.
var ErrInvalidStrategy = errors.New("invalid rate limit strategy")

// FromRPM builds a strategy allowing rpm call starts per minute.
func FromRPM(rpm float64, maxConcurrent int) (Strategy, error) {
	if rpm <= 0 {
		return Strategy{}, fmt.Errorf("%w: rpm must be positive, got %v", ErrInvalidStrategy, rpm)
	}
	return Strategy{
		MinInterval:   time.Duration(float64(time.Minute) / rpm),
		MaxConcurrent: maxConcurrent,
	}, nil
}

// Validate checks the strategy.
func (s Strategy) Validate() error {
	if s.MinInterval < 0 {
		return fmt.Errorf("%w: negative min interval %v", ErrInvalidStrategy, s.MinInterval)
	}
	return nil
}

// Unbounded reports whether the strategy admits any number of concurrent calls.
func (s Strategy) Unbounded() bool {
	return s.MaxConcurrent <= 0
}

func (s Strategy) String() string {
	if s.Unbounded() {
		return fmt.Sprintf("min_interval=%s max_concurrent=unbounded", s.MinInterval)
	}
	return fmt.Sprintf("min_interval=%s max_concurrent=%d", s.MinInterval, s.MaxConcurrent)
}
