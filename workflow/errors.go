package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorPolicy selects what a run does when a step fails.
type ErrorPolicy string

const (
	// PolicyRaise returns a *RunError.
	PolicyRaise ErrorPolicy = "raise"
	// PolicyReturn returns the partial chat with an error marker.
	PolicyReturn ErrorPolicy = "return"
	// PolicySkip is PolicyReturn, and fan-out operations drop failed chats.
	PolicySkip ErrorPolicy = "skip"
)

// ParseErrorPolicy parses a policy name. The empty string is PolicyRaise.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", PolicyRaise:
		return PolicyRaise, nil
	case PolicyReturn:
		return PolicyReturn, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown error policy %q", s)
}

// ErrNoSteps is the failure of a run that produced no step.
var ErrNoSteps = errors.New("no steps were executed")

// RunError describes a failed run.
type RunError struct {
	Message  string
	LastStep *Step
	Err      error
}

func (e *RunError) Error() string {
	if e.Err == nil || e.Message == e.Err.Error() {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

// MarshalJSON renders the marker as {"message": ...}.
func (e *RunError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message string `json:"message"`
	}{e.Error()})
}

// UnmarshalJSON restores the message; the cause and last step are not persisted.
func (e *RunError) UnmarshalJSON(b []byte) error {
	var v struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	e.Message = v.Message
	return nil
}

// IsRunError reports whether err is a *RunError.
func IsRunError(err error) bool {
	var re *RunError
	return errors.As(err, &re)
}
