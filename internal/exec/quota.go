package exec

import (
	"errors"
	"fmt"
)

// StepQuota bounds the number of op executions per module attempt,
// including repair re-executions. A module whose repairs keep failing hits
// the quota instead of looping forever; the executor then escalates to the
// resume planner.
type StepQuota struct {
	maxSteps int
	current  int
}

// NewStepQuota creates a quota with the given per-module limit.
func NewStepQuota(maxSteps int) *StepQuota {
	return &StepQuota{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
// Called before each op execution.
func (q *StepQuota) Check(moduleID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			ModuleID: moduleID,
			Steps:    q.current,
			Limit:    q.maxSteps,
		}
	}
	return nil
}

// Reset resets the counter for a fresh module attempt.
func (q *StepQuota) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *StepQuota) Current() int {
	return q.current
}

// StepsExceededError is returned when a module attempt exceeds its step
// quota. It terminates the attempt; the caller decides whether to replan.
type StepsExceededError struct {
	ModuleID string
	Steps    int
	Limit    int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("module %s exceeded step quota: %d steps > %d limit",
		e.ModuleID, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err is a StepsExceededError,
// unwrapping as needed.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
