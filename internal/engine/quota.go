package engine

import (
	"errors"
	"fmt"
)

// executionQuota counts executions in a session and enforces an optional
// limit (WithMaxExecutions).
//
// Cycle detection catches tasks that require themselves. The quota catches
// the other way a build can run away: a task definition that derives a new
// key on every execution and so keeps requiring fresh tasks.
type executionQuota struct {
	max     int // 0 means unlimited
	current int
}

func newExecutionQuota(max int) *executionQuota {
	return &executionQuota{max: max}
}

// Check increments the execution count and validates it against the limit.
func (q *executionQuota) Check(sessionID string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return &ExecutionsExceededError{
			SessionID:  sessionID,
			Executions: q.current,
			Limit:      q.max,
		}
	}
	return nil
}

// Current returns the number of executions so far.
func (q *executionQuota) Current() int {
	return q.current
}

// ExecutionsExceededError is returned when a session executes more tasks
// than WithMaxExecutions allows. It is fatal.
type ExecutionsExceededError struct {
	SessionID  string
	Executions int
	Limit      int
}

// Error implements the error interface.
func (e *ExecutionsExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded max executions quota: %d executions > %d limit",
		e.SessionID, e.Executions, e.Limit)
}

// IsExecutionsExceededError returns true if the error is an
// ExecutionsExceededError. Uses errors.As to handle wrapped errors.
func IsExecutionsExceededError(err error) bool {
	var ee *ExecutionsExceededError
	return errors.As(err, &ee)
}
