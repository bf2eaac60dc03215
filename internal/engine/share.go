package engine

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/incr/internal/ir"
)

// Share runs the execution of a task. It is the one place where concurrent
// executions of the same key may be coalesced.
type Share interface {
	Share(ctx context.Context, key ir.TaskKey, exec func() (ir.TaskData, error)) (ir.TaskData, error)
}

// NoShare runs every execution directly. It is the default.
type NoShare struct{}

// Share implements Share.
func (NoShare) Share(_ context.Context, _ ir.TaskKey, exec func() (ir.TaskData, error)) (ir.TaskData, error) {
	return exec()
}

// SingleflightShare coalesces concurrent executions of the same key: while
// one execution is in flight, other callers for that key wait for it and
// receive its result instead of running the body again.
//
// Sessions serialize through the store's write transaction, so calls only
// overlap when task bodies fan requires out over goroutines. Such bodies
// must serialize their own use of the ExecContext.
type SingleflightShare struct {
	group singleflight.Group
}

// NewSingleflightShare creates a SingleflightShare.
func NewSingleflightShare() *SingleflightShare {
	return &SingleflightShare{}
}

// Share implements Share. A panic in exec reaches every waiting caller
// wrapped in singleflight's panic error, which carries the original value
// and stack.
func (s *SingleflightShare) Share(_ context.Context, key ir.TaskKey, exec func() (ir.TaskData, error)) (ir.TaskData, error) {
	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		return exec()
	})
	if err != nil {
		return ir.TaskData{}, err
	}
	return v.(ir.TaskData), nil
}
