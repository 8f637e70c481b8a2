package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"relic/go-backend/internal/platform/logging"
)

var (
	// ErrRuntimeUnavailable is returned when an execution context cannot be
	// constructed. It is fatal only to the thread that tried.
	ErrRuntimeUnavailable = errors.New("execution context unavailable")
	ErrRuntimeBusy        = errors.New("execution context already driving a task")
)

// PanicError carries a panic recovered from a runtime task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

type RuntimeOptions struct {
	Logger *slog.Logger
}

// Runtime is an isolated execution context: a group of logical tasks
// multiplexed by the Go scheduler, driven by one top-level computation.
// Tasks share a context that is cancelled once any of them fails; nothing
// else can cancel it.
type Runtime struct {
	ctx     context.Context
	group   *errgroup.Group
	logger  *slog.Logger
	driving atomic.Bool
}

func NewRuntime(parent context.Context, opts RuntimeOptions) (*Runtime, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: nil parent context", ErrRuntimeUnavailable)
	}
	if err := parent.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
	}
	group, ctx := errgroup.WithContext(parent)
	return &Runtime{
		ctx:    ctx,
		group:  group,
		logger: logging.OrDefault(opts.Logger).With("component", "runtime"),
	}, nil
}

// Context is shared by every task of the runtime.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Go spawns an additional task. A panic inside it is converted to *PanicError
// instead of unwinding into the host process.
func (rt *Runtime) Go(task func(context.Context) error) {
	rt.group.Go(func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = &PanicError{Value: v, Stack: debug.Stack()}
				rt.logger.Error("task panicked", "operation", "task", "panic", fmt.Sprint(v))
			}
		}()
		return task(rt.ctx)
	})
}

// BlockOn drives top as the runtime's top-level computation and blocks the
// calling goroutine until it and every spawned task have returned. It returns
// the first task error. A runtime drives at most one top-level computation.
func (rt *Runtime) BlockOn(top func(context.Context) error) error {
	if !rt.driving.CompareAndSwap(false, true) {
		return ErrRuntimeBusy
	}
	rt.Go(top)
	return rt.group.Wait()
}
