// Package correlate matches asynchronous engine results back to the task
// ids that caused them. Two strategies exist behind one interface: push
// delivery from the event dispatcher, and a bounded polling loop over the
// engine's shared result queue. Either way a task id resolves at most once.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

const (
	// DefaultAttempts and DefaultInterval bound the polling strategy:
	// 30 attempts spaced 500 ms apart, a 15 s ceiling.
	DefaultAttempts = 30
	DefaultInterval = 500 * time.Millisecond
)

// ErrTimeout means a poll-based correlation exhausted its attempt budget.
var ErrTimeout = errors.New("task timed out")

// ErrForgotten means the task id was cancelled or abandoned before a result
// arrived; any later result for it is ignored.
var ErrForgotten = errors.New("task no longer tracked")

// EngineError is a well-formed result the engine reports as failed.
type EngineError struct {
	Kind    types.TaskKind
	Message string
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s task failed", e.Kind)
	}
	return fmt.Sprintf("%s task failed: %s", e.Kind, e.Message)
}

// Correlator starts tasks on the engine and resolves their eventual
// results. Implementations guarantee at most one terminal resolution
// (success, engine error, or timeout) per task id.
type Correlator interface {
	// StartTask submits the command and returns the engine-minted task id.
	StartTask(ctx context.Context, kind types.TaskKind, command string, args gateway.Args) (string, error)
	// Await blocks until the task resolves or ctx is done.
	Await(ctx context.Context, taskID string) (types.TaskResult, error)
	// Forget drops local tracking; later results for the id are ignored.
	Forget(taskID string)
}

// settledRetention bounds how many settled ids the registry remembers in a
// long-lived session. An aged-out id is no longer in tasks either, so a
// stale result for it still cannot resolve twice.
const settledRetention = 4096

// registry tracks open and settled task ids. Shared by both strategies.
// Kinds survive settlement so a late Await can still name the task.
type registry struct {
	tasks    map[string]types.Task
	kinds    map[string]types.TaskKind
	resolved map[string]struct{}
	order    []string
}

func newRegistry() *registry {
	return &registry{
		tasks:    make(map[string]types.Task),
		kinds:    make(map[string]types.TaskKind),
		resolved: make(map[string]struct{}),
	}
}

func (r *registry) open(id string, kind types.TaskKind) {
	r.tasks[id] = types.Task{ID: id, Kind: kind, SubmittedAt: time.Now()}
	r.kinds[id] = kind
}

func (r *registry) kind(id string) (types.TaskKind, bool) {
	k, ok := r.kinds[id]
	return k, ok
}

// settle marks the id resolved. Returns false when it was already settled
// or never tracked, in which case the caller must ignore the result.
func (r *registry) settle(id string) bool {
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	if _, done := r.resolved[id]; done {
		return false
	}
	r.resolved[id] = struct{}{}
	delete(r.tasks, id)
	r.order = append(r.order, id)
	for len(r.order) > settledRetention {
		old := r.order[0]
		r.order = r.order[1:]
		delete(r.resolved, old)
		delete(r.kinds, old)
	}
	return true
}

func (r *registry) settled(id string) bool {
	_, done := r.resolved[id]
	return done
}

func resultError(kind types.TaskKind, res types.TaskResult) error {
	if res.Success {
		return nil
	}
	return &EngineError{Kind: kind, Message: res.Message}
}
