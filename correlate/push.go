package correlate

import (
	"context"
	"fmt"
	"sync"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

// Push correlates tasks against results delivered by the event dispatcher.
// Wire Deliver as the dispatcher handler for result-bearing push tags.
type Push struct {
	gw gateway.Gateway

	mu      sync.Mutex
	reg     *registry
	waiters map[string]chan types.TaskResult
}

// NewPush returns a push-strategy correlator invoking commands through gw.
func NewPush(gw gateway.Gateway) *Push {
	return &Push{
		gw:      gw,
		reg:     newRegistry(),
		waiters: make(map[string]chan types.TaskResult),
	}
}

func (p *Push) StartTask(ctx context.Context, kind types.TaskKind, command string, args gateway.Args) (string, error) {
	id, err := gateway.InvokeString(ctx, p.gw, command, args)
	if err != nil {
		return "", fmt.Errorf("start %s task: %w", kind, err)
	}
	p.mu.Lock()
	p.reg.open(id, kind)
	p.waiters[id] = make(chan types.TaskResult, 1)
	p.mu.Unlock()
	return id, nil
}

// Deliver hands a pushed result to its waiter. Results for unknown,
// forgotten, or already-settled task ids are dropped. The waiter channel
// is buffered, so delivery never blocks the dispatcher.
func (p *Push) Deliver(res types.TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reg.settle(res.TaskID) {
		return
	}
	if ch, ok := p.waiters[res.TaskID]; ok {
		ch <- res
	}
}

func (p *Push) Await(ctx context.Context, taskID string) (types.TaskResult, error) {
	p.mu.Lock()
	kind, known := p.reg.kind(taskID)
	ch := p.waiters[taskID]
	p.mu.Unlock()
	if !known || ch == nil {
		return types.TaskResult{}, fmt.Errorf("task %s: %w", taskID, ErrForgotten)
	}

	select {
	case <-ctx.Done():
		p.Forget(taskID)
		return types.TaskResult{}, fmt.Errorf("await %s task: %w", kind, ctx.Err())
	case res := <-ch:
		p.mu.Lock()
		delete(p.waiters, taskID)
		p.mu.Unlock()
		if err := resultError(kind, res); err != nil {
			return types.TaskResult{}, err
		}
		return res, nil
	}
}

func (p *Push) Forget(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg.settle(taskID)
	delete(p.waiters, taskID)
}
