package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

// PollOption tunes a Poll correlator.
type PollOption func(*Poll)

// WithAttempts overrides the attempt budget.
func WithAttempts(n int) PollOption {
	return func(p *Poll) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInterval overrides the delay between attempts.
func WithInterval(d time.Duration) PollOption {
	return func(p *Poll) {
		if d > 0 {
			p.interval = d
		}
	}
}

// Poll correlates tasks by repeatedly draining the engine's shared result
// queue. Every drain returns results for all callers' tasks mixed together,
// so each Await scans whole batches for its own id and leaves the rest.
type Poll struct {
	gw       gateway.Gateway
	attempts int
	interval time.Duration

	mu  sync.Mutex
	reg *registry
}

// NewPoll returns a poll-strategy correlator invoking commands through gw.
func NewPoll(gw gateway.Gateway, opts ...PollOption) *Poll {
	p := &Poll{
		gw:       gw,
		attempts: DefaultAttempts,
		interval: DefaultInterval,
		reg:      newRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poll) StartTask(ctx context.Context, kind types.TaskKind, command string, args gateway.Args) (string, error) {
	id, err := gateway.InvokeString(ctx, p.gw, command, args)
	if err != nil {
		return "", fmt.Errorf("start %s task: %w", kind, err)
	}
	p.mu.Lock()
	p.reg.open(id, kind)
	p.mu.Unlock()
	return id, nil
}

func (p *Poll) Await(ctx context.Context, taskID string) (types.TaskResult, error) {
	p.mu.Lock()
	kind, known := p.reg.kind(taskID)
	tracked := !p.reg.settled(taskID) && known
	p.mu.Unlock()
	if !tracked {
		return types.TaskResult{}, fmt.Errorf("task %s: %w", taskID, ErrForgotten)
	}

	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				p.Forget(taskID)
				return types.TaskResult{}, fmt.Errorf("await %s task: %w", kind, ctx.Err())
			case <-time.After(p.interval):
			}
		}

		raw, err := p.gw.Invoke(ctx, gateway.CmdPollTaskResults, nil)
		if err != nil {
			return types.TaskResult{}, fmt.Errorf("poll %s task: %w", kind, err)
		}
		batch, err := types.DecodeResultBatch(raw)
		if err != nil {
			return types.TaskResult{}, fmt.Errorf("poll %s task: %w", kind, err)
		}

		for _, res := range batch {
			if res.TaskID != taskID {
				continue
			}
			// Re-check under the lock: the task may have been forgotten
			// while this batch was in flight.
			p.mu.Lock()
			claimed := p.reg.settle(taskID)
			p.mu.Unlock()
			if !claimed {
				return types.TaskResult{}, fmt.Errorf("task %s: %w", taskID, ErrForgotten)
			}
			if err := resultError(kind, res); err != nil {
				return types.TaskResult{}, err
			}
			return res, nil
		}

		p.mu.Lock()
		still := !p.reg.settled(taskID)
		p.mu.Unlock()
		if !still {
			return types.TaskResult{}, fmt.Errorf("task %s: %w", taskID, ErrForgotten)
		}
	}

	p.Forget(taskID)
	return types.TaskResult{}, fmt.Errorf("%s task: %w", kind, ErrTimeout)
}

func (p *Poll) Forget(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg.settle(taskID)
}
