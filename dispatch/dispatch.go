// Package dispatch routes pushed engine traffic to interested components.
// One dispatcher owns the transport's event and log channels; results fan
// out through a tag-keyed handler table, log lines land in the ring buffer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ticketrush/coordinator/logbuf"
	"github.com/ticketrush/coordinator/types"
)

// ErrAlreadyRunning means Run was called twice; the push channels carry a
// single stream and must have exactly one consumer.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Handler consumes a routed task result.
type Handler func(types.TaskResult)

// Always is an activity gate that never suppresses delivery.
func Always() bool { return true }

type route struct {
	active func() bool
	fn     Handler
}

// Dispatcher demultiplexes the engine's push stream. Handlers are
// registered per result tag before Run; each carries an activity gate
// consulted at delivery time, so a handler for a dismissed view drops
// its events instead of acting on them.
type Dispatcher struct {
	logs  *logbuf.Buffer
	onLog func()
	onRaw func(types.PushEvent)

	mu      sync.Mutex
	routes  map[types.ResultTag]route
	running bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogNotify registers fn to run after a log line changes the buffer.
func WithLogNotify(fn func()) Option {
	return func(d *Dispatcher) { d.onLog = fn }
}

// WithEventTap registers fn to observe every decoded push event, routed or
// not. Used by the history store to archive the full stream.
func WithEventTap(fn func(types.PushEvent)) Option {
	return func(d *Dispatcher) { d.onRaw = fn }
}

// New returns a dispatcher that feeds log-channel lines into logs.
func New(logs *logbuf.Buffer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logs:   logs,
		routes: make(map[types.ResultTag]route),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds fn to tag. The active gate may be nil, meaning always
// deliver. Registering the same tag twice is a wiring bug.
func (d *Dispatcher) Register(tag types.ResultTag, active func() bool, fn Handler) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil handler", tag)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.routes[tag]; dup {
		return fmt.Errorf("register %s: tag already routed", tag)
	}
	d.routes[tag] = route{active: active, fn: fn}
	return nil
}

// Run consumes events and logLines until ctx is done or both channels
// close. It owns the channels for its lifetime; a second concurrent Run
// returns ErrAlreadyRunning.
func (d *Dispatcher) Run(ctx context.Context, events <-chan types.PushEvent, logLines <-chan string) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	for events != nil || logLines != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.deliver(ev)
		case line, ok := <-logLines:
			if !ok {
				logLines = nil
				continue
			}
			d.ingestLog(line)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ev types.PushEvent) {
	if d.onRaw != nil {
		d.onRaw(ev)
	}
	d.mu.Lock()
	r, ok := d.routes[ev.Tag]
	d.mu.Unlock()
	if !ok {
		log.Printf("dispatch: dropping push event with unrouted tag %q", ev.Tag)
		return
	}
	if r.active != nil && !r.active() {
		return
	}
	res, err := ev.Result()
	if err != nil {
		log.Printf("dispatch: malformed %s event: %v", ev.Tag, err)
		return
	}
	r.fn(res)
}

func (d *Dispatcher) ingestLog(line string) {
	if d.logs == nil {
		return
	}
	if d.logs.Ingest(line) && d.onLog != nil {
		d.onLog()
	}
}
