// Package wsbridge connects the coordination core to the automation engine
// over a WebSocket. Command replies are correlated to requests by frame id;
// unsolicited frames carry the push and log channels.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

const (
	// TaskChannel delivers tagged task results the engine sends unprompted.
	TaskChannel = "task-update"
	// LogChannel delivers raw log lines.
	LogChannel = "log-event"

	eventBuffer = 256
)

type frame struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    gateway.Args    `json:"args,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type reply struct {
	result json.RawMessage
	err    error
}

// Bridge implements gateway.Gateway over a single WebSocket connection.
type Bridge struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool

	done   chan struct{}
	events chan types.PushEvent
	logs   chan string
}

// Dial connects to the engine at the given ws:// or wss:// URL.
func Dial(ctx context.Context, url string) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine at %s: %w", url, err)
	}
	return NewFromConn(conn), nil
}

// NewFromConn wraps an established connection. The bridge owns the
// connection from here on.
func NewFromConn(conn *websocket.Conn) *Bridge {
	b := &Bridge{
		conn:    conn,
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
		events:  make(chan types.PushEvent, eventBuffer),
		logs:    make(chan string, eventBuffer),
	}
	go b.readLoop()
	return b
}

// Events is the push channel: task results the engine sends unprompted, in
// delivery order. Closed when the bridge shuts down.
func (b *Bridge) Events() <-chan types.PushEvent {
	return b.events
}

// Logs is the log-line channel. Closed when the bridge shuts down.
func (b *Bridge) Logs() <-chan string {
	return b.logs
}

func (b *Bridge) Invoke(ctx context.Context, name string, args gateway.Args) (json.RawMessage, error) {
	if b == nil {
		return nil, gateway.ErrUnavailable
	}
	id := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, gateway.ErrUnavailable
	}
	b.pending[id] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	err := b.conn.WriteJSON(frame{ID: id, Command: name, Args: args})
	b.writeMu.Unlock()
	if err != nil {
		b.forget(id)
		return nil, fmt.Errorf("send %s: %w", name, err)
	}

	select {
	case <-ctx.Done():
		b.forget(id)
		return nil, ctx.Err()
	case <-b.done:
		return nil, gateway.ErrUnavailable
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.result, nil
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) readLoop() {
	defer func() {
		b.mu.Lock()
		b.closed = true
		pending := b.pending
		b.pending = make(map[string]chan reply)
		b.mu.Unlock()
		for _, ch := range pending {
			ch <- reply{err: gateway.ErrUnavailable}
		}
		close(b.done)
		close(b.events)
		close(b.logs)
	}()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("wsbridge: malformed frame dropped: %v", err)
			continue
		}
		switch {
		case f.Channel == TaskChannel:
			ev, err := types.DecodePushEvent(f.Payload)
			if err != nil {
				log.Printf("wsbridge: bad push payload dropped: %v", err)
				continue
			}
			b.events <- ev
		case f.Channel == LogChannel:
			var line string
			if err := json.Unmarshal(f.Payload, &line); err != nil {
				line = string(f.Payload)
			}
			b.logs <- line
		case f.ID != "":
			b.deliver(f)
		default:
			log.Printf("wsbridge: frame with no id or channel dropped")
		}
	}
}

func (b *Bridge) deliver(f frame) {
	b.mu.Lock()
	ch, ok := b.pending[f.ID]
	if ok {
		delete(b.pending, f.ID)
	}
	b.mu.Unlock()
	if !ok {
		// Reply for a request whose caller already gave up.
		return
	}
	if f.OK != nil && !*f.OK {
		ch <- reply{err: &gateway.CommandError{Name: f.Command, Message: f.Error}}
		return
	}
	ch <- reply{result: f.Result}
}

// Close shuts the connection down; in-flight invokes fail with
// ErrUnavailable.
func (b *Bridge) Close() error {
	return b.conn.Close()
}
