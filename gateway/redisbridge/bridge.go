// Package redisbridge talks to an automation engine running in a separate
// process through a shared Redis. Commands travel over a list with
// per-request reply keys; the push and log channels arrive over Pub/Sub.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

const (
	defaultPrefix  = "tkr"
	defaultTimeout = 10 * time.Second
	eventBuffer    = 256
)

type Bridge struct {
	client  *goredis.Client
	prefix  string
	timeout time.Duration

	addr     string
	db       int
	password string

	pubsub *goredis.PubSub
	events chan types.PushEvent
	logs   chan string
}

type Option func(*Bridge)

func WithPassword(password string) Option {
	return func(b *Bridge) {
		b.password = password
	}
}

func WithDB(db int) Option {
	return func(b *Bridge) {
		b.db = db
	}
}

func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		if strings.TrimSpace(prefix) != "" {
			b.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(b *Bridge) {
		if client != nil {
			b.client = client
		}
	}
}

func New(ctx context.Context, addr string, opts ...Option) (*Bridge, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	b := &Bridge{
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		addr:    addr,
		events:  make(chan types.PushEvent, eventBuffer),
		logs:    make(chan string, eventBuffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = goredis.NewClient(&goredis.Options{
			Addr:     b.addr,
			Password: b.password,
			DB:       b.db,
		})
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b.pubsub = b.client.Subscribe(ctx, b.taskChannel(), b.logChannel())
	go b.pump()
	return b, nil
}

func (b *Bridge) commandsKey() string { return b.prefix + ":commands" }
func (b *Bridge) replyKey(id string) string {
	return b.prefix + ":reply:" + id
}
func (b *Bridge) taskChannel() string { return b.prefix + ":task-update" }
func (b *Bridge) logChannel() string { return b.prefix + ":log-event" }

func (b *Bridge) Events() <-chan types.PushEvent { return b.events }
func (b *Bridge) Logs() <-chan string { return b.logs }

type request struct {
	ID      string       `json:"id"`
	Command string       `json:"command"`
	Args    gateway.Args `json:"args,omitempty"`
}

type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (b *Bridge) Invoke(ctx context.Context, name string, args gateway.Args) (json.RawMessage, error) {
	if b == nil || b.client == nil {
		return nil, gateway.ErrUnavailable
	}
	id := uuid.NewString()
	payload, err := json.Marshal(request{ID: id, Command: name, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if err := b.client.LPush(ctx, b.commandsKey(), payload).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	vals, err := b.client.BRPop(ctx, b.timeout, b.replyKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%s: engine did not reply within %s", name, b.timeout)
		}
		return nil, fmt.Errorf("await %s reply: %w", name, err)
	}
	var resp response
	if err := json.Unmarshal([]byte(vals[1]), &resp); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", name, err)
	}
	if !resp.OK {
		return nil, &gateway.CommandError{Name: name, Message: resp.Error}
	}
	return resp.Result, nil
}

func (b *Bridge) pump() {
	defer func() {
		close(b.events)
		close(b.logs)
	}()
	for msg := range b.pubsub.Channel() {
		switch msg.Channel {
		case b.taskChannel():
			ev, err := types.DecodePushEvent([]byte(msg.Payload))
			if err != nil {
				log.Printf("redisbridge: bad push payload dropped: %v", err)
				continue
			}
			b.events <- ev
		case b.logChannel():
			b.logs <- msg.Payload
		}
	}
}

func (b *Bridge) Close() error {
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
