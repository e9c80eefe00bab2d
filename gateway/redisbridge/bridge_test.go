package redisbridge

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty addr")
	}
}

func newTestBridge(t *testing.T) (*Bridge, *goredis.Client, string) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	prefix := "tkr-test-" + uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	b, err := New(ctx, addr, WithPrefix(prefix), WithTimeout(2*time.Second))
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	engine := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		keys, _ := engine.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = engine.Del(ctx, keys...).Err()
		}
		_ = engine.Close()
		_ = b.Close()
	})
	return b, engine, prefix
}

// runFakeEngine services exactly one command from the shared list.
func runFakeEngine(t *testing.T, engine *goredis.Client, prefix string, handle func(req request) response) {
	t.Helper()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		vals, err := engine.BRPop(ctx, 4*time.Second, prefix+":commands").Result()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal([]byte(vals[1]), &req); err != nil {
			return
		}
		resp, _ := json.Marshal(handle(req))
		_ = engine.LPush(ctx, prefix+":reply:"+req.ID, resp).Err()
	}()
}

func TestInvokeRoundTrip(t *testing.T) {
	b, engine, prefix := newTestBridge(t)
	runFakeEngine(t, engine, prefix, func(req request) response {
		if req.Command != gateway.CmdGetState {
			return response{OK: false, Error: "unexpected command"}
		}
		return response{OK: true, Result: json.RawMessage(`{"running_status":"idle"}`)}
	})

	reply, err := b.Invoke(context.Background(), gateway.CmdGetState, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var state struct {
		RunningStatus string `json:"running_status"`
	}
	if err := json.Unmarshal(reply, &state); err != nil || state.RunningStatus != "idle" {
		t.Fatalf("reply = %s, err = %v", reply, err)
	}
}

func TestInvokeEngineRejection(t *testing.T) {
	b, engine, prefix := newTestBridge(t)
	runFakeEngine(t, engine, prefix, func(req request) response {
		return response{OK: false, Error: "task not found"}
	})

	_, err := b.Invoke(context.Background(), gateway.CmdCancelTask, gateway.Args{"taskId": "x"})
	cmdErr, ok := err.(*gateway.CommandError)
	if !ok {
		t.Fatalf("err = %v, want CommandError", err)
	}
	if cmdErr.Message != "task not found" {
		t.Fatalf("message = %q", cmdErr.Message)
	}
}

func TestPushChannels(t *testing.T) {
	b, engine, prefix := newTestBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := engine.Publish(ctx, prefix+":task-update",
		`{"GrabTicketResult":{"task_id":"t1","success":true}}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := engine.Publish(ctx, prefix+":log-event", "[ts] INFO: hello").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-b.Events():
		if ev.Tag != types.TagGrabTicket {
			t.Fatalf("event tag = %q", ev.Tag)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no push event received")
	}
	select {
	case line := <-b.Logs():
		if line != "[ts] INFO: hello" {
			t.Fatalf("log line = %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no log line received")
	}
}
