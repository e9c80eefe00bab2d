package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/types"
)

var upgrader = websocket.Upgrader{}

// fakeEngine answers get_state, rejects cancel_task, and pushes one task
// event plus one log line after the first command arrives.
func fakeEngine(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		pushed := false
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ok := true
			out := frame{ID: f.ID, OK: &ok}
			switch f.Command {
			case gateway.CmdGetState:
				out.Result = json.RawMessage(`{"running_status":"idle"}`)
			case gateway.CmdCancelTask:
				notOK := false
				out.OK = &notOK
				out.Command = f.Command
				out.Error = "no such task"
			default:
				out.Result = json.RawMessage(`"task-xyz"`)
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
			if !pushed {
				pushed = true
				_ = conn.WriteJSON(frame{
					Channel: TaskChannel,
					Payload: json.RawMessage(`{"GrabTicketResult":{"task_id":"task-xyz","success":true}}`),
				})
				_ = conn.WriteJSON(frame{
					Channel: LogChannel,
					Payload: json.RawMessage(`"[ts] INFO: engine says hi"`),
				})
			}
		}
	}))
}

func dialTest(t *testing.T, srv *httptest.Server) *Bridge {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	b, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInvokeRoundTrip(t *testing.T) {
	srv := fakeEngine(t)
	defer srv.Close()
	b := dialTest(t, srv)

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
	srv := fakeEngine(t)
	defer srv.Close()
	b := dialTest(t, srv)

	_, err := b.Invoke(context.Background(), gateway.CmdCancelTask, gateway.Args{"taskId": "nope"})
	cmdErr, ok := err.(*gateway.CommandError)
	if !ok {
		t.Fatalf("err = %v, want CommandError", err)
	}
	if cmdErr.Message != "no such task" {
		t.Fatalf("message = %q", cmdErr.Message)
	}
}

func TestPushAndLogChannels(t *testing.T) {
	srv := fakeEngine(t)
	defer srv.Close()
	b := dialTest(t, srv)

	// First command triggers the fake engine's push frames.
	if _, err := b.Invoke(context.Background(), gateway.CmdGetState, nil); err != nil {
		t.Fatalf("invoke: %v", err)
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
		if line != "[ts] INFO: engine says hi" {
			t.Fatalf("log line = %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no log line received")
	}
}

func TestInvokeAfterCloseIsUnavailable(t *testing.T) {
	srv := fakeEngine(t)
	defer srv.Close()
	b := dialTest(t, srv)

	_ = b.Close()
	// Give the read loop a moment to observe the close.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := b.Invoke(context.Background(), gateway.CmdGetState, nil); err == gateway.ErrUnavailable {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("invoke never reported ErrUnavailable after close")
}
