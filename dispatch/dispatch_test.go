package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ticketrush/coordinator/logbuf"
	"github.com/ticketrush/coordinator/types"
)

func grabEvent(taskID string) types.PushEvent {
	return types.PushEvent{
		Tag:  types.TagGrabTicket,
		Body: json.RawMessage(`{"task_id":"` + taskID + `","success":true}`),
	}
}

// run starts the dispatcher in a goroutine and returns a stop function
// that closes the channels and waits for Run to return.
func run(t *testing.T, d *Dispatcher, events chan types.PushEvent, logs chan string) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), events, logs) }()
	return func() {
		close(events)
		close(logs)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Run did not return after channels closed")
		}
	}
}

func TestRoutesEventsByTag(t *testing.T) {
	d := New(logbuf.New())
	var mu sync.Mutex
	var got []string
	err := d.Register(types.TagGrabTicket, Always, func(res types.TaskResult) {
		mu.Lock()
		got = append(got, res.TaskID)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	events := make(chan types.PushEvent, 4)
	logs := make(chan string)
	stop := run(t, d, events, logs)
	events <- grabEvent("t1")
	events <- grabEvent("t2")
	stop()

	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("handled = %v, want [t1 t2]", got)
	}
}

func TestDuplicateTagRegistrationFails(t *testing.T) {
	d := New(logbuf.New())
	if err := d.Register(types.TagGrabTicket, nil, func(types.TaskResult) {}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := d.Register(types.TagGrabTicket, nil, func(types.TaskResult) {}); err == nil {
		t.Error("second Register for same tag should fail")
	}
}

func TestInactiveGateSuppressesDelivery(t *testing.T) {
	d := New(logbuf.New())
	var mu sync.Mutex
	var calls int
	active := false
	d.Register(types.TagGrabTicket, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active
	}, func(types.TaskResult) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	events := make(chan types.PushEvent, 4)
	logs := make(chan string)
	stop := run(t, d, events, logs)
	events <- grabEvent("dropped")
	mu.Lock()
	active = true
	mu.Unlock()
	events <- grabEvent("kept")
	stop()

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestUnroutedTagIsDropped(t *testing.T) {
	d := New(logbuf.New())
	events := make(chan types.PushEvent, 1)
	logs := make(chan string)
	stop := run(t, d, events, logs)
	events <- types.PushEvent{Tag: "UnheardOfResult", Body: json.RawMessage(`{}`)}
	stop()
	// Nothing to assert beyond clean shutdown: the event must not wedge
	// the loop or panic.
}

func TestLogLinesReachRingBuffer(t *testing.T) {
	buf := logbuf.New()
	var notified int
	d := New(buf, WithLogNotify(func() { notified++ }))

	events := make(chan types.PushEvent)
	logs := make(chan string, 4)
	stop := run(t, d, events, logs)
	logs <- "[2026-08-30 10:00:00] INFO: warmed up"
	logs <- "[2026-08-30 10:00:00] INFO: warmed up" // duplicate
	logs <- "[2026-08-30 10:00:01] ERROR: engine hiccup"
	stop()

	if buf.Len() != 2 {
		t.Errorf("buffer Len = %d, want 2 (duplicate suppressed)", buf.Len())
	}
	if notified != 2 {
		t.Errorf("notify fired %d times, want 2", notified)
	}
}

func TestEventTapSeesUnroutedEvents(t *testing.T) {
	var mu sync.Mutex
	var tapped []types.ResultTag
	d := New(logbuf.New(), WithEventTap(func(ev types.PushEvent) {
		mu.Lock()
		tapped = append(tapped, ev.Tag)
		mu.Unlock()
	}))

	events := make(chan types.PushEvent, 2)
	logs := make(chan string)
	stop := run(t, d, events, logs)
	events <- types.PushEvent{Tag: "UnheardOfResult", Body: json.RawMessage(`{}`)}
	events <- grabEvent("t1")
	stop()

	if len(tapped) != 2 {
		t.Errorf("tap saw %d events, want 2", len(tapped))
	}
}

func TestSecondRunRefused(t *testing.T) {
	d := New(logbuf.New())
	started := make(chan struct{})
	d.Register(types.TagGrabTicket, nil, func(types.TaskResult) { close(started) })

	events := make(chan types.PushEvent, 1)
	logs := make(chan string)
	stop := run(t, d, events, logs)
	defer stop()

	events <- grabEvent("t1")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first Run never delivered")
	}

	if err := d.Run(context.Background(), nil, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run err = %v, want ErrAlreadyRunning", err)
	}
}
