package qrlogin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/notify"
	"github.com/ticketrush/coordinator/types"
)

// fakeEngine mints one code per qrcode_login call and records every
// command it sees.
type fakeEngine struct {
	mu      sync.Mutex
	codes   int
	invoked []string
	cookies []string
	status  string // canned poll_qrcode_status reply
}

func (f *fakeEngine) Invoke(_ context.Context, name string, args gateway.Args) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, name)
	switch name {
	case gateway.CmdQrcodeLogin:
		f.codes++
		return json.RawMessage(fmt.Sprintf(
			`{"key":"key-%d","url":"data:image/png;base64,xx","task_id":"qr-%d"}`, f.codes, f.codes)), nil
	case gateway.CmdAddAccount:
		if c, ok := args["cookie"].(string); ok {
			f.cookies = append(f.cookies, c)
		}
		return json.RawMessage(`true`), nil
	case gateway.CmdPollQrcodeStatus:
		return json.RawMessage(f.status), nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func (f *fakeEngine) addedCookies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cookies...)
}

func statusEvent(taskID string, status types.LoginStatus, extra string) types.TaskResult {
	body := fmt.Sprintf(`{"task_id":%q,"status":%q%s}`, taskID, status, extra)
	return types.TaskResult{
		Tag:     types.TagQrCodeLogin,
		Payload: json.RawMessage(body),
	}
}

func TestSuccessRegistersAccount(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng)

	code, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if code.URL == "" || code.TaskID != "qr-1" {
		t.Fatalf("code = %+v", code)
	}

	m.Handle(statusEvent("qr-1", types.LoginConfirming, ""))
	if got := m.Status(); got != types.LoginConfirming {
		t.Errorf("Status = %s, want confirming", got)
	}
	m.Handle(statusEvent("qr-1", types.LoginSuccess, `,"cookie":"SESSDATA=abc"`))

	cookie, err := m.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if cookie != "SESSDATA=abc" {
		t.Errorf("cookie = %q", cookie)
	}
	if added := eng.addedCookies(); len(added) != 1 || added[0] != "SESSDATA=abc" {
		t.Errorf("registered cookies = %v", added)
	}
}

func TestExpiredSurfacesErrExpired(t *testing.T) {
	eng := &fakeEngine{}
	var warned bool
	m := New(eng, WithSink(notify.SinkFunc(func(level notify.Level, _ string) {
		if level == notify.LevelWarning {
			warned = true
		}
	})))

	m.Start(context.Background())
	m.Handle(statusEvent("qr-1", types.LoginExpired, ""))

	if _, err := m.Await(context.Background()); !errors.Is(err, ErrExpired) {
		t.Errorf("Await err = %v, want ErrExpired", err)
	}
	if !warned {
		t.Error("expiry should notify the user")
	}
}

func TestFailureCarriesReason(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng)

	m.Start(context.Background())
	m.Handle(statusEvent("qr-1", types.LoginFailed, `,"error":"account banned"`))

	_, err := m.Await(context.Background())
	if err == nil || err.Error() != "qr login failed: account banned" {
		t.Errorf("Await err = %v", err)
	}
}

func TestRefreshDropsStaleEvents(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng)

	m.Start(context.Background()) // qr-1
	m.Start(context.Background()) // qr-2 invalidates qr-1

	m.Handle(statusEvent("qr-1", types.LoginSuccess, `,"cookie":"stale"`))
	if got := m.Status(); got != types.LoginScanning {
		t.Errorf("Status after stale event = %s, want scanning", got)
	}
	if added := eng.addedCookies(); len(added) != 0 {
		t.Errorf("stale success must not register an account, got %v", added)
	}

	m.Handle(statusEvent("qr-2", types.LoginSuccess, `,"cookie":"fresh"`))
	cookie, err := m.Await(context.Background())
	if err != nil || cookie != "fresh" {
		t.Errorf("Await = %q, %v", cookie, err)
	}
}

func TestAwaitReArmsAcrossRefresh(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng)
	m.Start(context.Background())

	type outcome struct {
		cookie string
		err    error
	}
	got := make(chan outcome, 1)
	go func() {
		c, err := m.Await(context.Background())
		got <- outcome{c, err}
	}()

	time.Sleep(10 * time.Millisecond)
	m.Start(context.Background()) // refresh while a waiter is blocked
	m.Handle(statusEvent("qr-2", types.LoginSuccess, `,"cookie":"second"`))

	select {
	case o := <-got:
		if o.err != nil || o.cookie != "second" {
			t.Errorf("Await = %q, %v", o.cookie, o.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not re-arm after refresh")
	}
}

func TestEventsAfterTerminalIgnored(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng)
	m.Start(context.Background())

	m.Handle(statusEvent("qr-1", types.LoginSuccess, `,"cookie":"first"`))
	m.Handle(statusEvent("qr-1", types.LoginFailed, `,"error":"late"`))

	if got := m.Status(); got != types.LoginSuccess {
		t.Errorf("Status = %s, want success preserved", got)
	}
	if added := eng.addedCookies(); len(added) != 1 {
		t.Errorf("account registered %d times, want 1", len(added))
	}
}

func TestPollAppliesEngineStatus(t *testing.T) {
	eng := &fakeEngine{status: `{"task_id":"qr-1","status":"confirming"}`}
	m := New(eng)
	m.Start(context.Background())

	got, err := m.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got != types.LoginConfirming {
		t.Errorf("Poll status = %s, want confirming", got)
	}
}

func TestAwaitBeforeStart(t *testing.T) {
	m := New(&fakeEngine{})
	if _, err := m.Await(context.Background()); !errors.Is(err, ErrNoAttempt) {
		t.Errorf("Await err = %v, want ErrNoAttempt", err)
	}
	if _, err := m.Poll(context.Background()); !errors.Is(err, ErrNoAttempt) {
		t.Errorf("Poll err = %v, want ErrNoAttempt", err)
	}
}
