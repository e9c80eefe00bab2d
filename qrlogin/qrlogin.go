// Package qrlogin drives the QR-code login flow: request a code, watch
// status updates until the scan succeeds or the code dies, then register
// the resulting cookie as an account.
package qrlogin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/notify"
	"github.com/ticketrush/coordinator/types"
)

// ErrExpired means the code timed out before being confirmed. The caller
// may request a fresh code with Start.
var ErrExpired = errors.New("qr code expired")

// ErrNoAttempt means Await or Poll was called before Start.
var ErrNoAttempt = errors.New("no login attempt in progress")

const registerTimeout = 10 * time.Second

// Code is the engine's reply to a qrcode_login request. URL is a data URL
// holding the rendered QR image; Key identifies the code engine-side.
type Code struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	TaskID string `json:"task_id"`
}

// Machine is the login state machine for one account-add flow. Each Start
// begins a new attempt and invalidates the previous one: status events for
// an earlier code are dropped, and waiters on the earlier attempt are woken
// to re-arm against the new one.
type Machine struct {
	gw   gateway.Gateway
	sink notify.Sink

	mu     sync.Mutex
	gen    int
	code   Code
	status types.LoginStatus
	cookie string
	reason string
	done   chan struct{}
}

// Option configures a Machine.
type Option func(*Machine)

// WithSink routes user-facing login notifications to s.
func WithSink(s notify.Sink) Option {
	return func(m *Machine) { m.sink = s }
}

// New returns an idle machine invoking the engine through gw.
func New(gw gateway.Gateway, opts ...Option) *Machine {
	m := &Machine{gw: gw, sink: notify.NoopSink{}, status: types.LoginPending}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start requests a fresh QR code and arms the machine at Scanning. Any
// in-flight attempt is abandoned: its waiters wake and re-arm, and late
// status events for its code are ignored.
func (m *Machine) Start(ctx context.Context) (Code, error) {
	raw, err := m.gw.Invoke(ctx, gateway.CmdQrcodeLogin, nil)
	if err != nil {
		return Code{}, fmt.Errorf("request qr code: %w", err)
	}
	var code Code
	if err := json.Unmarshal(raw, &code); err != nil {
		return Code{}, fmt.Errorf("decode qr code reply: %w", err)
	}

	m.mu.Lock()
	if m.done != nil && !m.status.Terminal() {
		close(m.done) // wake stale waiters so they re-arm
	}
	m.gen++
	m.code = code
	m.status = types.LoginScanning
	m.cookie = ""
	m.reason = ""
	m.done = make(chan struct{})
	m.mu.Unlock()
	return code, nil
}

// Status reports the current attempt's state.
func (m *Machine) Status() types.LoginStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Handle consumes a QrCodeLoginResult push event. Wire it into the
// dispatcher for types.TagQrCodeLogin.
func (m *Machine) Handle(res types.TaskResult) {
	qr, err := types.DecodeQrLogin(res)
	if err != nil {
		log.Printf("qrlogin: dropping malformed status event: %v", err)
		return
	}
	m.apply(qr)
}

// apply runs one transition. Events for a code other than the active one,
// or arriving after the attempt already settled, are stale and dropped.
func (m *Machine) apply(qr types.QrLoginResult) {
	m.mu.Lock()
	if m.done == nil || m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	if qr.TaskID != "" && m.code.TaskID != "" && qr.TaskID != m.code.TaskID {
		m.mu.Unlock()
		return
	}
	if qr.QrcodeKey != "" && m.code.Key != "" && qr.QrcodeKey != m.code.Key {
		m.mu.Unlock()
		return
	}

	var (
		settled chan struct{}
		cookie  string
	)
	switch qr.Status {
	case types.LoginScanning, types.LoginConfirming:
		m.status = qr.Status
	case types.LoginSuccess:
		m.status = types.LoginSuccess
		m.cookie = qr.Cookie
		cookie = qr.Cookie
		settled = m.done
	case types.LoginExpired:
		m.status = types.LoginExpired
		settled = m.done
	case types.LoginFailed:
		m.status = types.LoginFailed
		m.reason = qr.Error
		settled = m.done
	default:
		log.Printf("qrlogin: ignoring unknown login status %q", qr.Status)
	}
	m.mu.Unlock()

	if settled == nil {
		return
	}
	close(settled)
	switch {
	case cookie != "":
		m.registerAccount(cookie)
	case qr.Status == types.LoginExpired:
		m.sink.Notify(notify.LevelWarning, "QR code expired, request a new one")
	default:
		m.sink.Notify(notify.LevelError, "QR login failed: "+qr.Error)
	}
}

// Poll asks the engine for the active code's status once and applies the
// answer. Used by poll-strategy deployments that receive no push events.
func (m *Machine) Poll(ctx context.Context) (types.LoginStatus, error) {
	m.mu.Lock()
	key := m.code.Key
	armed := m.done != nil
	m.mu.Unlock()
	if !armed {
		return "", ErrNoAttempt
	}

	raw, err := m.gw.Invoke(ctx, gateway.CmdPollQrcodeStatus, gateway.Args{"key": key})
	if err != nil {
		return "", fmt.Errorf("poll qr status: %w", err)
	}
	var qr types.QrLoginResult
	if err := json.Unmarshal(raw, &qr); err != nil {
		return "", fmt.Errorf("decode qr status reply: %w", err)
	}
	m.apply(qr)
	return m.Status(), nil
}

// Await blocks until the active attempt settles, then returns the login
// cookie. A refresh while waiting re-arms the wait against the new code.
func (m *Machine) Await(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		gen := m.gen
		done := m.done
		m.mu.Unlock()
		if done == nil {
			return "", ErrNoAttempt
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("await qr login: %w", ctx.Err())
		case <-done:
		}

		m.mu.Lock()
		refreshed := m.gen != gen
		status := m.status
		cookie := m.cookie
		reason := m.reason
		m.mu.Unlock()
		if refreshed {
			continue
		}
		switch status {
		case types.LoginSuccess:
			return cookie, nil
		case types.LoginExpired:
			return "", ErrExpired
		default:
			if reason == "" {
				reason = "engine reported failure"
			}
			return "", fmt.Errorf("qr login failed: %s", reason)
		}
	}
}

// registerAccount stores the scanned cookie as an account. Failure is
// surfaced as a notification; the login itself already succeeded.
func (m *Machine) registerAccount(cookie string) {
	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	if _, err := m.gw.Invoke(ctx, gateway.CmdAddAccount, gateway.Args{"cookie": cookie}); err != nil {
		log.Printf("qrlogin: register account: %v", err)
		m.sink.Notify(notify.LevelError, "login succeeded but saving the account failed")
		return
	}
	m.sink.Notify(notify.LevelSuccess, "account added")
}
