// Package session ties the coordination core together for one engine
// connection: the log buffer, the selection wizard, the login machine,
// the tracked grab task, and the periodic refreshers that keep them fresh.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/ticketrush/coordinator/correlate"
	"github.com/ticketrush/coordinator/dispatch"
	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/history"
	"github.com/ticketrush/coordinator/logbuf"
	"github.com/ticketrush/coordinator/notify"
	"github.com/ticketrush/coordinator/qrlogin"
	"github.com/ticketrush/coordinator/types"
	"github.com/ticketrush/coordinator/wizard"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

const (
	grabStatusInterval = 3 * time.Second
	policyInterval     = 30 * time.Second
)

// resultDeliverer is satisfied by the push correlator; the poll correlator
// needs no delivery wiring.
type resultDeliverer interface {
	Deliver(types.TaskResult)
}

// Session is the explicit shared state the engine connection revolves
// around: exactly one tracked grab task, one wizard flow, one login
// attempt, and the module-level log ring buffer.
type Session struct {
	gw      gateway.Gateway
	corr    correlate.Correlator
	logs    *logbuf.Buffer
	wiz     *wizard.Wizard
	login   *qrlogin.Machine
	sink    notify.Sink
	hist    *history.Store
	refresh *Refresher

	onTerminate func(reason string)

	mu         sync.Mutex
	grabTaskID string
}

// Option configures a Session.
type Option func(*Session)

// WithSink routes user-facing notifications to s.
func WithSink(s notify.Sink) Option {
	return func(sess *Session) { sess.sink = s }
}

// WithHistory archives terminal resolutions and exported logs in store.
func WithHistory(store *history.Store) Option {
	return func(sess *Session) { sess.hist = store }
}

// WithTerminateHook registers fn to run when the engine's policy check
// orders a shutdown. The hook owns actually exiting.
func WithTerminateHook(fn func(reason string)) Option {
	return func(sess *Session) { sess.onTerminate = fn }
}

// New assembles a session around gw and corr.
func New(gw gateway.Gateway, corr correlate.Correlator, opts ...Option) *Session {
	sess := &Session{
		gw:      gw,
		corr:    corr,
		logs:    logbuf.New(),
		sink:    notify.NoopSink{},
		refresh: NewRefresher(),
	}
	for _, opt := range opts {
		opt(sess)
	}
	sess.wiz = wizard.New(gw, corr, wizard.WithSink(sess.sink))
	sess.login = qrlogin.New(gw, qrlogin.WithSink(sess.sink))
	return sess
}

// Logs exposes the session's ring buffer.
func (s *Session) Logs() *logbuf.Buffer { return s.logs }

// Wizard exposes the ticket-selection flow.
func (s *Session) Wizard() *wizard.Wizard { return s.wiz }

// Login exposes the QR login machine.
func (s *Session) Login() *qrlogin.Machine { return s.login }

// GrabTaskID reports the currently tracked grab task, if any.
func (s *Session) GrabTaskID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabTaskID, s.grabTaskID != ""
}

// Grabbing reports whether a grab task is tracked. Used as a refresher
// and dispatcher activity gate.
func (s *Session) Grabbing() bool {
	_, ok := s.GrabTaskID()
	return ok
}

// BindDispatcher wires the session's consumers into d's routing table.
// The dispatcher feeds the log channel into the session's buffer itself;
// this binds the result tags.
func (s *Session) BindDispatcher(d *dispatch.Dispatcher) error {
	routes := []struct {
		tag    types.ResultTag
		active func() bool
		fn     dispatch.Handler
	}{
		{types.TagQrCodeLogin, nil, s.login.Handle},
		{types.TagGrabTicket, s.Grabbing, s.handleGrabResult},
	}
	for _, r := range routes {
		if err := d.Register(r.tag, r.active, r.fn); err != nil {
			return err
		}
	}

	// Ticket, buyer, and SMS results resolve pending correlator tasks.
	// Only the push strategy consumes them; under polling they arrive
	// through the result queue instead and these tags go unrouted.
	deliverer, ok := s.corr.(resultDeliverer)
	if !ok {
		return nil
	}
	for _, tag := range []types.ResultTag{
		types.TagGetTicketInfo,
		types.TagGetBuyerInfo,
		types.TagLoginSms,
		types.TagSubmitSmsLogin,
		types.TagGetAllOrders,
	} {
		var active func() bool
		switch tag {
		case types.TagGetTicketInfo, types.TagGetBuyerInfo:
			active = s.wiz.Active
		}
		if err := d.Register(tag, active, deliverer.Deliver); err != nil {
			return err
		}
	}
	return nil
}

// StartGrab confirms the wizard's selection and launches the grab task.
// The task id is minted locally as "<uid>-<unix-millis>" so results can be
// matched even when the engine restarts mid-run.
func (s *Session) StartGrab(ctx context.Context, uid int64) (string, error) {
	s.mu.Lock()
	if s.grabTaskID != "" {
		id := s.grabTaskID
		s.mu.Unlock()
		return "", fmt.Errorf("grab task %s already running", id)
	}
	s.mu.Unlock()

	intent, err := s.wiz.Confirm(ctx)
	if err != nil {
		return "", err
	}

	taskID := fmt.Sprintf("%d-%d", uid, time.Now().UnixMilli())
	if _, err := s.gw.Invoke(ctx, gateway.CmdSetGrabMode, gateway.Args{"mode": 1}); err != nil {
		return "", fmt.Errorf("arm grab mode: %w", err)
	}
	args := gateway.Args{
		"task_id":    taskID,
		"uid":        uid,
		"project_id": intent.EventID,
		"screen_id":  intent.ScreenID,
		"ticket_id":  intent.TicketID,
		"count":      intent.Count,
	}
	if _, err := s.gw.Invoke(ctx, gateway.CmdStartGrabTicket, args); err != nil {
		// Roll the mode back so the engine is not left armed with no task.
		if _, mErr := s.gw.Invoke(ctx, gateway.CmdSetGrabMode, gateway.Args{"mode": 0}); mErr != nil {
			log.Printf("session: disarm grab mode after failed start: %v", mErr)
		}
		return "", fmt.Errorf("start grab task: %w", err)
	}

	s.mu.Lock()
	s.grabTaskID = taskID
	s.mu.Unlock()
	s.sink.Notify(notify.LevelInfo, "grab task started")
	return taskID, nil
}

// StopGrab cancels the tracked grab task. Cancellation engine-side is best
// effort; local tracking is cleared unconditionally so no further result
// for the task is honored.
func (s *Session) StopGrab(ctx context.Context) error {
	s.mu.Lock()
	taskID := s.grabTaskID
	s.grabTaskID = ""
	s.mu.Unlock()
	if taskID == "" {
		return nil
	}

	s.corr.Forget(taskID)
	var cancelErr error
	if _, err := s.gw.Invoke(ctx, gateway.CmdCancelTask, gateway.Args{"task_id": taskID}); err != nil {
		log.Printf("session: cancel grab task %s: %v", taskID, err)
		cancelErr = err
	}
	if _, err := s.gw.Invoke(ctx, gateway.CmdSetGrabMode, gateway.Args{"mode": 0}); err != nil {
		log.Printf("session: disarm grab mode: %v", err)
	}
	s.sink.Notify(notify.LevelInfo, "grab task stopped")
	if cancelErr != nil {
		return fmt.Errorf("cancel grab task: %w", cancelErr)
	}
	return nil
}

// CancelTask cancels an arbitrary engine task and stops honoring its
// results. If it is the tracked grab task, tracking clears too.
func (s *Session) CancelTask(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	s.corr.Forget(taskID)
	s.mu.Lock()
	if s.grabTaskID == taskID {
		s.grabTaskID = ""
	}
	s.mu.Unlock()
	if _, err := s.gw.Invoke(ctx, gateway.CmdCancelTask, gateway.Args{"task_id": taskID}); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return nil
}

// handleGrabResult settles the tracked grab task from a pushed result.
// Results for any other task id are stale and dropped.
func (s *Session) handleGrabResult(res types.TaskResult) {
	s.mu.Lock()
	if res.TaskID != s.grabTaskID || s.grabTaskID == "" {
		s.mu.Unlock()
		return
	}
	s.grabTaskID = ""
	s.mu.Unlock()

	s.record(types.TaskGrab, res)
	grab, err := types.DecodeGrab(res)
	if err != nil {
		log.Printf("session: malformed grab result: %v", err)
		return
	}
	if grab.Success {
		msg := "order placed"
		if grab.OrderID != "" {
			msg = "order placed: " + grab.OrderID
		}
		s.sink.Notify(notify.LevelSuccess, msg)
		return
	}
	reason := grab.Message
	if reason == "" {
		reason = "engine reported failure"
	}
	s.sink.Notify(notify.LevelError, "grab failed: "+reason)
}

// PollGrabOnce drains the engine's result queue looking for the tracked
// grab task. Used by poll-strategy deployments that receive no push
// events; returns whether the task settled.
func (s *Session) PollGrabOnce(ctx context.Context) (bool, error) {
	s.mu.Lock()
	taskID := s.grabTaskID
	s.mu.Unlock()
	if taskID == "" {
		return false, nil
	}

	raw, err := s.gw.Invoke(ctx, gateway.CmdPollTaskResults, nil)
	if err != nil {
		return false, fmt.Errorf("poll grab result: %w", err)
	}
	batch, err := types.DecodeResultBatch(raw)
	if err != nil {
		return false, fmt.Errorf("poll grab result: %w", err)
	}
	for _, res := range batch {
		if res.TaskID == taskID {
			s.handleGrabResult(res)
			return true, nil
		}
	}
	return false, nil
}

// SendLoginSms asks the engine to text a login code. Returns the task id
// the submit step correlates against.
func (s *Session) SendLoginSms(ctx context.Context, phone string) (string, error) {
	if !phonePattern.MatchString(phone) {
		return "", fmt.Errorf("phone %q is not an 11-digit mobile number", phone)
	}
	return s.corr.StartTask(ctx, types.TaskSms, gateway.CmdSendLoginSms, gateway.Args{"tel": phone})
}

// SubmitLoginSms submits the received code and, on success, registers the
// resulting cookie as an account.
func (s *Session) SubmitLoginSms(ctx context.Context, phone, code string) error {
	id, err := s.corr.StartTask(ctx, types.TaskSms, gateway.CmdSubmitLoginSms, gateway.Args{"tel": phone, "code": code})
	if err != nil {
		return err
	}
	res, err := s.corr.Await(ctx, id)
	if err != nil {
		return err
	}
	s.record(types.TaskSms, res)

	sms, err := types.DecodeSmsLogin(res)
	if err != nil {
		return err
	}
	if sms.Cookie != "" {
		if _, err := s.gw.Invoke(ctx, gateway.CmdAddAccount, gateway.Args{"cookie": sms.Cookie}); err != nil {
			return fmt.Errorf("register sms account: %w", err)
		}
	}
	s.sink.Notify(notify.LevelSuccess, "account added")
	return nil
}

type policyReply struct {
	AllowRun bool   `json:"allow_run"`
	Message  string `json:"message"`
}

// CheckPolicy asks the engine whether this client is still allowed to run.
// A shutdown order fires the registered hook after notifying the user.
// Fetch and decode failures never fire the hook.
func (s *Session) CheckPolicy(ctx context.Context) error {
	raw, err := s.gw.Invoke(ctx, gateway.CmdGetPolicy, nil)
	if err != nil {
		return fmt.Errorf("check policy: %w", err)
	}
	var policy policyReply
	if err := json.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("decode policy reply: %w", err)
	}
	if policy.AllowRun {
		return nil
	}
	reason := policy.Message
	if reason == "" {
		reason = "engine policy ordered shutdown"
	}
	s.sink.Notify(notify.LevelError, reason)
	if s.onTerminate != nil {
		s.onTerminate(reason)
	}
	return nil
}

// State fetches the engine's current state blob, untransformed.
func (s *Session) State(ctx context.Context) (json.RawMessage, error) {
	return s.gw.Invoke(ctx, gateway.CmdGetState, nil)
}

// LoadLogs replaces the ring buffer with the engine's authoritative log
// store. The only bulk load; everything after arrives line by line.
func (s *Session) LoadLogs(ctx context.Context) error {
	raw, err := s.gw.Invoke(ctx, gateway.CmdGetLogs, nil)
	if err != nil {
		return fmt.Errorf("load logs: %w", err)
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return fmt.Errorf("decode logs: %w", err)
	}
	s.logs.LoadSnapshot(lines)
	return nil
}

// ClearLogs empties the local buffer and tells the engine to clear its
// own store. The engine owns the authoritative copy.
func (s *Session) ClearLogs(ctx context.Context) error {
	s.logs.Clear()
	if _, err := s.gw.Invoke(ctx, gateway.CmdClearLogs, nil); err != nil {
		return fmt.Errorf("clear engine logs: %w", err)
	}
	return nil
}

// ExportLogs archives the buffer's current contents.
func (s *Session) ExportLogs(ctx context.Context) error {
	if s.hist == nil {
		return fmt.Errorf("no history store configured")
	}
	return s.hist.ArchiveLogs(ctx, s.logs.Lines())
}

// GrabStats aggregates archived grab outcomes.
func (s *Session) GrabStats(ctx context.Context) (history.Stats, error) {
	if s.hist == nil {
		return history.Stats{}, fmt.Errorf("no history store configured")
	}
	return s.hist.GrabStats(ctx, nil)
}

// StartRefreshers schedules the periodic fetches: grab status while a
// grab is tracked, and the policy check. Idempotent per session.
func (s *Session) StartRefreshers() error {
	ctx := context.Background()
	if err := s.refresh.Add("grab-status", grabStatusInterval, s.Grabbing, func() {
		if _, err := s.State(ctx); err != nil {
			log.Printf("session: refresh grab status: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := s.refresh.Add("policy", policyInterval, nil, func() {
		if err := s.CheckPolicy(ctx); err != nil {
			log.Printf("session: refresh policy: %v", err)
		}
	}); err != nil {
		return err
	}
	s.refresh.Start()
	return nil
}

// Close stops the refreshers and resets transient flow state.
func (s *Session) Close() {
	s.refresh.Stop()
	s.wiz.Reset()
}

// record archives a terminal resolution when a history store is wired.
func (s *Session) record(kind types.TaskKind, res types.TaskResult) {
	if s.hist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.hist.RecordResolution(ctx, kind, res); err != nil {
		log.Printf("session: record %s resolution: %v", kind, err)
	}
}
