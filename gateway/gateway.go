// Package gateway is the single choke point for issuing commands to the
// automation engine. Every higher component goes through a Gateway; there is
// no side channel to the engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Command names recognized by the engine.
const (
	CmdQrcodeLogin      = "qrcode_login"
	CmdPollQrcodeStatus = "poll_qrcode_status"
	CmdAddAccount       = "add_account_by_cookie"
	CmdGetTicketInfo    = "get_ticket_info"
	CmdGetBuyerInfo     = "get_buyer_info"
	CmdPollTaskResults  = "poll_task_results"
	CmdStartGrabTicket  = "start_grab_ticket"
	CmdCancelTask       = "cancel_task"
	CmdSetGrabMode      = "set_grab_mode"
	CmdGetState         = "get_state"
	CmdGetPolicy        = "get_policy"
	CmdGetLogs          = "get_logs"
	CmdClearLogs        = "clear_logs"
	CmdSendLoginSms     = "send_loginsms_command"
	CmdSubmitLoginSms   = "submit_loginsms_command"

	CmdSetSelectedScreen    = "set_selected_screen"
	CmdSetSelectedTicket    = "set_selected_ticket"
	CmdSetBuyerType         = "set_buyer_type"
	CmdSetSelectedBuyerList = "set_selected_buyer_list"
	CmdSetNoBindBuyerInfo   = "set_no_bind_buyer_info"
	CmdClearNoBindBuyerInfo = "clear_no_bind_buyer_info"
)

// ErrUnavailable means the bridge to the engine has not been established.
// Callers treat the feature as disabled; this is never fatal.
var ErrUnavailable = errors.New("engine bridge not connected")

type Args map[string]any

// Gateway forwards a named command with arguments to the engine and returns
// the engine's direct reply unmodified.
type Gateway interface {
	Invoke(ctx context.Context, name string, args Args) (json.RawMessage, error)
}

// Func adapts a function to the Gateway interface.
type Func func(ctx context.Context, name string, args Args) (json.RawMessage, error)

func (f Func) Invoke(ctx context.Context, name string, args Args) (json.RawMessage, error) {
	if f == nil {
		return nil, ErrUnavailable
	}
	return f(ctx, name, args)
}

// CommandError is a rejection from the engine's direct reply path.
type CommandError struct {
	Name    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// InvokeString invokes a command whose reply is a bare string, typically a
// task id. Some engine builds wrap the id in an object instead; both forms
// are accepted.
func InvokeString(ctx context.Context, g Gateway, name string, args Args) (string, error) {
	if g == nil {
		return "", ErrUnavailable
	}
	reply, err := g.Invoke(ctx, name, args)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(reply, &s); err == nil {
		return s, nil
	}
	var wrapped struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(reply, &wrapped); err == nil && wrapped.TaskID != "" {
		return wrapped.TaskID, nil
	}
	return "", fmt.Errorf("%s: reply is not a task id: %s", name, reply)
}
