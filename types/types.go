package types

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type TaskKind string

const (
	TaskLogin      TaskKind = "login"
	TaskTicketInfo TaskKind = "ticket_info"
	TaskBuyerInfo  TaskKind = "buyer_info"
	TaskGrab       TaskKind = "grab"
	TaskSms        TaskKind = "sms"
	TaskOrderList  TaskKind = "order_list"
)

// Task is one asynchronous unit of work submitted to the engine. The id is
// opaque; the engine mints it when the submit command is accepted.
type Task struct {
	ID          string    `json:"task_id"`
	Kind        TaskKind  `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ResultTag string

const (
	TagQrCodeLogin    ResultTag = "QrCodeLoginResult"
	TagLoginSms       ResultTag = "LoginSmsResult"
	TagSubmitSmsLogin ResultTag = "SubmitSmsLoginResult"
	TagGetTicketInfo  ResultTag = "GetTicketInfoResult"
	TagGetBuyerInfo   ResultTag = "GetBuyerInfoResult"
	TagGrabTicket     ResultTag = "GrabTicketResult"
	TagGetAllOrders   ResultTag = "GetAllorderRequestResult"
	TagPush           ResultTag = "PushResult"
)

// TaskResult is the envelope common to every result variant. Payload keeps
// the full variant body so flows can decode the kind-specific fields they
// care about (DecodeQrLogin, DecodeTicketInfo, ...).
type TaskResult struct {
	Tag     ResultTag       `json:"type"`
	TaskID  string          `json:"task_id"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"-"`
}

// DecodeResult parses one entry of a polled result batch, where the variant
// tag travels as a "type" field alongside the body.
func DecodeResult(data []byte) (TaskResult, error) {
	var res TaskResult
	if err := json.Unmarshal(data, &res); err != nil {
		return TaskResult{}, fmt.Errorf("decode task result: %w", err)
	}
	if res.Tag == "" {
		return TaskResult{}, fmt.Errorf("task result has no type tag")
	}
	res.Payload = append(json.RawMessage(nil), data...)
	return res, nil
}

// DecodeResultBatch parses the reply of a poll_task_results command. The
// batch is a shared queue, so one undecodable entry is logged and skipped
// rather than failing the siblings around it.
func DecodeResultBatch(data []byte) ([]TaskResult, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode result batch: %w", err)
	}
	out := make([]TaskResult, 0, len(raw))
	for _, entry := range raw {
		res, err := DecodeResult(entry)
		if err != nil {
			log.Printf("types: result batch entry dropped: %v", err)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// PushEvent is one message from the engine's push channel: a single-key
// object whose key names the event kind.
type PushEvent struct {
	Tag  ResultTag
	Body json.RawMessage
}

// DecodePushEvent parses a push payload. Exactly one key is required; zero
// or multiple keys mean the payload is malformed.
func DecodePushEvent(data []byte) (PushEvent, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	if len(obj) != 1 {
		return PushEvent{}, fmt.Errorf("push event must have exactly one tag, got %d", len(obj))
	}
	var ev PushEvent
	for tag, body := range obj {
		ev = PushEvent{Tag: ResultTag(tag), Body: body}
	}
	return ev, nil
}

// Result converts a push event body into the common result envelope.
func (e PushEvent) Result() (TaskResult, error) {
	var res TaskResult
	if err := json.Unmarshal(e.Body, &res); err != nil {
		return TaskResult{}, fmt.Errorf("decode %s body: %w", e.Tag, err)
	}
	res.Tag = e.Tag
	res.Payload = append(json.RawMessage(nil), e.Body...)
	return res, nil
}

type LoginStatus string

const (
	LoginPending    LoginStatus = "pending"
	LoginScanning   LoginStatus = "scanning"
	LoginConfirming LoginStatus = "confirming"
	LoginSuccess    LoginStatus = "success"
	LoginExpired    LoginStatus = "expired"
	LoginFailed     LoginStatus = "error"
)

// Terminal reports whether no further transitions can follow this status
// without requesting a fresh code.
func (s LoginStatus) Terminal() bool {
	switch s {
	case LoginSuccess, LoginExpired, LoginFailed:
		return true
	}
	return false
}

// QrLoginResult is the body of a QrCodeLoginResult event.
type QrLoginResult struct {
	TaskID    string      `json:"task_id"`
	Status    LoginStatus `json:"status"`
	Cookie    string      `json:"cookie,omitempty"`
	Error     string      `json:"error,omitempty"`
	QrcodeKey string      `json:"qrcode_key,omitempty"`
}

// SmsLoginResult covers both LoginSmsResult and SubmitSmsLoginResult bodies.
type SmsLoginResult struct {
	TaskID  string `json:"task_id"`
	Phone   string `json:"phone,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Cookie  string `json:"cookie,omitempty"`
}

// GrabResult is the body of a GrabTicketResult event.
type GrabResult struct {
	TaskID  string `json:"task_id"`
	UID     int64  `json:"uid"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"order_id,omitempty"`
}

func DecodeQrLogin(res TaskResult) (QrLoginResult, error) {
	var out QrLoginResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return QrLoginResult{}, fmt.Errorf("decode qr login result: %w", err)
	}
	return out, nil
}

func DecodeSmsLogin(res TaskResult) (SmsLoginResult, error) {
	var out SmsLoginResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return SmsLoginResult{}, fmt.Errorf("decode sms login result: %w", err)
	}
	return out, nil
}

func DecodeGrab(res TaskResult) (GrabResult, error) {
	var out GrabResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return GrabResult{}, fmt.Errorf("decode grab result: %w", err)
	}
	return out, nil
}
