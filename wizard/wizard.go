// Package wizard walks the ticket-selection flow: event lookup, screen and
// ticket choice, buyer identity, confirmation. Each step gates on the data
// of the one before it, and confirming writes the engine's selection state
// so the two buyer-mode branches can never coexist.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/ticketrush/coordinator/correlate"
	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/notify"
	"github.com/ticketrush/coordinator/types"
)

// ErrNoAvailableScreens means every screen of the event is marked
// unclickable; the wizard aborts rather than offering an empty choice.
var ErrNoAvailableScreens = errors.New("no available screens")

// ErrNotBegun means a step ran before Begin loaded an event.
var ErrNotBegun = errors.New("wizard has no active event")

// phonePattern matches an 11-digit mainland mobile number.
var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// ValidationError reports user-correctable input problems found at a step.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// step tracks how far the flow has advanced.
type step int

const (
	stepIdle step = iota
	stepScreens
	stepBuyer
)

// Wizard owns the in-progress selection state for one flow. It is armed by
// Begin and cleared by Reset; the dispatcher consults Active to discard
// results that arrive after the flow was dismissed.
type Wizard struct {
	gw   gateway.Gateway
	corr correlate.Correlator
	sink notify.Sink

	mu       sync.Mutex
	step     step
	eventID  string
	info     types.TicketInfo
	screens  []types.ScreenInfo
	screenID int64
	ticketID int64
	mode     types.BuyerMode
	roster   []types.Buyer
	selected []types.Buyer
	nonBind  *types.NonBindBuyer
	count    int
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithSink routes user-facing wizard notifications to s.
func WithSink(s notify.Sink) Option {
	return func(w *Wizard) { w.sink = s }
}

// New returns an idle wizard that starts tasks through corr and writes
// selection state through gw.
func New(gw gateway.Gateway, corr correlate.Correlator, opts ...Option) *Wizard {
	w := &Wizard{gw: gw, corr: corr, sink: notify.NoopSink{}, count: 1}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Active reports whether a flow is in progress. Used as the dispatcher's
// activity gate for GetTicketInfoResult and GetBuyerInfoResult.
func (w *Wizard) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step != stepIdle
}

// Begin loads the event's ticket info and arms the screen step. Screens
// flagged unclickable are dropped; the first surviving screen is
// pre-selected. An event with no usable screens aborts the flow.
func (w *Wizard) Begin(ctx context.Context, eventID string) (types.TicketInfo, error) {
	w.Reset()
	w.mu.Lock()
	w.step = stepScreens
	w.eventID = eventID
	w.mu.Unlock()

	id, err := w.corr.StartTask(ctx, types.TaskTicketInfo, gateway.CmdGetTicketInfo, gateway.Args{"project_id": eventID})
	if err != nil {
		w.Reset()
		return types.TicketInfo{}, err
	}
	res, err := w.corr.Await(ctx, id)
	if err != nil {
		w.Reset()
		return types.TicketInfo{}, err
	}
	parsed, err := types.DecodeTicketInfo(res)
	if err != nil {
		w.Reset()
		return types.TicketInfo{}, err
	}
	if parsed.Info == nil {
		w.Reset()
		return types.TicketInfo{}, fmt.Errorf("ticket info result for %s has no data", eventID)
	}

	info := parsed.Info.Data
	var screens []types.ScreenInfo
	for _, s := range info.ScreenList {
		if s.Available() {
			screens = append(screens, s)
		}
	}
	if len(screens) == 0 {
		w.Reset()
		return types.TicketInfo{}, fmt.Errorf("event %s: %w", eventID, ErrNoAvailableScreens)
	}

	w.mu.Lock()
	if w.step == stepIdle {
		// Dismissed while the lookup was in flight.
		w.mu.Unlock()
		return types.TicketInfo{}, ErrNotBegun
	}
	w.info = info
	w.screens = screens
	w.screenID = screens[0].ID
	if len(screens[0].Tickets) > 0 {
		w.ticketID = screens[0].Tickets[0].ID
	}
	w.mode = w.modeForPolicy(info.IDBind)
	w.mu.Unlock()
	return info, nil
}

// modeForPolicy maps the event's id_bind field to a buyer mode. Call with
// w.mu held. Unknown policy values are treated as identity-bound with a
// warning rather than silently skipping real-name checks.
func (w *Wizard) modeForPolicy(idBind int) types.BuyerMode {
	switch idBind {
	case 0:
		return types.NonRealName
	case 1, 2:
		return types.RealName
	default:
		log.Printf("wizard: unrecognized id_bind policy %d, assuming real-name", idBind)
		w.sink.Notify(notify.LevelWarning, fmt.Sprintf("unrecognized ticket policy %d, assuming real-name purchase", idBind))
		return types.RealName
	}
}

// Event returns the loaded event's ticket info.
func (w *Wizard) Event() types.TicketInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

// Screens returns the selectable screens of the active event.
func (w *Wizard) Screens() []types.ScreenInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.ScreenInfo(nil), w.screens...)
}

// Tickets returns the ticket options of the currently selected screen.
func (w *Wizard) Tickets() []types.TicketOption {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.screens {
		if s.ID == w.screenID {
			return append([]types.TicketOption(nil), s.Tickets...)
		}
	}
	return nil
}

// Mode reports the buyer mode the event's policy dictates.
func (w *Wizard) Mode() types.BuyerMode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// SelectScreen picks a screen. Changing screens resets the ticket choice
// to the new screen's first option.
func (w *Wizard) SelectScreen(screenID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == stepIdle {
		return ErrNotBegun
	}
	for _, s := range w.screens {
		if s.ID != screenID {
			continue
		}
		w.screenID = screenID
		w.ticketID = 0
		if len(s.Tickets) > 0 {
			w.ticketID = s.Tickets[0].ID
		}
		return nil
	}
	return &ValidationError{Field: "screen", Reason: fmt.Sprintf("screen %d is not available for this event", screenID)}
}

// SelectTicket picks a ticket on the current screen.
func (w *Wizard) SelectTicket(ticketID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == stepIdle {
		return ErrNotBegun
	}
	for _, s := range w.screens {
		if s.ID != w.screenID {
			continue
		}
		for _, tk := range s.Tickets {
			if tk.ID == ticketID {
				w.ticketID = ticketID
				return nil
			}
		}
	}
	return &ValidationError{Field: "ticket", Reason: fmt.Sprintf("ticket %d is not on the selected screen", ticketID)}
}

// SetCount sets how many tickets to attempt. Bounded by the selected
// buyers in real-name mode at Confirm time.
func (w *Wizard) SetCount(n int) error {
	if n < 1 {
		return &ValidationError{Field: "count", Reason: "must buy at least one ticket"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count = n
	return nil
}

// LoadBuyers fetches the account's buyer roster for the real-name step.
// Corrupt roster entries are skipped with a log line instead of failing
// the whole load.
func (w *Wizard) LoadBuyers(ctx context.Context) ([]types.Buyer, error) {
	w.mu.Lock()
	if w.step == stepIdle {
		w.mu.Unlock()
		return nil, ErrNotBegun
	}
	w.step = stepBuyer
	w.mu.Unlock()

	id, err := w.corr.StartTask(ctx, types.TaskBuyerInfo, gateway.CmdGetBuyerInfo, nil)
	if err != nil {
		return nil, err
	}
	res, err := w.corr.Await(ctx, id)
	if err != nil {
		return nil, err
	}
	parsed, err := types.DecodeBuyerInfo(res)
	if err != nil {
		return nil, err
	}

	var roster []types.Buyer
	if parsed.Info != nil {
		for i, raw := range parsed.Info.Data.List {
			b, err := types.DecodeBuyer(raw)
			if err != nil {
				log.Printf("wizard: skipping buyer entry %d: %v", i, err)
				continue
			}
			roster = append(roster, b)
		}
	}

	w.mu.Lock()
	if w.step == stepIdle {
		w.mu.Unlock()
		return nil, ErrNotBegun
	}
	w.roster = roster
	w.mu.Unlock()
	return append([]types.Buyer(nil), roster...), nil
}

// SelectBuyers chooses roster buyers by id for a real-name purchase.
func (w *Wizard) SelectBuyers(ids ...int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == stepIdle {
		return ErrNotBegun
	}
	byID := make(map[int64]types.Buyer, len(w.roster))
	for _, b := range w.roster {
		byID[b.ID] = b
	}
	var picked []types.Buyer
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			return &ValidationError{Field: "buyer", Reason: fmt.Sprintf("buyer %d is not on the roster", id)}
		}
		picked = append(picked, b)
	}
	w.selected = picked
	w.nonBind = nil
	return nil
}

// SetNonBindBuyer records the free-text identity for a non-identity-bound
// purchase. Both fields are required and the phone must look like a
// mainland mobile number.
func (w *Wizard) SetNonBindBuyer(name, tel string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if tel == "" {
		return &ValidationError{Field: "phone", Reason: "must not be empty"}
	}
	if !phonePattern.MatchString(tel) {
		return &ValidationError{Field: "phone", Reason: "must be an 11-digit mobile number"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == stepIdle {
		return ErrNotBegun
	}
	w.nonBind = &types.NonBindBuyer{Name: name, Tel: tel}
	w.selected = nil
	return nil
}

// Confirm validates the assembled state, writes the selection to the
// engine, and returns the purchase intent. The buyer-mode branches are
// mutually exclusive writes: confirming one clears the other engine-side.
func (w *Wizard) Confirm(ctx context.Context) (types.PurchaseIntent, error) {
	w.mu.Lock()
	if w.step == stepIdle {
		w.mu.Unlock()
		return types.PurchaseIntent{}, ErrNotBegun
	}
	intent := types.PurchaseIntent{
		EventID:   w.eventID,
		ScreenID:  w.screenID,
		TicketID:  w.ticketID,
		BuyerMode: w.mode,
		Count:     w.count,
	}
	if w.mode == types.RealName {
		intent.Buyers = append([]types.Buyer(nil), w.selected...)
	} else if w.nonBind != nil {
		nb := *w.nonBind
		intent.NonBind = &nb
	}
	w.mu.Unlock()

	if intent.ScreenID == 0 {
		return types.PurchaseIntent{}, &ValidationError{Field: "screen", Reason: "no screen selected"}
	}
	if intent.TicketID == 0 {
		return types.PurchaseIntent{}, &ValidationError{Field: "ticket", Reason: "no ticket selected"}
	}
	switch intent.BuyerMode {
	case types.RealName:
		if len(intent.Buyers) == 0 {
			return types.PurchaseIntent{}, &ValidationError{Field: "buyer", Reason: "select at least one buyer"}
		}
		if intent.Count > len(intent.Buyers) {
			intent.Count = len(intent.Buyers)
		}
	default:
		if intent.NonBind == nil {
			return types.PurchaseIntent{}, &ValidationError{Field: "buyer", Reason: "enter a name and phone number"}
		}
	}

	if err := w.writeSelection(ctx, intent); err != nil {
		return types.PurchaseIntent{}, err
	}
	return intent, nil
}

// writeSelection pushes the confirmed choices into the engine's state.
func (w *Wizard) writeSelection(ctx context.Context, intent types.PurchaseIntent) error {
	type write struct {
		name string
		args gateway.Args
	}
	writes := []write{
		{gateway.CmdSetSelectedScreen, gateway.Args{"screen_id": intent.ScreenID}},
		{gateway.CmdSetSelectedTicket, gateway.Args{"ticket_id": intent.TicketID}},
		{gateway.CmdSetBuyerType, gateway.Args{"buyer_type": int(intent.BuyerMode)}},
	}
	if intent.BuyerMode == types.RealName {
		writes = append(writes,
			write{gateway.CmdSetSelectedBuyerList, gateway.Args{"buyers": buyersJSON(intent.Buyers)}},
			write{gateway.CmdClearNoBindBuyerInfo, nil},
		)
	} else {
		writes = append(writes,
			write{gateway.CmdSetNoBindBuyerInfo, gateway.Args{"name": intent.NonBind.Name, "tel": intent.NonBind.Tel}},
			write{gateway.CmdSetSelectedBuyerList, gateway.Args{"buyers": nil}},
		)
	}
	for _, wr := range writes {
		if _, err := w.gw.Invoke(ctx, wr.name, wr.args); err != nil {
			return fmt.Errorf("confirm selection (%s): %w", wr.name, err)
		}
	}
	return nil
}

func buyersJSON(buyers []types.Buyer) json.RawMessage {
	data, err := json.Marshal(buyers)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return data
}

// Reset clears every step's state so the next Begin starts clean.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = stepIdle
	w.eventID = ""
	w.info = types.TicketInfo{}
	w.screens = nil
	w.screenID = 0
	w.ticketID = 0
	w.mode = types.NonRealName
	w.roster = nil
	w.selected = nil
	w.nonBind = nil
	w.count = 1
}
