package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Buyer mode values mirror the engine's id_bind field: 0 means the event is
// not identity-bound, 1 and 2 both require roster buyers.
type BuyerMode int

const (
	NonRealName BuyerMode = 0
	RealName    BuyerMode = 1
)

const (
	SaleTypeOnSale  = 1
	SaleTypeSoldOut = 2
)

// TicketInfo is the data block of a GetTicketInfoResult payload.
type TicketInfo struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	StartTime    int64        `json:"start_time"`
	IDBind       int          `json:"id_bind"`
	VipExclusive bool         `json:"vip_exclusive,omitempty"`
	HotProject   bool         `json:"hot_project,omitempty"`
	ScreenList   []ScreenInfo `json:"screen_list"`
}

type ScreenInfo struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	StartTime int64          `json:"start_time"`
	ShowDate  string         `json:"show_date,omitempty"`
	Clickable *bool          `json:"clickable,omitempty"`
	Tickets   []TicketOption `json:"ticket_list"`
}

// Available reports whether the screen can be selected. A missing clickable
// flag counts as available; only an explicit false excludes the screen.
func (s ScreenInfo) Available() bool {
	return s.Clickable == nil || *s.Clickable
}

type TicketOption struct {
	ID         int64  `json:"id"`
	Desc       string `json:"desc"`
	Price      int64  `json:"price"`
	SaleType   int    `json:"sale_type"`
	ScreenName string `json:"screen_name,omitempty"`
}

// PriceYuan renders the minor-unit price for display.
func (t TicketOption) PriceYuan() string {
	return fmt.Sprintf("%.2f", float64(t.Price)/100)
}

func (t TicketOption) SaleStatus() string {
	switch t.SaleType {
	case SaleTypeOnSale:
		return "on sale"
	case SaleTypeSoldOut:
		return "sold out"
	default:
		return "not yet open"
	}
}

// TicketInfoResult is the body of a GetTicketInfoResult event.
type TicketInfoResult struct {
	TaskID  string `json:"task_id"`
	UID     int64  `json:"uid"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Info    *struct {
		Data TicketInfo `json:"data"`
	} `json:"ticket_info,omitempty"`
}

// BuyerInfoResult is the body of a GetBuyerInfoResult event. The buyer list
// stays raw so callers can decode entries one by one and skip corrupt ones.
type BuyerInfoResult struct {
	TaskID  string `json:"task_id"`
	UID     int64  `json:"uid"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Info    *struct {
		Data struct {
			List []json.RawMessage `json:"list"`
		} `json:"data"`
	} `json:"buyer_info,omitempty"`
}

func DecodeTicketInfo(res TaskResult) (TicketInfoResult, error) {
	var out TicketInfoResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return TicketInfoResult{}, fmt.Errorf("decode ticket info result: %w", err)
	}
	return out, nil
}

func DecodeBuyerInfo(res TaskResult) (BuyerInfoResult, error) {
	var out BuyerInfoResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return BuyerInfoResult{}, fmt.Errorf("decode buyer info result: %w", err)
	}
	return out, nil
}

// looseInt accepts both JSON numbers and numeric strings. The engine's buyer
// payloads are not consistent about which one it sends.
type looseInt int64

func (v *looseInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		n = int64(f)
	}
	*v = looseInt(n)
	return nil
}

// Buyer is one roster entry from the engine.
type Buyer struct {
	ID          int64  `json:"id"`
	UID         int64  `json:"uid"`
	PersonalID  string `json:"personal_id"`
	Name        string `json:"name"`
	Tel         string `json:"tel"`
	IDType      int64  `json:"id_type"`
	IsDefault   int64  `json:"is_default"`
	IDCardFront string `json:"id_card_front,omitempty"`
	IDCardBack  string `json:"id_card_back,omitempty"`
}

// DecodeBuyer parses a single roster entry, coercing numeric-ish fields to
// numbers and text fields to strings. A buyer without an id is rejected;
// a missing id_type defaults to 1.
func DecodeBuyer(data []byte) (Buyer, error) {
	var raw struct {
		ID          looseInt        `json:"id"`
		UID         looseInt        `json:"uid"`
		PersonalID  json.RawMessage `json:"personal_id"`
		Name        string          `json:"name"`
		Tel         json.RawMessage `json:"tel"`
		IDType      looseInt        `json:"id_type"`
		IsDefault   looseInt        `json:"is_default"`
		IDCardFront string          `json:"id_card_front"`
		IDCardBack  string          `json:"id_card_back"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Buyer{}, fmt.Errorf("decode buyer: %w", err)
	}
	if raw.ID == 0 {
		return Buyer{}, fmt.Errorf("buyer has no id")
	}
	b := Buyer{
		ID:          int64(raw.ID),
		UID:         int64(raw.UID),
		PersonalID:  looseString(raw.PersonalID),
		Name:        raw.Name,
		Tel:         looseString(raw.Tel),
		IDType:      int64(raw.IDType),
		IsDefault:   int64(raw.IsDefault),
		IDCardFront: raw.IDCardFront,
		IDCardBack:  raw.IDCardBack,
	}
	if b.IDType == 0 {
		b.IDType = 1
	}
	return b, nil
}

func looseString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.Trim(string(data), `"`)
}

// NonBindBuyer is the free-text identity used when an event is not
// identity-bound.
type NonBindBuyer struct {
	Name string `json:"name"`
	Tel  string `json:"tel"`
	UID  int64  `json:"uid,omitempty"`
}

// PurchaseIntent is the wizard's validated output: everything the engine
// needs to attempt an order.
type PurchaseIntent struct {
	EventID   string        `json:"event_id"`
	ScreenID  int64         `json:"screen_id"`
	TicketID  int64         `json:"ticket_id"`
	BuyerMode BuyerMode     `json:"buyer_mode"`
	Buyers    []Buyer       `json:"buyers,omitempty"`
	NonBind   *NonBindBuyer `json:"non_bind,omitempty"`
	Count     int           `json:"count"`
}
