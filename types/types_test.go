package types

import "testing"

func TestDecodePushEventSingleKey(t *testing.T) {
	ev, err := DecodePushEvent([]byte(`{"GrabTicketResult":{"task_id":"t1","success":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Tag != TagGrabTicket {
		t.Fatalf("tag = %q, want %q", ev.Tag, TagGrabTicket)
	}
	res, err := ev.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.TaskID != "t1" || !res.Success {
		t.Fatalf("unexpected envelope: %+v", res)
	}
}

func TestDecodePushEventRejectsMultipleTags(t *testing.T) {
	if _, err := DecodePushEvent([]byte(`{"A":{},"B":{}}`)); err == nil {
		t.Fatal("expected error for two tags")
	}
	if _, err := DecodePushEvent([]byte(`{}`)); err == nil {
		t.Fatal("expected error for zero tags")
	}
}

func TestDecodeResultBatch(t *testing.T) {
	batch, err := DecodeResultBatch([]byte(`[
		{"type":"GetTicketInfoResult","task_id":"a","success":true},
		{"type":"GetBuyerInfoResult","task_id":"b","success":false,"message":"nope"}
	]`))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len = %d, want 2", len(batch))
	}
	if batch[0].Tag != TagGetTicketInfo || batch[1].Message != "nope" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestDecodeResultBatchSkipsCorruptEntries(t *testing.T) {
	batch, err := DecodeResultBatch([]byte(`[
		{"task_id":"no-tag","success":true},
		"not an object",
		{"type":"GrabTicketResult","task_id":"g1","success":true,"message":"won"}
	]`))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("len = %d, want 1", len(batch))
	}
	if batch[0].Tag != TagGrabTicket || batch[0].Message != "won" {
		t.Fatalf("surviving entry: %+v", batch[0])
	}
}

func TestDecodeBuyerCoercion(t *testing.T) {
	b, err := DecodeBuyer([]byte(`{"id":"12","uid":34,"personal_id":110101,"name":"张三","tel":"13800138000","is_default":"1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ID != 12 || b.UID != 34 {
		t.Fatalf("ids not coerced: %+v", b)
	}
	if b.PersonalID != "110101" {
		t.Fatalf("personal_id = %q", b.PersonalID)
	}
	if b.IDType != 1 {
		t.Fatalf("id_type default = %d, want 1", b.IDType)
	}
}

func TestDecodeBuyerRejectsMissingID(t *testing.T) {
	if _, err := DecodeBuyer([]byte(`{"name":"x","tel":"y"}`)); err == nil {
		t.Fatal("expected error for buyer without id")
	}
}

func TestScreenAvailability(t *testing.T) {
	off := false
	on := true
	cases := []struct {
		screen ScreenInfo
		want   bool
	}{
		{ScreenInfo{ID: 1}, true},
		{ScreenInfo{ID: 2, Clickable: &on}, true},
		{ScreenInfo{ID: 3, Clickable: &off}, false},
	}
	for _, tc := range cases {
		if got := tc.screen.Available(); got != tc.want {
			t.Errorf("screen %d available = %v, want %v", tc.screen.ID, got, tc.want)
		}
	}
}

func TestTicketOptionDisplay(t *testing.T) {
	opt := TicketOption{Price: 68800, SaleType: SaleTypeOnSale}
	if got := opt.PriceYuan(); got != "688.00" {
		t.Fatalf("price = %q, want 688.00", got)
	}
	if got := opt.SaleStatus(); got != "on sale" {
		t.Fatalf("status = %q", got)
	}
	if got := (TicketOption{SaleType: 9}).SaleStatus(); got != "not yet open" {
		t.Fatalf("status = %q", got)
	}
}
