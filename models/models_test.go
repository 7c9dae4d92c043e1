package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseOrderState(t *testing.T) {
	tests := []struct {
		status string
		want   OrderState
	}{
		{"PendingNew", OrderStatePendingCreate},
		{"New", OrderStateOpen},
		{"Filled", OrderStateFilled},
		{"PartiallyFilled", OrderStatePartiallyFilled},
		{"Canceled", OrderStateCanceled},
		{"Rejected", OrderStateFailed},
	}
	for _, tt := range tests {
		got, err := ParseOrderState(tt.status)
		if err != nil {
			t.Fatalf("ParseOrderState(%s): %v", tt.status, err)
		}
		if got != tt.want {
			t.Errorf("ParseOrderState(%s)=%s want %s", tt.status, got, tt.want)
		}
	}
}

func TestParseOrderStateUnknown(t *testing.T) {
	_, err := ParseOrderState("Expired")
	var unknown *UnknownOrderStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownOrderStatusError, got %v", err)
	}
	if unknown.Status != "Expired" {
		t.Fatalf("unexpected status in error: %s", unknown.Status)
	}
}

func TestTradeTypeUnmarshal(t *testing.T) {
	tests := map[string]TradeType{
		`"buy"`:  TradeTypeBuy,
		`"SELL"`: TradeTypeSell,
		`1`:      TradeTypeBuy,
		`"2"`:    TradeTypeSell,
		`2.0`:    TradeTypeSell,
	}
	for in, want := range tests {
		var got TradeType
		if err := json.Unmarshal([]byte(in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if got != want {
			t.Errorf("unmarshal %s = %v want %v", in, got, want)
		}
	}

	var bad TradeType
	if err := json.Unmarshal([]byte(`"hold"`), &bad); err == nil {
		t.Fatalf("expected error for invalid trade type")
	}
}

func TestLevels(t *testing.T) {
	var resp DepthResponse
	body := `{"timestamp":1620000000000,"bids":[["50000.0","0.01"]],"asks":[["51000.0","0.01"]]}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	bids, err := Levels(resp.Bids)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	if len(bids) != 1 || bids[0].Price.String() != "50000" || bids[0].Amount.String() != "0.01" {
		t.Fatalf("unexpected bids: %+v", bids)
	}
	if MsToSeconds(resp.Timestamp) != 1620000000.0 {
		t.Fatalf("unexpected seconds: %v", MsToSeconds(resp.Timestamp))
	}
}

func TestOrderStateIsDone(t *testing.T) {
	if OrderStateOpen.IsDone() {
		t.Fatalf("open should not be done")
	}
	if !OrderStateCanceled.IsDone() {
		t.Fatalf("canceled should be done")
	}
}
