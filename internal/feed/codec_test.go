package feed

import (
	"testing"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

func TestDecodeBookMessage_PairFormat(t *testing.T) {
	t.Run("Snapshot", func(t *testing.T) {
		raw := []byte(`{"type":"snapshot","data":{"s":"ETHUSDT","b":[["2000.5","1.2"],["2000.0","3"]],"a":[["2001.0","0.8"]],"u":42}}`)

		ev, err := DecodeBookMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		snap, ok := ev.(domain.BookSnapshot)
		if !ok {
			t.Fatalf("expected BookSnapshot, got %T", ev)
		}
		if snap.Symbol != "ETHUSDT" || snap.Seq != 42 {
			t.Errorf("header: symbol=%q seq=%d", snap.Symbol, snap.Seq)
		}
		if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
			t.Fatalf("sides: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
		}
		if !snap.Bids[0].Price.Equal(decimal.RequireFromString("2000.5")) {
			t.Errorf("best bid price %v", snap.Bids[0].Price)
		}
		if !snap.Asks[0].Size.Equal(decimal.RequireFromString("0.8")) {
			t.Errorf("ask size %v", snap.Asks[0].Size)
		}
	})

	t.Run("Delta With Zero Size Removal", func(t *testing.T) {
		raw := []byte(`{"type":"delta","data":{"s":"ETHUSDT","b":[["2000.5","0"]],"a":[],"u":43}}`)

		ev, err := DecodeBookMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		delta, ok := ev.(domain.BookDelta)
		if !ok {
			t.Fatalf("expected BookDelta, got %T", ev)
		}
		if delta.Seq != 43 {
			t.Errorf("seq %d", delta.Seq)
		}
		if len(delta.Bids) != 1 || !delta.Bids[0].Size.IsZero() {
			t.Error("zero-size level must survive decoding for the replica to remove")
		}
	})

	t.Run("Malformed Level", func(t *testing.T) {
		raw := []byte(`{"type":"delta","data":{"s":"ETHUSDT","b":[["2000.5"]],"a":[],"u":44}}`)
		if _, err := DecodeBookMessage(raw); err == nil {
			t.Error("short pair must be an error")
		}
	})
}

func TestDecodeBookMessage_LeveledFormat(t *testing.T) {
	raw := []byte(`{"channel":"l2Book","data":{"coin":"ETH","time":1700000000000,"levels":[[{"px":"2000.5","sz":"1.2"},{"px":"2000.0","sz":"3"}],[{"px":"2001.0","sz":"0.8"}]]}}`)

	ev, err := DecodeBookMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	snap, ok := ev.(domain.BookSnapshot)
	if !ok {
		t.Fatalf("leveled format is always a full snapshot, got %T", ev)
	}
	if snap.Symbol != "ETH" {
		t.Errorf("symbol %q", snap.Symbol)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("sides: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[1].Price.Equal(decimal.RequireFromString("2000.0")) {
		t.Errorf("second bid %v", snap.Bids[1].Price)
	}
	if snap.Time.UnixMilli() != 1700000000000 {
		t.Errorf("time %v", snap.Time)
	}
}

func TestDecodeBookMessage_Ignored(t *testing.T) {
	for _, raw := range []string{
		`{"op":"subscribe","success":true}`,
		`{"type":"pong"}`,
		`{}`,
	} {
		ev, err := DecodeBookMessage([]byte(raw))
		if err != nil {
			t.Errorf("non-book message %s should be skipped, got error %v", raw, err)
		}
		if ev != nil {
			t.Errorf("non-book message %s should decode to nil, got %T", raw, ev)
		}
	}
}

func TestDecodeUserMessage(t *testing.T) {
	t.Run("Fills", func(t *testing.T) {
		raw := []byte(`{"channel":"user","data":{"fills":[{"coin":"ETH","px":"2000.5","sz":"0.5","side":"B","fee":"0.2","cloid":"mm_1_abc","time":1700000000000}]}}`)

		ev, err := DecodeUserMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if ev == nil || len(ev.Fills) != 1 {
			t.Fatal("expected one fill")
		}
		fill := ev.Fills[0]
		if fill.Side != domain.SideBuy {
			t.Errorf("side %q", fill.Side)
		}
		if !fill.Price.Equal(decimal.RequireFromString("2000.5")) || !fill.Fee.Equal(decimal.RequireFromString("0.2")) {
			t.Errorf("price %v fee %v", fill.Price, fill.Fee)
		}
		if fill.ClientID != "mm_1_abc" {
			t.Errorf("client id %q", fill.ClientID)
		}
	})

	t.Run("Order Transitions Native Fields", func(t *testing.T) {
		raw := []byte(`{"channel":"user","data":{"orders":[{"cloid":"mm_1_abc","oid":"987","status":"filled","limitPx":"2000.5","sz":"0.5"}]}}`)

		ev, err := DecodeUserMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(ev.Orders) != 1 {
			t.Fatal("expected one order event")
		}
		o := ev.Orders[0]
		if o.ClientID != "mm_1_abc" || o.ExchangeID != "987" || o.Status != domain.OrderFilled {
			t.Errorf("order event %+v", o)
		}
	})

	t.Run("Order Transitions Alias Fields", func(t *testing.T) {
		raw := []byte(`{"channel":"user","data":{"orders":[{"orderLinkId":"mm_2_def","orderStatus":"PartiallyFilled"}]}}`)

		ev, err := DecodeUserMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		o := ev.Orders[0]
		if o.ClientID != "mm_2_def" || o.Status != domain.OrderPartiallyFilled {
			t.Errorf("order event %+v", o)
		}
	})

	t.Run("Positions", func(t *testing.T) {
		raw := []byte(`{"channel":"user","data":{"positions":[{"coin":"ETH","szi":"-1.5","entryPx":"2010"}]}}`)

		ev, err := DecodeUserMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		p := ev.Positions[0]
		if !p.Size.Equal(decimal.RequireFromString("-1.5")) || !p.EntryPrice.Equal(decimal.NewFromInt(2010)) {
			t.Errorf("position %+v", p)
		}
	})

	t.Run("Empty Payload Skipped", func(t *testing.T) {
		ev, err := DecodeUserMessage([]byte(`{"channel":"user","data":{}}`))
		if err != nil || ev != nil {
			t.Errorf("empty user payload: ev=%v err=%v", ev, err)
		}
	})
}
