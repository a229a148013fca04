package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "0xabc", "secret", "ETH", 2*time.Second, nil)
}

func TestClient_PlaceOrder(t *testing.T) {
	t.Run("Success Returns Raw Ack", func(t *testing.T) {
		var gotBody actionRequest
		var gotSig string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotSig = r.Header.Get("X-Signature")
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte(`{"status":{"resting":[{"oid":777}]}}`))
		})

		ack, err := c.PlaceOrder(context.Background(), domain.SideBuy,
			decimal.RequireFromString("2000.5"), decimal.RequireFromString("0.5"), "mm_1_abc")
		if err != nil {
			t.Fatalf("place failed: %v", err)
		}
		if string(ack) != `{"status":{"resting":[{"oid":777}]}}` {
			t.Errorf("ack body %s", ack)
		}
		if gotSig == "" {
			t.Error("request must be signed")
		}
		if gotBody.Nonce == 0 {
			t.Error("request must carry a nonce")
		}
	})

	t.Run("Server Error Is Retriable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := c.PlaceOrder(context.Background(), domain.SideBuy,
			decimal.NewFromInt(2000), decimal.NewFromInt(1), "mm_1_abc")
		if err == nil {
			t.Fatal("expected error")
		}
		if !domain.IsRetriable(err) {
			t.Error("5xx must be retriable")
		}
	})

	t.Run("Client Error Is Rejection", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid size"}`))
		})

		_, err := c.PlaceOrder(context.Background(), domain.SideBuy,
			decimal.NewFromInt(2000), decimal.NewFromInt(1), "mm_1_abc")
		if err == nil {
			t.Fatal("expected error")
		}
		if domain.IsRetriable(err) {
			t.Error("4xx must not be retriable")
		}
	})

	t.Run("Business Rejection In 200", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"err","error":"price off tick"}`))
		})

		_, err := c.PlaceOrder(context.Background(), domain.SideBuy,
			decimal.NewFromInt(2000), decimal.NewFromInt(1), "mm_1_abc")
		if err == nil {
			t.Fatal("expected error")
		}
		if domain.IsRetriable(err) {
			t.Error("business rejection must not be retriable")
		}
	})

	t.Run("Rate Limit Is Retriable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := c.PlaceOrder(context.Background(), domain.SideBuy,
			decimal.NewFromInt(2000), decimal.NewFromInt(1), "mm_1_abc")
		if !domain.IsRetriable(err) {
			t.Error("429 must be retriable")
		}
	})
}

func TestClient_GetOpenOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != infoPath {
			t.Errorf("open orders must hit %s, got %s", infoPath, r.URL.Path)
		}
		w.Write([]byte(`[
			{"oid":1,"cloid":"mm_1_a","side":"B","limitPx":"1999.5","sz":"0.5"},
			{"oid":2,"cloid":"mm_1_b","side":"A","limitPx":"2001.5","sz":"0.4"}
		]`))
	})

	orders, err := c.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("open orders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Side != domain.SideBuy || orders[0].ExchangeID != "1" {
		t.Errorf("first order %+v", orders[0])
	}
	if !orders[1].Price.Equal(decimal.RequireFromString("2001.5")) {
		t.Errorf("second order price %v", orders[1].Price)
	}
}

func TestClient_GetPosition(t *testing.T) {
	t.Run("Open Position", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"assetPositions":[
				{"position":{"coin":"BTC","szi":"0.1","entryPx":"60000"}},
				{"position":{"coin":"ETH","szi":"-2.5","entryPx":"2010.5","unrealizedPnl":"-12.5"}}
			]}`))
		})

		pos, err := c.GetPosition(context.Background())
		if err != nil {
			t.Fatalf("position failed: %v", err)
		}
		if pos == nil {
			t.Fatal("expected a position")
		}
		if !pos.Size.Equal(decimal.RequireFromString("-2.5")) {
			t.Errorf("size %v", pos.Size)
		}
		if !pos.EntryPrice.Equal(decimal.RequireFromString("2010.5")) {
			t.Errorf("entry %v", pos.EntryPrice)
		}
		if !pos.UnrealizedPnL.Equal(decimal.RequireFromString("-12.5")) {
			t.Errorf("pnl %v", pos.UnrealizedPnL)
		}
	})

	t.Run("Flat Returns Nil", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"assetPositions":[]}`))
		})

		pos, err := c.GetPosition(context.Background())
		if err != nil {
			t.Fatalf("position failed: %v", err)
		}
		if pos != nil {
			t.Errorf("flat account must return nil, got %+v", pos)
		}
	})
}

func TestClient_CancelAllOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cancelled":5}`))
	})

	n, err := c.CancelAllOrders(context.Background())
	if err != nil {
		t.Fatalf("cancel all failed: %v", err)
	}
	if n != 5 {
		t.Errorf("cancelled count %d", n)
	}
}
