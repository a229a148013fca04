package execution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

func TestPaperExecution_ImplementsInterface(t *testing.T) {
	var _ domain.Execution = (*PaperExecution)(nil)
}

func TestPaperExecution_PlaceAndCancel(t *testing.T) {
	paper := NewPaperExecution("ETH")
	ctx := context.Background()

	ack, err := paper.PlaceOrder(ctx, domain.SideBuy,
		decimal.NewFromInt(2000), decimal.NewFromInt(1), "mm_1_a")
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	var resp struct {
		Status struct {
			Resting []struct {
				Oid int64 `json:"oid"`
			} `json:"resting"`
		} `json:"status"`
	}
	if err := json.Unmarshal(ack, &resp); err != nil {
		t.Fatalf("ack not parseable: %v", err)
	}
	if len(resp.Status.Resting) != 1 || resp.Status.Resting[0].Oid == 0 {
		t.Errorf("ack must carry a resting oid: %s", ack)
	}

	open, _ := paper.GetOpenOrders(ctx)
	if len(open) != 1 {
		t.Fatalf("expected 1 resting order, got %d", len(open))
	}

	if err := paper.CancelOrder(ctx, "mm_1_a", ""); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	open, _ = paper.GetOpenOrders(ctx)
	if len(open) != 0 {
		t.Error("cancelled order still resting")
	}

	if err := paper.CancelOrder(ctx, "mm_1_a", ""); err == nil {
		t.Error("cancelling an unknown order must fail")
	} else if domain.IsRetriable(err) {
		t.Error("unknown-order cancel must be a rejection, not retriable")
	}
}

func TestPaperExecution_RejectsBadOrders(t *testing.T) {
	paper := NewPaperExecution("ETH")

	_, err := paper.PlaceOrder(context.Background(), domain.SideBuy,
		decimal.Zero, decimal.NewFromInt(1), "mm_1_a")
	if err == nil {
		t.Fatal("zero price must be rejected")
	}
	if domain.IsRetriable(err) {
		t.Error("validation failure must not be retriable")
	}
}

func TestPaperExecution_FillsAndPosition(t *testing.T) {
	paper := NewPaperExecution("ETH")
	ctx := context.Background()

	pos, _ := paper.GetPosition(ctx)
	if pos != nil {
		t.Fatal("fresh simulator must be flat")
	}

	paper.PlaceOrder(ctx, domain.SideBuy, decimal.NewFromInt(2000), decimal.NewFromInt(1), "b1")
	paper.PlaceOrder(ctx, domain.SideBuy, decimal.NewFromInt(2010), decimal.NewFromInt(1), "b2")
	paper.PlaceOrder(ctx, domain.SideSell, decimal.NewFromInt(2020), decimal.NewFromInt(2), "s1")

	if _, err := paper.Fill("b1"); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if _, err := paper.Fill("b2"); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	pos, _ = paper.GetPosition(ctx)
	if pos == nil || !pos.Size.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("position after two buys: %+v", pos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(2005)) {
		t.Errorf("weighted entry %v, want 2005", pos.EntryPrice)
	}

	// Selling the full size flattens the book-keeping.
	fill, err := paper.Fill("s1")
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if fill.Side != domain.SideSell || !fill.Price.Equal(decimal.NewFromInt(2020)) {
		t.Errorf("sell fill %+v", fill)
	}

	pos, _ = paper.GetPosition(ctx)
	if pos != nil {
		t.Errorf("flat position must report nil, got %+v", pos)
	}

	if len(paper.Fills()) != 3 {
		t.Errorf("expected 3 fills, got %d", len(paper.Fills()))
	}
}

func TestPaperExecution_CancelAll(t *testing.T) {
	paper := NewPaperExecution("ETH")
	ctx := context.Background()

	paper.PlaceOrder(ctx, domain.SideBuy, decimal.NewFromInt(1999), decimal.NewFromInt(1), "a")
	paper.PlaceOrder(ctx, domain.SideSell, decimal.NewFromInt(2001), decimal.NewFromInt(1), "b")

	n, err := paper.CancelAllOrders(ctx)
	if err != nil {
		t.Fatalf("CancelAllOrders failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled %d, want 2", n)
	}
	open, _ := paper.GetOpenOrders(ctx)
	if len(open) != 0 {
		t.Error("orders remain after cancel-all")
	}
}
