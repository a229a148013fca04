// Package feed decodes exchange wire messages into canonical domain
// events. Two book formats are supported: flat [price,size] pairs with an
// explicit sequence id and per-message type (snapshot/delta), and the
// l2Book shape of per-side level objects that is always a full
// replacement. The core never sees wire shapes; it consumes the decoded
// events only.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

// pairBookMessage is wire shape A: flat [price, size] string pairs with a
// message type and sequence id.
type pairBookMessage struct {
	Type string `json:"type"` // "snapshot" or "delta"
	Data struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Seq    uint64     `json:"u"`
	} `json:"data"`
}

// leveledBookMessage is wire shape B: per-side level objects, always a
// full replacement of the book.
type leveledBookMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Coin   string        `json:"coin"`
		Levels [][]wireLevel `json:"levels"` // [bids, asks]
		Time   int64         `json:"time"`   // milliseconds
	} `json:"data"`
}

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

// userMessage carries account-stream payloads. Field names follow the
// venue's user channel; order entries additionally accept the
// orderLinkId/orderStatus aliases used by the pair-format venues.
type userMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Fills     []wireFill     `json:"fills"`
		Orders    []wireOrder    `json:"orders"`
		Positions []wirePosition `json:"positions"`
	} `json:"data"`
}

type wireFill struct {
	Coin     string `json:"coin"`
	Px       string `json:"px"`
	Sz       string `json:"sz"`
	Side     string `json:"side"` // "B"/"A" or "buy"/"sell"
	Fee      string `json:"fee"`
	ClientID string `json:"cloid"`
	Time     int64  `json:"time"`
}

type wireOrder struct {
	ClientID    string `json:"cloid"`
	ExchangeID  string `json:"oid"`
	Status      string `json:"status"`
	LimitPx     string `json:"limitPx"`
	Sz          string `json:"sz"`
	OrderLinkID string `json:"orderLinkId"` // pair-format alias for cloid
	OrderStatus string `json:"orderStatus"` // pair-format alias for status
}

type wirePosition struct {
	Coin    string `json:"coin"`
	Szi     string `json:"szi"`
	EntryPx string `json:"entryPx"`
}

// DecodeBookMessage decodes a market-data message into a BookSnapshot or
// BookDelta. Messages that are not book updates decode to (nil, nil);
// malformed book payloads return an error.
func DecodeBookMessage(msg []byte) (domain.BookEvent, error) {
	// Shape B: leveled l2Book replacement.
	var leveled leveledBookMessage
	if err := json.Unmarshal(msg, &leveled); err == nil && leveled.Data.Coin != "" && leveled.Data.Levels != nil {
		return decodeLeveled(leveled)
	}

	// Shape A: typed pair message.
	var paired pairBookMessage
	if err := json.Unmarshal(msg, &paired); err != nil {
		return nil, fmt.Errorf("decode book message: %w", err)
	}

	switch paired.Type {
	case "snapshot":
		bids, asks, err := decodePairSides(paired.Data.Bids, paired.Data.Asks)
		if err != nil {
			return nil, err
		}
		return domain.BookSnapshot{
			Symbol: paired.Data.Symbol,
			Bids:   bids,
			Asks:   asks,
			Seq:    paired.Data.Seq,
			Time:   time.Now(),
		}, nil
	case "delta":
		bids, asks, err := decodePairSides(paired.Data.Bids, paired.Data.Asks)
		if err != nil {
			return nil, err
		}
		return domain.BookDelta{
			Symbol: paired.Data.Symbol,
			Bids:   bids,
			Asks:   asks,
			Seq:    paired.Data.Seq,
			Time:   time.Now(),
		}, nil
	default:
		// Subscription acks, heartbeats, unknown channels.
		return nil, nil
	}
}

func decodeLeveled(msg leveledBookMessage) (domain.BookEvent, error) {
	snap := domain.BookSnapshot{Symbol: msg.Data.Coin}
	if msg.Data.Time > 0 {
		snap.Time = time.UnixMilli(msg.Data.Time)
	} else {
		snap.Time = time.Now()
	}

	if len(msg.Data.Levels) >= 1 {
		bids, err := decodeLevelSide(msg.Data.Levels[0])
		if err != nil {
			return nil, err
		}
		snap.Bids = bids
	}
	if len(msg.Data.Levels) >= 2 {
		asks, err := decodeLevelSide(msg.Data.Levels[1])
		if err != nil {
			return nil, err
		}
		snap.Asks = asks
	}
	return snap, nil
}

func decodeLevelSide(levels []wireLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		price, err := decimal.NewFromString(lvl.Px)
		if err != nil {
			return nil, fmt.Errorf("bad level price %q: %w", lvl.Px, err)
		}
		size, err := decimal.NewFromString(lvl.Sz)
		if err != nil {
			return nil, fmt.Errorf("bad level size %q: %w", lvl.Sz, err)
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

func decodePairSides(rawBids, rawAsks [][]string) (bids, asks []domain.PriceLevel, err error) {
	if bids, err = decodePairSide(rawBids); err != nil {
		return nil, nil, err
	}
	if asks, err = decodePairSide(rawAsks); err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func decodePairSide(raw [][]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level pair has %d elements", len(pair))
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("bad pair price %q: %w", pair[0], err)
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("bad pair size %q: %w", pair[1], err)
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// DecodeUserMessage decodes an account-stream message into fills, order
// transitions and position updates. Non-user messages decode to
// (nil, nil).
func DecodeUserMessage(msg []byte) (*domain.UserEvent, error) {
	var wire userMessage
	if err := json.Unmarshal(msg, &wire); err != nil {
		return nil, fmt.Errorf("decode user message: %w", err)
	}

	if len(wire.Data.Fills) == 0 && len(wire.Data.Orders) == 0 && len(wire.Data.Positions) == 0 {
		return nil, nil
	}

	ev := &domain.UserEvent{}

	for _, f := range wire.Data.Fills {
		fill := domain.FillEvent{
			Symbol:   f.Coin,
			Side:     decodeSide(f.Side),
			ClientID: f.ClientID,
		}
		var err error
		if fill.Price, err = decimal.NewFromString(f.Px); err != nil {
			return nil, fmt.Errorf("bad fill price %q: %w", f.Px, err)
		}
		if fill.Size, err = decimal.NewFromString(f.Sz); err != nil {
			return nil, fmt.Errorf("bad fill size %q: %w", f.Sz, err)
		}
		if f.Fee != "" {
			if fill.Fee, err = decimal.NewFromString(f.Fee); err != nil {
				return nil, fmt.Errorf("bad fill fee %q: %w", f.Fee, err)
			}
		}
		if f.Time > 0 {
			fill.Time = time.UnixMilli(f.Time)
		}
		ev.Fills = append(ev.Fills, fill)
	}

	for _, o := range wire.Data.Orders {
		order := domain.OrderEvent{
			ClientID:   o.ClientID,
			ExchangeID: o.ExchangeID,
			Status:     decodeOrderStatus(o.Status),
		}
		if order.ClientID == "" {
			order.ClientID = o.OrderLinkID
		}
		if o.Status == "" {
			order.Status = decodeOrderStatus(o.OrderStatus)
		}
		if o.LimitPx != "" {
			px, err := decimal.NewFromString(o.LimitPx)
			if err != nil {
				return nil, fmt.Errorf("bad order price %q: %w", o.LimitPx, err)
			}
			order.Price = px
		}
		if o.Sz != "" {
			sz, err := decimal.NewFromString(o.Sz)
			if err != nil {
				return nil, fmt.Errorf("bad order size %q: %w", o.Sz, err)
			}
			order.Size = sz
		}
		ev.Orders = append(ev.Orders, order)
	}

	for _, p := range wire.Data.Positions {
		pos := domain.PositionEvent{Symbol: p.Coin}
		var err error
		if pos.Size, err = decimal.NewFromString(p.Szi); err != nil {
			return nil, fmt.Errorf("bad position size %q: %w", p.Szi, err)
		}
		if p.EntryPx != "" {
			if pos.EntryPrice, err = decimal.NewFromString(p.EntryPx); err != nil {
				return nil, fmt.Errorf("bad entry price %q: %w", p.EntryPx, err)
			}
		}
		ev.Positions = append(ev.Positions, pos)
	}

	return ev, nil
}

func decodeSide(raw string) domain.Side {
	switch strings.ToLower(raw) {
	case "b", "buy", "bid":
		return domain.SideBuy
	default:
		return domain.SideSell
	}
}

func decodeOrderStatus(raw string) domain.OrderStatus {
	switch strings.ToLower(raw) {
	case "filled":
		return domain.OrderFilled
	case "partiallyfilled", "partially_filled":
		return domain.OrderPartiallyFilled
	case "cancelled", "canceled":
		return domain.OrderCancelled
	case "rejected":
		return domain.OrderRejected
	default:
		return domain.OrderActive
	}
}
