// Package hyperliquid is the venue adapter: a signed REST client
// implementing the execution interface and a websocket worker feeding the
// engine's inboxes.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

const (
	exchangePath = "/exchange"
	infoPath     = "/info"
)

// Client is the venue REST client. It satisfies domain.Execution. Error
// classification is the caller's retry contract: transport failures, 429
// and 5xx are retriable; 4xx and business rejections are not.
type Client struct {
	http   *resty.Client
	signer *Signer
	symbol string
	log    *slog.Logger
}

// NewClient creates a REST client for one symbol.
func NewClient(restURL, account, apiKey, symbol string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	http := resty.New().
		SetBaseURL(restURL).
		SetTimeout(timeout)

	return &Client{
		http:   http,
		signer: NewSigner(account, apiKey),
		symbol: symbol,
		log:    log.With(slog.String("component", "exchange_client")),
	}
}

type actionRequest struct {
	Action any   `json:"action"`
	Nonce  int64 `json:"nonce"`
}

type orderAction struct {
	Type   string      `json:"type"`
	Orders []orderSpec `json:"orders"`
}

type orderSpec struct {
	Coin     string `json:"coin"`
	IsBuy    bool   `json:"is_buy"`
	LimitPx  string `json:"limit_px"`
	Sz       string `json:"sz"`
	ClientID string `json:"cloid"`
	Tif      string `json:"tif"` // Alo: post-only, never takes
}

// PlaceOrder submits one post-only limit order and returns the venue's
// raw acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, side domain.Side, price, size decimal.Decimal, clientID string) ([]byte, error) {
	action := orderAction{
		Type: "order",
		Orders: []orderSpec{{
			Coin:     c.symbol,
			IsBuy:    side == domain.SideBuy,
			LimitPx:  price.String(),
			Sz:       size.String(),
			ClientID: clientID,
			Tif:      "Alo",
		}},
	}

	body, err := c.postSigned(ctx, "place", exchangePath, action)
	if err != nil {
		return nil, err
	}
	return body, nil
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []cancelSpec `json:"cancels"`
}

type cancelSpec struct {
	Coin     string `json:"coin"`
	ClientID string `json:"cloid,omitempty"`
	Oid      string `json:"oid,omitempty"`
}

// CancelOrder cancels by client id, falling back to the exchange id when
// the client id was never acknowledged.
func (c *Client) CancelOrder(ctx context.Context, clientID, exchangeID string) error {
	spec := cancelSpec{Coin: c.symbol, ClientID: clientID}
	if clientID == "" {
		spec.Oid = exchangeID
	}
	action := cancelAction{Type: "cancelByCloid", Cancels: []cancelSpec{spec}}

	_, err := c.postSigned(ctx, "cancel", exchangePath, action)
	return err
}

// CancelAllOrders cancels every resting order for the symbol.
func (c *Client) CancelAllOrders(ctx context.Context) (int, error) {
	action := struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	}{Type: "cancelAll", Coin: c.symbol}

	body, err := c.postSigned(ctx, "cancel_all", exchangePath, action)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Cancelled int `json:"cancelled"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, nil
	}
	return resp.Cancelled, nil
}

// GetOpenOrders queries the venue's resting orders for the account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	query := struct {
		Type string `json:"type"`
		User string `json:"user"`
		Coin string `json:"coin"`
	}{Type: "openOrders", User: c.signer.account, Coin: c.symbol}

	body, err := c.postSigned(ctx, "open_orders", infoPath, query)
	if err != nil {
		return nil, err
	}

	var wire []struct {
		Oid      json.Number `json:"oid"`
		ClientID string      `json:"cloid"`
		Side     string      `json:"side"` // "B" or "A"
		LimitPx  string      `json:"limitPx"`
		Sz       string      `json:"sz"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, domain.NewExchangeError("open_orders", fmt.Errorf("parse response: %w", err))
	}

	orders := make([]domain.OpenOrder, 0, len(wire))
	for _, o := range wire {
		order := domain.OpenOrder{
			ClientID:   o.ClientID,
			ExchangeID: o.Oid.String(),
			Side:       domain.SideSell,
		}
		if o.Side == "B" {
			order.Side = domain.SideBuy
		}
		if order.Price, err = decimal.NewFromString(o.LimitPx); err != nil {
			return nil, domain.NewExchangeError("open_orders", fmt.Errorf("bad price %q: %w", o.LimitPx, err))
		}
		if order.Size, err = decimal.NewFromString(o.Sz); err != nil {
			return nil, domain.NewExchangeError("open_orders", fmt.Errorf("bad size %q: %w", o.Sz, err))
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetPosition returns the account's position for the symbol, nil if flat.
func (c *Client) GetPosition(ctx context.Context) (*domain.PositionUpdate, error) {
	query := struct {
		Type string `json:"type"`
		User string `json:"user"`
	}{Type: "clearinghouseState", User: c.signer.account}

	body, err := c.postSigned(ctx, "position", infoPath, query)
	if err != nil {
		return nil, err
	}

	var wire struct {
		AssetPositions []struct {
			Position struct {
				Coin          string `json:"coin"`
				Szi           string `json:"szi"`
				EntryPx       string `json:"entryPx"`
				UnrealizedPnl string `json:"unrealizedPnl"`
			} `json:"position"`
		} `json:"assetPositions"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, domain.NewExchangeError("position", fmt.Errorf("parse response: %w", err))
	}

	for _, ap := range wire.AssetPositions {
		if ap.Position.Coin != c.symbol {
			continue
		}
		size, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil {
			return nil, domain.NewExchangeError("position", fmt.Errorf("bad size %q: %w", ap.Position.Szi, err))
		}
		if size.IsZero() {
			return nil, nil
		}
		pos := &domain.PositionUpdate{Size: size}
		if ap.Position.EntryPx != "" {
			if pos.EntryPrice, err = decimal.NewFromString(ap.Position.EntryPx); err != nil {
				return nil, domain.NewExchangeError("position", fmt.Errorf("bad entry %q: %w", ap.Position.EntryPx, err))
			}
		}
		if ap.Position.UnrealizedPnl != "" {
			if pos.UnrealizedPnL, err = decimal.NewFromString(ap.Position.UnrealizedPnl); err != nil {
				return nil, domain.NewExchangeError("position", fmt.Errorf("bad pnl %q: %w", ap.Position.UnrealizedPnl, err))
			}
		}
		return pos, nil
	}
	return nil, nil
}

// SetLeverage sets the account leverage for the symbol.
func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	action := struct {
		Type     string `json:"type"`
		Coin     string `json:"coin"`
		Leverage int    `json:"leverage"`
		IsCross  bool   `json:"is_cross"`
	}{Type: "updateLeverage", Coin: c.symbol, Leverage: leverage, IsCross: true}

	_, err := c.postSigned(ctx, "set_leverage", exchangePath, action)
	return err
}

// postSigned marshals the action into a nonce-wrapped request, signs the
// exact body bytes and posts them. Business errors in a 200 response are
// surfaced as rejections.
func (c *Client) postSigned(ctx context.Context, op, path string, action any) ([]byte, error) {
	req := actionRequest{Action: action, Nonce: time.Now().UnixMilli()}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewRejectionError(op, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.GenerateHeaders("POST", path, string(body))).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, domain.NewExchangeError(op, err)
	}

	status := resp.StatusCode()
	switch {
	case status == 429 || status >= 500:
		return nil, domain.NewExchangeError(op, fmt.Errorf("http %d: %s", status, truncate(resp.Body())))
	case status >= 400:
		return nil, domain.NewRejectionError(op, fmt.Errorf("http %d: %s", status, truncate(resp.Body())))
	}

	// A 200 can still carry a business rejection.
	var envelope struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Status == "err" {
		return nil, domain.NewRejectionError(op, fmt.Errorf("%s", envelope.Error))
	}

	return resp.Body(), nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "... (" + strconv.Itoa(len(body)) + " bytes)"
	}
	return string(body)
}
