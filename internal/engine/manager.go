package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
	"market_maker/internal/infra"
	"market_maker/internal/strategy"
)

// ManagerConfig bounds the lifecycle manager's exchange calls.
type ManagerConfig struct {
	DryRun         bool
	RetryPolicy    infra.RetryPolicy
	RequestTimeout time.Duration
	PriceTolerance decimal.Decimal // absolute tolerance when matching targets to resting quotes
}

// Manager owns the active-order table and every order mutation that goes
// to the exchange. The table is keyed by client order id; the exchange id
// is attached once the placement ack arrives. All mutations are retried
// per the configured policy, and the table only changes on confirmed
// outcomes.
type Manager struct {
	cfg     ManagerConfig
	exec    domain.Execution
	log     *slog.Logger
	audit   *slog.Logger
	metrics *infra.Metrics

	mu     sync.Mutex
	active map[string]domain.TrackedOrder

	now func() time.Time
}

// NewManager creates a lifecycle manager trading through exec. audit is
// the dedicated fill/order audit logger; pass nil to reuse log.
func NewManager(cfg ManagerConfig, exec domain.Execution, log, audit *slog.Logger, metrics *infra.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if audit == nil {
		audit = log
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy = infra.DefaultRetryPolicy()
	}
	if cfg.PriceTolerance.IsZero() {
		cfg.PriceTolerance = decimal.RequireFromString("0.01")
	}
	return &Manager{
		cfg:     cfg,
		exec:    exec,
		log:     log.With(slog.String("component", "order_manager")),
		audit:   audit,
		metrics: metrics,
		active:  make(map[string]domain.TrackedOrder),
		now:     time.Now,
	}
}

// newClientID returns a fresh client order id: mm_<millis>_<uuid8>.
func (m *Manager) newClientID() string {
	return fmt.Sprintf("mm_%d_%s", m.now().UnixMilli(), uuid.NewString()[:8])
}

// PlaceOrder submits one limit order, retrying transient failures, and
// tracks it on success. The returned order carries the assigned client id
// and, when the ack contained one, the exchange id.
func (m *Manager) PlaceOrder(ctx context.Context, side domain.Side, price, size decimal.Decimal) (domain.TrackedOrder, error) {
	order := domain.TrackedOrder{
		ClientID:  m.newClientID(),
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    domain.OrderActive,
		CreatedAt: m.now(),
	}

	if m.cfg.DryRun {
		order.ExchangeID = "dry_" + order.ClientID
		m.track(order)
		m.log.Info("dry-run order placed",
			slog.String("client_id", order.ClientID),
			slog.String("side", string(side)),
			slog.String("price", price.String()),
			slog.String("size", size.String()))
		return order, nil
	}

	var ack []byte
	attempt := 0
	err := infra.Retry(ctx, m.cfg.RetryPolicy, func(ctx context.Context) error {
		if attempt > 0 && m.metrics != nil {
			m.metrics.RecordPlaceRetry()
		}
		attempt++

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()

		var err error
		ack, err = m.exec.PlaceOrder(callCtx, side, price, size, order.ClientID)
		return err
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError()
		}
		m.log.Error("order placement failed",
			slog.String("client_id", order.ClientID),
			slog.String("side", string(side)),
			slog.String("price", price.String()),
			slog.Any("error", err))
		return domain.TrackedOrder{}, err
	}

	order.ExchangeID = extractExchangeID(ack)
	m.track(order)

	if m.metrics != nil {
		m.metrics.RecordOrderPlaced()
	}
	m.log.Info("order placed",
		slog.String("client_id", order.ClientID),
		slog.String("exchange_id", order.ExchangeID),
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("size", size.String()))
	return order, nil
}

// CancelOrder cancels one tracked order. The order stays in the table
// unless the exchange confirms the cancel.
func (m *Manager) CancelOrder(ctx context.Context, clientID string) error {
	m.mu.Lock()
	order, ok := m.active[clientID]
	m.mu.Unlock()
	if !ok {
		return domain.ErrOrderNotFound
	}

	if !m.cfg.DryRun {
		err := infra.Retry(ctx, m.cfg.RetryPolicy, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			defer cancel()
			return m.exec.CancelOrder(callCtx, order.ClientID, order.ExchangeID)
		})
		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordError()
			}
			m.log.Warn("order cancel failed",
				slog.String("client_id", clientID),
				slog.Any("error", err))
			return err
		}
	}

	m.untrack(clientID)
	if m.metrics != nil {
		m.metrics.RecordOrderCancelled()
	}
	m.log.Info("order cancelled", slog.String("client_id", clientID))
	return nil
}

// CancelAll cancels every resting order and clears the table. Used on
// emergency stop and shutdown, so it reports but does not retry past the
// policy budget.
func (m *Manager) CancelAll(ctx context.Context) error {
	if !m.cfg.DryRun {
		var cancelled int
		err := infra.Retry(ctx, m.cfg.RetryPolicy, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			defer cancel()
			var err error
			cancelled, err = m.exec.CancelAllOrders(callCtx)
			return err
		})
		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordError()
			}
			return fmt.Errorf("cancel all orders: %w", err)
		}
		m.log.Info("all orders cancelled", slog.Int("count", cancelled))
	}

	m.mu.Lock()
	n := len(m.active)
	m.active = make(map[string]domain.TrackedOrder)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveOrders(0)
	}
	m.log.Info("active-order table cleared", slog.Int("dropped", n))
	return nil
}

// Reconcile aligns the local table with the exchange's open-order list:
// locally tracked orders absent from the exchange are dropped (filled or
// cancelled while we weren't looking), and exchange orders we don't track
// are adopted.
func (m *Manager) Reconcile(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	open, err := m.exec.GetOpenOrders(callCtx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError()
		}
		return fmt.Errorf("reconcile: %w", err)
	}

	onExchange := make(map[string]domain.OpenOrder, len(open))
	for _, o := range open {
		if o.ClientID != "" {
			onExchange[o.ClientID] = o
		}
	}

	m.mu.Lock()
	var dropped, adopted int
	for clientID := range m.active {
		if _, ok := onExchange[clientID]; !ok {
			delete(m.active, clientID)
			dropped++
		}
	}
	for clientID, o := range onExchange {
		if _, ok := m.active[clientID]; !ok {
			m.active[clientID] = domain.TrackedOrder{
				ClientID:   o.ClientID,
				ExchangeID: o.ExchangeID,
				Side:       o.Side,
				Price:      o.Price,
				Size:       o.Size,
				Status:     domain.OrderActive,
				CreatedAt:  m.now(),
			}
			adopted++
		}
	}
	count := len(m.active)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordReconcile()
		m.metrics.SetActiveOrders(int32(count))
	}
	if dropped > 0 || adopted > 0 {
		m.log.Info("reconciled active orders",
			slog.Int("dropped", dropped),
			slog.Int("adopted", adopted),
			slog.Int("active", count))
	}
	return nil
}

// HandleOrderUpdate applies one order transition from the user stream.
// Terminal states remove the order from the table; partial fills are
// noted but the resting order stays tracked at full size, since the venue
// keeps the remainder working at the same price.
func (m *Manager) HandleOrderUpdate(ev domain.OrderEvent) {
	m.mu.Lock()
	order, ok := m.active[ev.ClientID]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Status {
	case domain.OrderFilled:
		m.untrack(ev.ClientID)
		if m.metrics != nil {
			m.metrics.RecordOrderFilled()
		}
		m.audit.Info("order filled",
			slog.String("client_id", ev.ClientID),
			slog.String("side", string(order.Side)),
			slog.String("price", order.Price.String()),
			slog.String("size", order.Size.String()))
	case domain.OrderCancelled, domain.OrderRejected:
		m.untrack(ev.ClientID)
		m.log.Info("order closed by exchange",
			slog.String("client_id", ev.ClientID),
			slog.String("status", string(ev.Status)))
	case domain.OrderPartiallyFilled:
		m.log.Info("order partially filled",
			slog.String("client_id", ev.ClientID),
			slog.String("price", order.Price.String()))
	}
}

// ReplaceOrders drives the table toward the strategy's targets: stale
// orders are cancelled first, then missing quotes are placed. Matched
// orders are untouched, so calling it twice with the same inputs does
// nothing the second time.
func (m *Manager) ReplaceOrders(ctx context.Context, toCancel []string, targets []strategy.Target) error {
	var firstErr error

	for _, clientID := range toCancel {
		if err := m.CancelOrder(ctx, clientID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, target := range targets {
		// The target list may be stale by the time it reaches us: fills,
		// reconciles and earlier placements in this very loop all mutate
		// the table. Re-check immediately before placing so a repeated
		// target never rests twice.
		if m.hasActiveQuote(target.Side, target.Price) {
			continue
		}
		if _, err := m.PlaceOrder(ctx, target.Side, target.Price, target.Size); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// hasActiveQuote reports whether a tracked order of the same side rests
// within the price tolerance of price.
func (m *Manager) hasActiveQuote(side domain.Side, price decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.active {
		if order.Side == side && order.Price.Sub(price).Abs().LessThan(m.cfg.PriceTolerance) {
			return true
		}
	}
	return false
}

// ActiveOrders returns a copy of the active-order table.
func (m *Manager) ActiveOrders() map[string]domain.TrackedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.TrackedOrder, len(m.active))
	for k, v := range m.active {
		out[k] = v
	}
	return out
}

// ActiveCount returns the number of tracked orders.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) track(order domain.TrackedOrder) {
	m.mu.Lock()
	m.active[order.ClientID] = order
	count := len(m.active)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetActiveOrders(int32(count))
	}
}

func (m *Manager) untrack(clientID string) {
	m.mu.Lock()
	delete(m.active, clientID)
	count := len(m.active)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetActiveOrders(int32(count))
	}
}

// extractExchangeID pulls the exchange-assigned order id out of a
// placement ack. Two shapes are understood: {"result":{"orderId":"..."}}
// and {"status":{"resting":[{"oid":123}]}}. An unrecognized payload
// yields an empty id; the next reconcile fills it in.
func extractExchangeID(ack []byte) string {
	if len(ack) == 0 {
		return ""
	}

	var restShape struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(ack, &restShape); err == nil && restShape.Result.OrderID != "" {
		return restShape.Result.OrderID
	}

	var restingShape struct {
		Status struct {
			Resting []struct {
				Oid json.Number `json:"oid"`
			} `json:"resting"`
		} `json:"status"`
	}
	if err := json.Unmarshal(ack, &restingShape); err == nil && len(restingShape.Status.Resting) > 0 {
		return restingShape.Status.Resting[0].Oid.String()
	}
	return ""
}
