package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market_maker/internal/domain"
	"market_maker/internal/feed"
	"market_maker/internal/infra"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 20 * time.Second
)

// Worker maintains the websocket connection and feeds decoded events into
// the engine's inboxes. One connection carries both subscriptions: the
// order book for the symbol and the account's user events. Reconnects use
// exponential backoff and re-subscribe from scratch; the first message
// after a reconnect is always a full book snapshot, so the replica heals
// itself.
type Worker struct {
	wsURL   string
	symbol  string
	account string

	marketInbox chan<- domain.BookEvent
	userInbox   chan<- domain.UserEvent

	log     *slog.Logger
	metrics *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a disconnected worker.
func NewWorker(wsURL, symbol, account string, marketInbox chan<- domain.BookEvent, userInbox chan<- domain.UserEvent, log *slog.Logger, metrics *infra.Metrics) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		wsURL:       wsURL,
		symbol:      symbol,
		account:     account,
		marketInbox: marketInbox,
		userInbox:   userInbox,
		log:         log.With(slog.String("component", "ws_worker")),
		metrics:     metrics,
	}
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			w.log.Warn("connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		retryCount = 0
		w.readLoop(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	if w.metrics != nil {
		w.metrics.IncrementConnections()
	}
	w.log.Info("connected", slog.String("url", w.wsURL))
	return nil
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
}

func (w *Worker) subscribe() error {
	subs := []subscription{
		{Type: "l2Book", Coin: w.symbol},
	}
	if w.account != "" {
		subs = append(subs, subscription{Type: "userEvents", User: w.account})
	}

	for _, sub := range subs {
		b, err := json.Marshal(subscribeRequest{Method: "subscribe", Subscription: sub})
		if err != nil {
			return err
		}
		if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.isConnected() {
				return
			}
			if err := w.threadSafeWrite(websocket.TextMessage, []byte(`{"method":"ping"}`)); err != nil {
				return
			}
		}
	}
}

func (w *Worker) isConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	defer func() {
		w.closeConnection()
		if w.metrics != nil {
			w.metrics.DecrementConnections()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.log.Warn("read failed, reconnecting", slog.Any("error", err))
			return
		}
		w.handleMessage(ctx, msg)
	}
}

// handleMessage routes one raw frame. Book and user payloads are disjoint
// shapes, so both decoders run and at most one produces an event.
func (w *Worker) handleMessage(ctx context.Context, msg []byte) {
	if ev, err := feed.DecodeBookMessage(msg); err != nil {
		w.log.Warn("bad book message", slog.Any("error", err))
		return
	} else if ev != nil {
		select {
		case w.marketInbox <- ev:
		default:
			w.log.Warn("market inbox full, dropping book event")
		}
		return
	}

	if ev, err := feed.DecodeUserMessage(msg); err == nil && ev != nil {
		// User events are never dropped while the engine runs: fills and
		// order transitions must reach it. The ctx arm keeps a full inbox
		// from wedging the read loop during shutdown.
		select {
		case w.userInbox <- *ev:
		case <-ctx.Done():
		}
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the connection loop and waits for it to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
