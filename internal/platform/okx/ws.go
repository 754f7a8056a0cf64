package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookUpdateHandler is called for every translated book update.
type BookUpdateHandler func(domain.BookUpdate)

// RawFrameHandler is called with every raw inbound frame, before parsing.
type RawFrameHandler func([]byte)

// WSClient is a WebSocket client for the OKX public data feed. It manages the
// connection lifecycle, subscriptions, and dispatches messages to registered
// handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []SubscriptionArg

	// Handlers
	bookHandlers []BookUpdateHandler
	rawHandlers  []RawFrameHandler
	handlerMu    sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the public endpoint, e.g. "wss://ws.okx.com:8443/ws/v5/public".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the OKX public feed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("okx/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		cmd := WSCommand{Op: "subscribe", Args: w.subscriptions}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("okx/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channel for the specified instruments.
// The book channel is "books".
func (w *WSClient) Subscribe(ctx context.Context, channel string, instIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("okx/ws: not connected")
	}

	args := make([]SubscriptionArg, 0, len(instIDs))
	for _, id := range instIDs {
		args = append(args, SubscriptionArg{Channel: channel, InstID: id})
	}

	if err := w.sendCommand(WSCommand{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("okx/ws: subscribe to %s: %w", channel, err)
	}

	// Track subscriptions for reconnection.
	w.subscriptions = append(w.subscriptions, args...)

	return nil
}

// Unsubscribe unsubscribes from the given channel for the specified
// instruments. Resubscribing afterwards forces the server to resend a full
// snapshot, which is how a sequence gap is repaired.
func (w *WSClient) Unsubscribe(ctx context.Context, channel string, instIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("okx/ws: not connected")
	}

	args := make([]SubscriptionArg, 0, len(instIDs))
	for _, id := range instIDs {
		args = append(args, SubscriptionArg{Channel: channel, InstID: id})
	}

	if err := w.sendCommand(WSCommand{Op: "unsubscribe", Args: args}); err != nil {
		return fmt.Errorf("okx/ws: unsubscribe from %s: %w", channel, err)
	}

	// Remove matching subscriptions from the tracked list.
	instSet := make(map[string]struct{}, len(instIDs))
	for _, id := range instIDs {
		instSet[id] = struct{}{}
	}

	filtered := w.subscriptions[:0]
	for _, sub := range w.subscriptions {
		_, instMatch := instSet[sub.InstID]
		if sub.Channel == channel && instMatch {
			continue
		}
		filtered = append(filtered, sub)
	}
	w.subscriptions = filtered

	return nil
}

// Resubscribe unsubscribes and immediately resubscribes the given channel and
// instruments to trigger a fresh snapshot from the server.
func (w *WSClient) Resubscribe(ctx context.Context, channel string, instIDs []string) error {
	if err := w.Unsubscribe(ctx, channel, instIDs); err != nil {
		return err
	}
	return w.Subscribe(ctx, channel, instIDs)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Send a close message to the server.
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnBookUpdate registers a handler that is called for every book update
// received on the "books" channel, snapshot and incremental alike.
func (w *WSClient) OnBookUpdate(handler BookUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnRawFrame registers a handler that receives every raw inbound frame before
// parsing. Used for feed recording.
func (w *WSClient) OnRawFrame(handler RawFrameHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.rawHandlers = append(w.rawHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			// Attempt reconnection.
			w.reconnect()
			return // readLoop will be restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes the translated
// updates to the registered handlers.
func (w *WSClient) handleMessage(raw []byte) {
	w.handlerMu.RLock()
	rawHandlers := w.rawHandlers
	w.handlerMu.RUnlock()

	for _, h := range rawHandlers {
		h(raw)
	}

	var msg PushMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // Silently drop unparseable messages.
	}

	if msg.Arg.Channel != ChannelBooks {
		return
	}

	updates, err := msg.ToBookUpdates()
	if err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.bookHandlers
	w.handlerMu.RUnlock()

	for _, u := range updates {
		for _, h := range handlers {
			h(u)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
