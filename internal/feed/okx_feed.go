// Package feed moves book data into the engine: live from the OKX WebSocket,
// or replayed from recorded frames in blob storage.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/platform/okx"
)

// UpdateHandler is called for each translated book update, in feed order.
type UpdateHandler func(ctx context.Context, update domain.BookUpdate)

// OKXFeed connects to the OKX public WebSocket, subscribes to the books
// channel for one instrument, and invokes the handler on each update. It
// reconnects on disconnect and can force a fresh snapshot on request.
type OKXFeed struct {
	wsURL    string
	instID   string
	onUpdate UpdateHandler
	onRaw    okx.RawFrameHandler
	logger   *slog.Logger

	mu     sync.Mutex
	client *okx.WSClient

	closeOnce sync.Once
	done      chan struct{}
}

// NewOKXFeed creates a feed for the given instrument. onRaw may be nil; when
// set it receives every raw frame for recording.
func NewOKXFeed(wsURL, instID string, onUpdate UpdateHandler, onRaw okx.RawFrameHandler, logger *slog.Logger) *OKXFeed {
	return &OKXFeed{
		wsURL:    wsURL,
		instID:   instID,
		onUpdate: onUpdate,
		onRaw:    onRaw,
		logger:   logger.With(slog.String("component", "okx_feed"), slog.String("inst_id", instID)),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes to books for the configured instrument, and runs
// until ctx is cancelled. Reconnects with backoff on disconnect.
func (f *OKXFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("okx ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *OKXFeed) runConnection(ctx context.Context) error {
	client := okx.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBookUpdate(func(update domain.BookUpdate) {
		if f.onUpdate != nil {
			f.onUpdate(context.Background(), update)
		}
	})
	if f.onRaw != nil {
		client.OnRawFrame(f.onRaw)
	}

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Subscribe(ctx, okx.ChannelBooks, []string{f.instID}); err != nil {
		return err
	}

	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	f.logger.Info("okx ws subscribed", slog.String("channel", okx.ChannelBooks))

	<-ctx.Done()
	return ctx.Err()
}

// RequestResync forces the server to resend a full snapshot by cycling the
// subscription. Safe to call from the book writer path; the network round
// trip happens on a separate goroutine.
func (f *OKXFeed) RequestResync() {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()

	if client == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := client.Resubscribe(ctx, okx.ChannelBooks, []string{f.instID}); err != nil {
			f.logger.Warn("resubscribe for resync failed", slog.String("error", err.Error()))
		} else {
			f.logger.Info("resync requested, awaiting fresh snapshot")
		}
	}()
}

// Close stops the feed.
func (f *OKXFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
