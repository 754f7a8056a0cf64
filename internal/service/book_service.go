// Package service coordinates single-writer book maintenance with concurrent
// read/simulate access, and fans book events out to the mirror, signal bus,
// and stores.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/okxsim/internal/book"
	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/sim"
)

// Channel names published on the signal bus.
const (
	ChannelBook   = "book"
	ChannelGaps   = "gaps"
	ChannelStatus = "status"

	// GapStream is the durable stream carrying the gap audit feed.
	GapStream = "stream:gaps"
)

// Status is the service's health view for the UI: processor state plus
// staleness, derived from the live book.
type Status struct {
	InstID      string    `json:"inst_id"`
	State       string    `json:"state"`
	Sequence    int64     `json:"sequence"`
	Epoch       int64     `json:"epoch"`
	LastUpdate  time.Time `json:"last_update"`
	StalenessMs int64     `json:"staleness_ms"`
	Applied     int64     `json:"applied"`
	Gaps        int64     `json:"gaps"`
}

// OrderBookService owns the one live book. Writes go through Apply under a
// single writer; readers get immutable snapshots through an atomic pointer
// swap, so a view taken before a write never reflects it and no reader ever
// observes a torn or crossed state.
type OrderBookService struct {
	instID    string
	simulator *sim.Simulator

	mu   sync.Mutex // serializes the writer path
	book *book.Book
	proc *book.Processor

	view atomic.Pointer[domain.BookSnapshot]

	// Optional collaborators; nil disables the corresponding fan-out.
	mirror   domain.BookMirror
	bus      domain.SignalBus
	simStore domain.SimulationStore
	gapStore domain.GapStore

	onResync func()
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderBookService creates the service with an empty book. mirror, bus,
// simStore, and gapStore may be nil.
func NewOrderBookService(
	instID string,
	simulator *sim.Simulator,
	mirror domain.BookMirror,
	bus domain.SignalBus,
	simStore domain.SimulationStore,
	gapStore domain.GapStore,
	logger *slog.Logger,
) *OrderBookService {
	b := book.New()
	s := &OrderBookService{
		instID:    instID,
		simulator: simulator,
		book:      b,
		proc:      book.NewProcessor(instID, b, logger),
		mirror:    mirror,
		bus:       bus,
		simStore:  simStore,
		gapStore:  gapStore,
		logger:    logger.With(slog.String("component", "book_service"), slog.String("inst_id", instID)),
		now:       time.Now,
	}
	s.proc.OnGap(s.handleGap)
	s.proc.OnResync(func() {
		if s.onResync != nil {
			s.onResync()
		}
	})
	return s
}

// OnResyncRequired registers the transport callback invoked when the
// processor detects a gap and needs a fresh snapshot. Must be set before the
// feed starts delivering.
func (s *OrderBookService) OnResyncRequired(fn func()) {
	s.onResync = fn
}

// Apply forwards one feed message to the processor and, when the book is in a
// consistent synced state, publishes a fresh immutable view. Only the owning
// writer calls this; concurrent Apply calls are a contract violation, the
// mutex is there to make the publish-after-mutate step atomic with the walk.
func (s *OrderBookService) Apply(ctx context.Context, update domain.BookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.proc.Apply(update); err != nil {
		return fmt.Errorf("service: apply: %w", err)
	}

	// Suppress publication while the book is crossed or out of sync; readers
	// keep the last consistent view.
	if s.proc.State() != book.StateSynced || s.book.IsCrossed() {
		return nil
	}

	ts := update.ReceivedAt
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	snap := s.book.Snapshot(s.instID, ts)
	s.view.Store(&snap)

	s.fanOut(ctx, snap)
	return nil
}

// fanOut mirrors the fresh snapshot and publishes the book-top event. Both
// are best-effort; the in-process book is authoritative.
func (s *OrderBookService) fanOut(ctx context.Context, snap domain.BookSnapshot) {
	if s.mirror != nil {
		if err := s.mirror.SetSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "mirror update failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		bid, _ := snap.BestBid()
		ask, _ := snap.BestAsk()
		evt, _ := json.Marshal(map[string]any{
			"event":     "book_update",
			"inst_id":   snap.InstID,
			"best_bid":  bid.Price,
			"best_ask":  ask.Price,
			"mid_price": snap.MidPrice(),
			"sequence":  snap.Sequence,
			"epoch":     snap.Epoch,
			"timestamp": snap.Timestamp.Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, ChannelBook, evt); err != nil {
			s.logger.WarnContext(ctx, "publish book event failed", slog.String("error", err.Error()))
		}
	}
}

// handleGap records the gap in the audit store and on the durable stream.
// Runs on the writer path, so keep it short; store errors are logged, never
// propagated into book logic.
func (s *OrderBookService) handleGap(ev domain.GapEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if s.gapStore != nil {
		if err := s.gapStore.Insert(ctx, ev); err != nil {
			s.logger.Warn("persist gap event failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":        "sequence_gap",
			"inst_id":      ev.InstID,
			"expected_seq": ev.ExpectedSeq,
			"got_seq":      ev.GotSeq,
			"occurred_at":  ev.OccurredAt.Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, ChannelGaps, payload); err != nil {
			s.logger.Warn("publish gap event failed", slog.String("error", err.Error()))
		}
		if err := s.bus.StreamAppend(ctx, GapStream, payload); err != nil {
			s.logger.Warn("append gap stream failed", slog.String("error", err.Error()))
		}
	}
}

// View returns the current immutable point-in-time snapshot. The second
// return is false before the first snapshot has been applied.
func (s *OrderBookService) View() (domain.BookSnapshot, bool) {
	p := s.view.Load()
	if p == nil {
		return domain.BookSnapshot{}, false
	}
	return *p, true
}

// Simulate takes an internal view and delegates to the cost simulator. The
// result carries the epoch it was computed against; if the live book was
// rebuilt from a newer snapshot in the meantime, Stale is set so the caller
// can decide whether to re-run.
func (s *OrderBookService) Simulate(ctx context.Context, spec domain.OrderSpec) (domain.SimulationResult, error) {
	view, ok := s.View()
	if !ok {
		return domain.SimulationResult{}, fmt.Errorf("service: simulate: %w", domain.ErrNotSynced)
	}

	res, err := s.simulator.Simulate(view, spec)
	if err != nil {
		return res, err
	}

	if cur := s.view.Load(); cur != nil && cur.Epoch > view.Epoch {
		res.Stale = true
	}

	if s.simStore != nil {
		if storeErr := s.simStore.Insert(ctx, res); storeErr != nil {
			s.logger.WarnContext(ctx, "persist simulation failed",
				slog.String("id", res.ID),
				slog.String("error", storeErr.Error()),
			)
		}
	}
	return res, nil
}

// Status derives the connectivity/staleness signal for the UI.
func (s *OrderBookService) Status() Status {
	st := Status{
		InstID: s.instID,
		State:  s.proc.State().String(),
	}
	stats := s.proc.Stats()
	st.Applied = stats.Applied
	st.Gaps = stats.Gaps
	if view, ok := s.View(); ok {
		st.Sequence = view.Sequence
		st.Epoch = view.Epoch
		st.LastUpdate = view.Timestamp
		st.StalenessMs = view.Age(s.now()).Milliseconds()
	}
	return st
}

// Close shuts the processor down; subsequent Apply calls fail with
// ErrProcessorClosed. Readers may keep using the last published view.
func (s *OrderBookService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc.Close()
}

// IsClosed reports whether the service has been shut down.
func (s *OrderBookService) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.State() == book.StateClosed
}
