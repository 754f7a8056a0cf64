package book

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// State is the processor's sequencing state.
type State int

const (
	StateUninitialized State = iota
	StateSynced
	StateGapped
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSynced:
		return "synced"
	case StateGapped:
		return "gapped"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats counts what the processor has seen since start.
type Stats struct {
	Applied    int64
	Snapshots  int64
	Gaps       int64
	StaleDrops int64
	Discarded  int64
}

// Processor turns raw feed messages into Book mutations while preserving
// sequence integrity. It is the single writer of its Book.
//
// State machine: Uninitialized -> Synced -> Gapped -> Synced (after a fresh
// snapshot) -> Closed. While Gapped, deltas are discarded and the resync
// callback has been fired; only a snapshot restores Synced. Gap detection
// lives here, resync fetching stays with the transport collaborator so
// retry/backoff policy never leaks into book logic.
type Processor struct {
	instID string
	book   *Book
	state  State
	stats  Stats
	logger *slog.Logger

	onResync func()
	onGap    func(domain.GapEvent)
}

// NewProcessor creates a Processor that owns writes to b.
func NewProcessor(instID string, b *Book, logger *slog.Logger) *Processor {
	return &Processor{
		instID: instID,
		book:   b,
		state:  StateUninitialized,
		logger: logger.With(slog.String("component", "book_processor"), slog.String("inst_id", instID)),
	}
}

// OnResync registers the callback fired once per transition into Gapped. The
// transport collaborator uses it to fetch a fresh snapshot.
func (p *Processor) OnResync(fn func()) {
	p.onResync = fn
}

// OnGap registers a callback invoked with every detected gap event.
func (p *Processor) OnGap(fn func(domain.GapEvent)) {
	p.onGap = fn
}

// State returns the current sequencing state.
func (p *Processor) State() State {
	return p.state
}

// Stats returns a copy of the processor counters.
func (p *Processor) Stats() Stats {
	return p.stats
}

// Apply validates one update against the state machine and mutates the book.
// Gaps and stale duplicates are not errors: they are counted, logged, and in
// the gap case trigger resync. The only hard error is applying to a closed
// processor.
func (p *Processor) Apply(update domain.BookUpdate) error {
	if p.state == StateClosed {
		return fmt.Errorf("book: apply seq %d: %w", update.Sequence, domain.ErrProcessorClosed)
	}

	switch update.Kind {
	case domain.UpdateSnapshot:
		p.applySnapshot(update)
		return nil
	case domain.UpdateDelta:
		p.applyDelta(update)
		return nil
	default:
		return fmt.Errorf("book: apply: unknown update kind %d", update.Kind)
	}
}

// applySnapshot always resynchronizes, regardless of the current state.
func (p *Processor) applySnapshot(update domain.BookUpdate) {
	p.book.ReplaceAll(update.Bids, update.Asks, update.Sequence)
	prev := p.state
	p.state = StateSynced
	p.stats.Snapshots++
	p.logger.Info("snapshot applied",
		slog.Int64("sequence", update.Sequence),
		slog.Int64("epoch", p.book.Epoch()),
		slog.String("prev_state", prev.String()),
		slog.Int("bids", p.book.Len(domain.SideBid)),
		slog.Int("asks", p.book.Len(domain.SideAsk)),
	)
}

func (p *Processor) applyDelta(update domain.BookUpdate) {
	switch p.state {
	case StateUninitialized, StateGapped:
		// No usable baseline; discard until a snapshot arrives.
		p.stats.Discarded++
		p.logger.Debug("delta discarded",
			slog.Int64("sequence", update.Sequence),
			slog.String("state", p.state.String()),
		)
		return
	}

	current := p.book.Sequence()
	switch {
	case update.Sequence <= current:
		// Idempotent re-delivery after reconnect; drop silently.
		p.stats.StaleDrops++
		return
	case update.Sequence == current+1:
		for _, c := range update.Changes {
			p.book.ApplyChange(c)
		}
		p.book.SetSequence(update.Sequence)
		p.stats.Applied++
		return
	default:
		p.gap(current+1, update.Sequence)
	}
}

// gap transitions to Gapped and signals the transport to resync. Fired once
// per gap; further deltas are discarded until the next snapshot.
func (p *Processor) gap(expected, got int64) {
	p.state = StateGapped
	p.stats.Gaps++
	p.logger.Warn("sequence gap detected",
		slog.Int64("expected_seq", expected),
		slog.Int64("got_seq", got),
	)
	if p.onGap != nil {
		p.onGap(domain.GapEvent{
			InstID:      p.instID,
			ExpectedSeq: expected,
			GotSeq:      got,
			OccurredAt:  time.Now().UTC(),
		})
	}
	if p.onResync != nil {
		p.onResync()
	}
}

// Close moves the processor to its terminal state. All further messages are
// rejected.
func (p *Processor) Close() {
	if p.state == StateClosed {
		return
	}
	p.state = StateClosed
	p.logger.Info("processor closed",
		slog.Int64("applied", p.stats.Applied),
		slog.Int64("gaps", p.stats.Gaps),
	)
}
