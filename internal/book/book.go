// Package book implements the sorted bid/ask ladder and the feed-update
// processor that maintains it. The types here are pure data-structure logic
// with no I/O; they are not safe for concurrent use and rely on the owning
// service to serialize writes.
package book

import (
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// Book is the price-level order book: two independent ladders keyed by exact
// decimal price. Bids are held in descending price order (best first), asks
// ascending. The book tracks the last applied sequence number and an epoch
// that is bumped on every wholesale snapshot replacement.
type Book struct {
	bids     []domain.PriceLevel
	asks     []domain.PriceLevel
	sequence int64
	epoch    int64
}

// New creates an empty Book.
func New() *Book {
	return &Book{}
}

// side returns a pointer to the ladder for the given side.
func (b *Book) side(s domain.Side) *[]domain.PriceLevel {
	if s == domain.SideBid {
		return &b.bids
	}
	return &b.asks
}

// search returns the insertion index for price on the given side and whether
// an exact level already exists there. Comparison is exact decimal, never
// float, so "100" and "100.00" hit the same level.
func search(levels []domain.PriceLevel, s domain.Side, price decimal.Decimal) (int, bool) {
	i := sort.Search(len(levels), func(i int) bool {
		if s == domain.SideBid {
			// Descending: stop at the first level at or below price.
			return levels[i].Price.Cmp(price) <= 0
		}
		// Ascending: stop at the first level at or above price.
		return levels[i].Price.Cmp(price) >= 0
	})
	found := i < len(levels) && levels[i].Price.Equal(price)
	return i, found
}

// Upsert inserts or replaces the level at price. Quantities that are not
// strictly positive are ignored; removals go through Remove.
func (b *Book) Upsert(s domain.Side, price, qty decimal.Decimal) {
	if !s.Valid() || !qty.IsPositive() {
		return
	}
	levels := b.side(s)
	i, found := search(*levels, s, price)
	if found {
		(*levels)[i].Quantity = qty
		return
	}
	*levels = slices.Insert(*levels, i, domain.PriceLevel{Price: price, Quantity: qty})
}

// Remove deletes the level at price if present. A remove for an absent price
// is a no-op: feeds legitimately resend removals after reconnect.
func (b *Book) Remove(s domain.Side, price decimal.Decimal) {
	if !s.Valid() {
		return
	}
	levels := b.side(s)
	i, found := search(*levels, s, price)
	if !found {
		return
	}
	*levels = slices.Delete(*levels, i, i+1)
}

// ApplyChange routes one level change: zero quantity removes, positive upserts.
func (b *Book) ApplyChange(c domain.LevelChange) {
	if c.Quantity.IsZero() {
		b.Remove(c.Side, c.Price)
		return
	}
	b.Upsert(c.Side, c.Price, c.Quantity)
}

// Best returns the top of the given side: highest bid or lowest ask.
func (b *Book) Best(s domain.Side) (domain.PriceLevel, bool) {
	levels := *b.side(s)
	if len(levels) == 0 {
		return domain.PriceLevel{}, false
	}
	return levels[0], true
}

// Depth yields up to n levels of the given side in priority order. The
// returned sequence is lazy and restartable; ranging over it twice walks the
// ladder twice.
func (b *Book) Depth(s domain.Side, n int) iter.Seq[domain.PriceLevel] {
	levels := *b.side(s)
	if n > len(levels) {
		n = len(levels)
	}
	return func(yield func(domain.PriceLevel) bool) {
		for i := 0; i < n; i++ {
			if !yield(levels[i]) {
				return
			}
		}
	}
}

// Len returns the number of levels on the given side.
func (b *Book) Len(s domain.Side) int {
	return len(*b.side(s))
}

// IsCrossed reports whether best bid >= best ask. A crossed book is a
// transient mid-update state and must not be exposed to readers.
func (b *Book) IsCrossed() bool {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	return b.bids[0].Price.Cmp(b.asks[0].Price) >= 0
}

// ReplaceAll swaps both sides wholesale from a snapshot, resets the sequence,
// and advances the epoch so views taken against the old book can be detected
// as stale. Input levels are normalized: non-positive quantities dropped,
// bids sorted descending, asks ascending.
func (b *Book) ReplaceAll(bids, asks []domain.PriceLevel, seq int64) {
	b.bids = normalize(bids, domain.SideBid)
	b.asks = normalize(asks, domain.SideAsk)
	b.sequence = seq
	b.epoch++
}

func normalize(levels []domain.PriceLevel, s domain.Side) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.IsPositive() {
			out = append(out, lvl)
		}
	}
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		if s == domain.SideBid {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}

// Sequence returns the last applied update id.
func (b *Book) Sequence() int64 {
	return b.sequence
}

// SetSequence records the last applied update id.
func (b *Book) SetSequence(seq int64) {
	b.sequence = seq
}

// Epoch returns the current snapshot epoch.
func (b *Book) Epoch() int64 {
	return b.epoch
}

// Snapshot copies both ladders into an immutable domain.BookSnapshot tagged
// with the current sequence and epoch.
func (b *Book) Snapshot(instID string, ts time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		InstID:    instID,
		Bids:      slices.Clone(b.bids),
		Asks:      slices.Clone(b.asks),
		Sequence:  b.sequence,
		Epoch:     b.epoch,
		Timestamp: ts,
	}
}
