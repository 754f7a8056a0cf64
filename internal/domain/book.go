package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one side of the order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Valid reports whether s is a known book side.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// PriceLevel is a single price+quantity entry in the order book. Quantity is
// strictly positive while the level exists; a level driven to zero is removed,
// never stored.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// UpdateKind distinguishes the BookUpdate variants.
type UpdateKind int

const (
	UpdateSnapshot UpdateKind = iota + 1
	UpdateDelta
)

// LevelChange is one price-level mutation inside a delta. Quantity zero means
// "remove this level".
type LevelChange struct {
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookUpdate is a typed feed message: either a full snapshot of both sides or
// an incremental delta carrying a batch of level changes under one sequence
// number. Deltas are only meaningful in contiguous sequence order.
type BookUpdate struct {
	Kind       UpdateKind
	InstID     string
	Sequence   int64
	Bids       []PriceLevel // snapshot payload
	Asks       []PriceLevel // snapshot payload
	Changes    []LevelChange // delta payload
	ReceivedAt time.Time
}

// NewSnapshot builds a snapshot update.
func NewSnapshot(instID string, seq int64, bids, asks []PriceLevel) BookUpdate {
	return BookUpdate{
		Kind:       UpdateSnapshot,
		InstID:     instID,
		Sequence:   seq,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: time.Now().UTC(),
	}
}

// NewDelta builds a single-level delta update.
func NewDelta(instID string, seq int64, side Side, price, qty decimal.Decimal) BookUpdate {
	return NewBatchDelta(instID, seq, []LevelChange{{Side: side, Price: price, Quantity: qty}})
}

// NewBatchDelta builds a delta update carrying several level changes that
// share one sequence number, which is how exchange feeds frame L2 updates.
func NewBatchDelta(instID string, seq int64, changes []LevelChange) BookUpdate {
	return BookUpdate{
		Kind:       UpdateDelta,
		InstID:     instID,
		Sequence:   seq,
		Changes:    changes,
		ReceivedAt: time.Now().UTC(),
	}
}

// BookSnapshot is an immutable point-in-time view of the book, tagged with the
// sequence and epoch it was taken at. Readers holding a BookSnapshot never
// observe later writes.
type BookSnapshot struct {
	InstID    string       `json:"inst_id"`
	Bids      []PriceLevel `json:"bids"` // descending, best first
	Asks      []PriceLevel `json:"asks"` // ascending, best first
	Sequence  int64        `json:"sequence"`
	Epoch     int64        `json:"epoch"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (s BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (s BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns the bid/ask midpoint, or zero when either side is empty.
func (s BookSnapshot) MidPrice() decimal.Decimal {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// Age returns how stale the snapshot is relative to now.
func (s BookSnapshot) Age(now time.Time) time.Duration {
	if s.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(s.Timestamp)
}
