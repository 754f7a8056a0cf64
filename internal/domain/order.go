package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a simulated order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType selects market or limit semantics for the simulation.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// FeeTier names a row in the configured fee table (e.g. "VIP0").
type FeeTier string

// FeeRate is one fee-table row, in basis points of filled notional.
type FeeRate struct {
	MakerBps decimal.Decimal
	TakerBps decimal.Decimal
}

// OrderSpec describes the hypothetical order to cost out against the book.
type OrderSpec struct {
	Side       OrderSide        `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Type       OrderType        `json:"type"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	FeeTier    FeeTier          `json:"fee_tier"`
}

// Validate checks the spec for caller errors. All failures wrap
// ErrInvalidOrderSpec so callers can match with errors.Is.
func (o OrderSpec) Validate() error {
	if o.Side != OrderBuy && o.Side != OrderSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrderSpec, o.Side)
	}
	if o.Type != OrderMarket && o.Type != OrderLimit {
		return fmt.Errorf("%w: order type %q", ErrInvalidOrderSpec, o.Type)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be > 0", ErrInvalidOrderSpec, o.Quantity)
	}
	if o.Type == OrderLimit {
		if o.LimitPrice == nil {
			return fmt.Errorf("%w: limit order requires limit_price", ErrInvalidOrderSpec)
		}
		if !o.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit_price %s must be > 0", ErrInvalidOrderSpec, o.LimitPrice)
		}
	}
	return nil
}

// SimulationResult is the full cost breakdown for one simulated execution.
// BookEpoch carries the epoch the result was computed against so consumers
// can detect results that are already stale relative to the live book.
type SimulationResult struct {
	ID             string          `json:"id"`
	InstID         string          `json:"inst_id"`
	Side           OrderSide       `json:"side"`
	OrderType      OrderType       `json:"order_type"`
	FeeTier        FeeTier         `json:"fee_tier"`
	RequestedQty   decimal.Decimal `json:"requested_qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	Notional       decimal.Decimal `json:"notional"`
	Slippage       decimal.Decimal `json:"slippage"`
	Fees           decimal.Decimal `json:"fees"`
	MarketImpact   decimal.Decimal `json:"market_impact"`
	NetCost        decimal.Decimal `json:"net_cost"`
	LatencyMs      int64           `json:"latency_ms"`
	PartialFill    bool            `json:"partial_fill"`
	Resting        bool            `json:"resting"`
	Stale          bool            `json:"stale"`
	BookEpoch      int64           `json:"book_epoch"`
	BookSequence   int64           `json:"book_sequence"`
	CreatedAt      time.Time       `json:"created_at"`
}

// GapEvent records one detected sequence gap for the audit trail.
type GapEvent struct {
	ID          int64     `json:"id"`
	InstID      string    `json:"inst_id"`
	ExpectedSeq int64     `json:"expected_seq"`
	GotSeq      int64     `json:"got_seq"`
	OccurredAt  time.Time `json:"occurred_at"`
}
