// Package sim computes the execution cost of a hypothetical order against a
// point-in-time book snapshot: slippage, fees, market impact, feed latency,
// and net cost. The simulator never mutates the book; it only walks a view.
package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

var tenThousand = decimal.NewFromInt(10000)

// Config holds the externally supplied cost-model parameters. Fee rates and
// the impact coefficient are deployment configuration, never engine constants.
type Config struct {
	ImpactModel ImpactModel
	// ImpactCoefficientBps scales the impact curve, in basis points of filled
	// notional at full depth consumption.
	ImpactCoefficientBps decimal.Decimal
	CustomImpact         ImpactFunc
	Fees                 map[domain.FeeTier]domain.FeeRate
	DefaultTier          domain.FeeTier
}

// Simulator walks book snapshots and prices hypothetical orders.
type Simulator struct {
	cfg    Config
	impact ImpactFunc
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Simulator from the given cost-model configuration.
func New(cfg Config, logger *slog.Logger) *Simulator {
	if cfg.Fees == nil {
		cfg.Fees = DefaultFeeTable()
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "VIP0"
	}
	return &Simulator{
		cfg:    cfg,
		impact: cfg.impactFunc(),
		logger: logger.With(slog.String("component", "simulator")),
		now:    time.Now,
	}
}

// Simulate prices spec against view. A Buy consumes asks, a Sell consumes
// bids. Exhausting the visible side is reported as a partial fill, not an
// error; only an empty side or an invalid spec fails.
func (s *Simulator) Simulate(view domain.BookSnapshot, spec domain.OrderSpec) (domain.SimulationResult, error) {
	if err := spec.Validate(); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("sim: %w", err)
	}

	res := domain.SimulationResult{
		ID:           uuid.New().String(),
		InstID:       view.InstID,
		Side:         spec.Side,
		OrderType:    spec.Type,
		FeeTier:      spec.FeeTier,
		RequestedQty: spec.Quantity,
		LatencyMs:    view.Age(s.now()).Milliseconds(),
		BookEpoch:    view.Epoch,
		BookSequence: view.Sequence,
		CreatedAt:    s.now().UTC(),
	}

	levels := view.Asks
	if spec.Side == domain.OrderSell {
		levels = view.Bids
	}
	if len(levels) == 0 {
		return res, fmt.Errorf("sim: %s side empty: %w", spec.Side, domain.ErrInsufficientLiquidity)
	}
	best := levels[0].Price

	// A limit order away from the touch rests: no fill, no cost, distinct
	// indicator instead of a breakdown.
	if spec.Type == domain.OrderLimit && !marketable(spec, best) {
		res.Resting = true
		res.AvgFillPrice = decimal.Zero
		res.Slippage = decimal.Zero
		res.MarketImpact = decimal.Zero
		res.Fees = decimal.Zero
		res.NetCost = decimal.Zero
		return res, nil
	}

	// Walk best to worst, accumulating fills until the requested quantity is
	// reached, the side is exhausted, or the limit price bounds the walk.
	remaining := spec.Quantity
	notional := decimal.Zero
	filled := decimal.Zero
	visibleDepth := decimal.Zero
	for _, lvl := range levels {
		visibleDepth = visibleDepth.Add(lvl.Quantity)
	}

	for _, lvl := range levels {
		if remaining.IsZero() {
			break
		}
		if spec.Type == domain.OrderLimit && beyondLimit(spec, lvl.Price) {
			break
		}
		take := decimal.Min(remaining, lvl.Quantity)
		notional = notional.Add(lvl.Price.Mul(take))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return res, fmt.Errorf("sim: nothing fillable: %w", domain.ErrInsufficientLiquidity)
	}

	avg := notional.Div(filled)
	res.FilledQty = filled
	res.AvgFillPrice = avg
	res.Notional = notional
	res.PartialFill = remaining.IsPositive()

	// Slippage: VWAP vs the best price at the start of the walk, signed so
	// adverse slippage is positive on both sides.
	if spec.Side == domain.OrderBuy {
		res.Slippage = avg.Sub(best)
	} else {
		res.Slippage = best.Sub(avg)
	}

	// Impact: notional scaled by the configured curve over the fraction of
	// visible depth consumed.
	fraction := filled.Div(visibleDepth)
	res.MarketImpact = notional.Mul(s.cfg.ImpactCoefficientBps).Div(tenThousand).Mul(s.impact(fraction))

	// Fees: marketable flow pays the taker rate.
	rate := s.cfg.feeRate(spec.FeeTier)
	res.Fees = notional.Mul(rate.TakerBps).Div(tenThousand)

	// Net cost: what the taker pays (buy) or nets (sell) after costs.
	if spec.Side == domain.OrderBuy {
		res.NetCost = notional.Add(res.Fees).Add(res.MarketImpact)
	} else {
		res.NetCost = notional.Sub(res.Fees).Sub(res.MarketImpact)
	}

	s.logger.Debug("simulation complete",
		slog.String("id", res.ID),
		slog.String("side", string(spec.Side)),
		slog.String("filled", filled.String()),
		slog.String("avg_price", avg.String()),
		slog.String("slippage", res.Slippage.String()),
		slog.Bool("partial", res.PartialFill),
	)
	return res, nil
}

// marketable reports whether a limit order crosses the touch.
func marketable(spec domain.OrderSpec, best decimal.Decimal) bool {
	if spec.Side == domain.OrderBuy {
		return spec.LimitPrice.Cmp(best) >= 0
	}
	return spec.LimitPrice.Cmp(best) <= 0
}

// beyondLimit reports whether a level is outside the limit-price bound.
func beyondLimit(spec domain.OrderSpec, price decimal.Decimal) bool {
	if spec.Side == domain.OrderBuy {
		return price.GreaterThan(*spec.LimitPrice)
	}
	return price.LessThan(*spec.LimitPrice)
}
