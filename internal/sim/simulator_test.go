package sim

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSimulator(cfg Config) *Simulator {
	return New(cfg, testLogger())
}

func testView() domain.BookSnapshot {
	return domain.BookSnapshot{
		InstID: "BTC-USDT",
		Bids: []domain.PriceLevel{
			{Price: dec("99"), Quantity: dec("5")},
			{Price: dec("98"), Quantity: dec("10")},
		},
		Asks: []domain.PriceLevel{
			{Price: dec("100"), Quantity: dec("5")},
			{Price: dec("101"), Quantity: dec("10")},
		},
		Sequence:  42,
		Epoch:     3,
		Timestamp: time.Now(),
	}
}

func marketBuy(qty string) domain.OrderSpec {
	return domain.OrderSpec{
		Side:     domain.OrderBuy,
		Quantity: dec(qty),
		Type:     domain.OrderMarket,
		FeeTier:  "VIP0",
	}
}

func TestMarketBuyDeterministicWalk(t *testing.T) {
	s := newSimulator(Config{})

	// Fills 5@100 + 3@101: VWAP = (500+303)/8 = 100.375, slippage 0.375.
	res, err := s.Simulate(testView(), marketBuy("8"))
	require.NoError(t, err)

	assert.True(t, res.FilledQty.Equal(dec("8")))
	assert.True(t, res.AvgFillPrice.Equal(dec("100.375")),
		"avg fill price got %s", res.AvgFillPrice)
	assert.True(t, res.Slippage.Equal(dec("0.375")),
		"slippage got %s", res.Slippage)
	assert.True(t, res.Notional.Equal(dec("803")))
	assert.False(t, res.PartialFill)
	assert.False(t, res.Resting)
	assert.EqualValues(t, 3, res.BookEpoch)
	assert.EqualValues(t, 42, res.BookSequence)
	assert.NotEmpty(t, res.ID)
}

func TestMarketSellSlippageIsAdversePositive(t *testing.T) {
	s := newSimulator(Config{})

	// Fills 5@99 + 3@98: VWAP = (495+294)/8 = 98.625; best bid 99.
	res, err := s.Simulate(testView(), domain.OrderSpec{
		Side:     domain.OrderSell,
		Quantity: dec("8"),
		Type:     domain.OrderMarket,
		FeeTier:  "VIP0",
	})
	require.NoError(t, err)
	assert.True(t, res.Slippage.Equal(dec("0.375")), "slippage got %s", res.Slippage)
}

func TestPartialFillFlaggedNotSilent(t *testing.T) {
	s := newSimulator(Config{})

	// Visible ask depth is 15; requesting 20 must fill 15 and flag partial.
	res, err := s.Simulate(testView(), marketBuy("20"))
	require.NoError(t, err)
	assert.True(t, res.PartialFill)
	assert.True(t, res.FilledQty.Equal(dec("15")))
	assert.True(t, res.RequestedQty.Equal(dec("20")))
}

func TestEmptySideInsufficientLiquidity(t *testing.T) {
	s := newSimulator(Config{})
	view := testView()
	view.Asks = nil

	_, err := s.Simulate(view, marketBuy("1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientLiquidity))
}

func TestInvalidOrderSpec(t *testing.T) {
	s := newSimulator(Config{})

	for name, spec := range map[string]domain.OrderSpec{
		"zero quantity":     {Side: domain.OrderBuy, Quantity: dec("0"), Type: domain.OrderMarket},
		"negative quantity": {Side: domain.OrderSell, Quantity: dec("-1"), Type: domain.OrderMarket},
		"bad side":          {Side: "sideways", Quantity: dec("1"), Type: domain.OrderMarket},
		"limit no price":    {Side: domain.OrderBuy, Quantity: dec("1"), Type: domain.OrderLimit},
	} {
		_, err := s.Simulate(testView(), spec)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, domain.ErrInvalidOrderSpec), name)
	}
}

func TestRestingLimitOrderHasNoCost(t *testing.T) {
	s := newSimulator(Config{})

	limit := dec("99.5") // below best ask 100, the buy rests
	res, err := s.Simulate(testView(), domain.OrderSpec{
		Side:       domain.OrderBuy,
		Quantity:   dec("3"),
		Type:       domain.OrderLimit,
		LimitPrice: &limit,
		FeeTier:    "VIP0",
	})
	require.NoError(t, err)
	assert.True(t, res.Resting)
	assert.True(t, res.Slippage.IsZero())
	assert.True(t, res.MarketImpact.IsZero())
	assert.True(t, res.Fees.IsZero())
	assert.True(t, res.NetCost.IsZero())
	assert.True(t, res.FilledQty.IsZero())
}

func TestMarketableLimitBoundsTheWalk(t *testing.T) {
	s := newSimulator(Config{})

	// Crosses the touch but stops at 100: only 5 of 8 fill.
	limit := dec("100")
	res, err := s.Simulate(testView(), domain.OrderSpec{
		Side:       domain.OrderBuy,
		Quantity:   dec("8"),
		Type:       domain.OrderLimit,
		LimitPrice: &limit,
		FeeTier:    "VIP0",
	})
	require.NoError(t, err)
	assert.False(t, res.Resting)
	assert.True(t, res.FilledQty.Equal(dec("5")))
	assert.True(t, res.PartialFill)
	assert.True(t, res.AvgFillPrice.Equal(dec("100")))
	assert.True(t, res.Slippage.IsZero())
}

func TestFeesFromTierTable(t *testing.T) {
	s := newSimulator(Config{
		Fees: map[domain.FeeTier]domain.FeeRate{
			"VIP1": {MakerBps: dec("6.5"), TakerBps: dec("9")},
		},
		DefaultTier: "VIP1",
	})

	res, err := s.Simulate(testView(), domain.OrderSpec{
		Side:     domain.OrderBuy,
		Quantity: dec("5"),
		Type:     domain.OrderMarket,
		FeeTier:  "VIP1",
	})
	require.NoError(t, err)
	// 5@100 = 500 notional, 9 bps taker = 0.45.
	assert.True(t, res.Fees.Equal(dec("0.45")), "fees got %s", res.Fees)
	assert.True(t, res.NetCost.Equal(dec("500.45")), "net cost got %s", res.NetCost)
}

func TestUnknownTierFallsBackToDefault(t *testing.T) {
	s := newSimulator(Config{
		Fees: map[domain.FeeTier]domain.FeeRate{
			"VIP0": {MakerBps: dec("8"), TakerBps: dec("10")},
		},
		DefaultTier: "VIP0",
	})

	res, err := s.Simulate(testView(), domain.OrderSpec{
		Side:     domain.OrderBuy,
		Quantity: dec("5"),
		Type:     domain.OrderMarket,
		FeeTier:  "VIP99",
	})
	require.NoError(t, err)
	assert.True(t, res.Fees.Equal(dec("0.5")), "fees got %s", res.Fees)
}

func TestLinearImpactScalesWithDepthFraction(t *testing.T) {
	s := newSimulator(Config{
		ImpactModel:          ImpactLinear,
		ImpactCoefficientBps: dec("100"), // 1% of notional at full depth
	})

	// Consumes 15/15 of visible depth: impact = 1515 * 0.01 * 1 = 15.15.
	res, err := s.Simulate(testView(), marketBuy("15"))
	require.NoError(t, err)
	assert.True(t, res.MarketImpact.Equal(dec("15.15")),
		"impact got %s", res.MarketImpact)

	// Consumes 5/15: impact = 500 * 0.01 * (1/3).
	res, err = s.Simulate(testView(), marketBuy("5"))
	require.NoError(t, err)
	want := dec("500").Mul(dec("0.01")).Mul(dec("5").Div(dec("15")))
	assert.True(t, res.MarketImpact.Sub(want).Abs().LessThan(dec("0.0001")),
		"impact got %s want %s", res.MarketImpact, want)
}

func TestSquareRootImpactExceedsLinearForSmallFractions(t *testing.T) {
	linear := newSimulator(Config{ImpactModel: ImpactLinear, ImpactCoefficientBps: dec("100")})
	sqrt := newSimulator(Config{ImpactModel: ImpactSquareRoot, ImpactCoefficientBps: dec("100")})

	spec := marketBuy("5") // fraction 1/3, sqrt(1/3) > 1/3
	resLin, err := linear.Simulate(testView(), spec)
	require.NoError(t, err)
	resSqrt, err := sqrt.Simulate(testView(), spec)
	require.NoError(t, err)
	assert.True(t, resSqrt.MarketImpact.GreaterThan(resLin.MarketImpact))
}

func TestCustomImpactFunc(t *testing.T) {
	s := newSimulator(Config{
		ImpactModel:          ImpactCustom,
		ImpactCoefficientBps: dec("100"),
		CustomImpact: func(x decimal.Decimal) decimal.Decimal {
			return x.Mul(x) // quadratic
		},
	})

	res, err := s.Simulate(testView(), marketBuy("15"))
	require.NoError(t, err)
	// Full depth: x^2 = 1, impact = 1515 * 0.01.
	assert.True(t, res.MarketImpact.Equal(dec("15.15")))
}

func TestLatencyReflectsViewAge(t *testing.T) {
	s := newSimulator(Config{})
	view := testView()
	view.Timestamp = time.Now().Add(-250 * time.Millisecond)

	res, err := s.Simulate(view, marketBuy("1"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(250))
	assert.Less(t, res.LatencyMs, int64(5000))
}
