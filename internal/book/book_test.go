package book

import (
	"math/rand"
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

func level(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: dec(price), Quantity: dec(qty)}
}

func TestUpsertKeepsBidsDescendingAsksAscending(t *testing.T) {
	b := New()

	b.Upsert(domain.SideBid, dec("100.5"), dec("1"))
	b.Upsert(domain.SideBid, dec("101"), dec("2"))
	b.Upsert(domain.SideBid, dec("99.9"), dec("3"))
	b.Upsert(domain.SideAsk, dec("102"), dec("1"))
	b.Upsert(domain.SideAsk, dec("101.5"), dec("2"))
	b.Upsert(domain.SideAsk, dec("103"), dec("3"))

	bestBid, ok := b.Best(domain.SideBid)
	require.True(t, ok)
	assert.True(t, bestBid.Price.Equal(dec("101")))

	bestAsk, ok := b.Best(domain.SideAsk)
	require.True(t, ok)
	assert.True(t, bestAsk.Price.Equal(dec("101.5")))

	var bids []domain.PriceLevel
	for lvl := range b.Depth(domain.SideBid, 10) {
		bids = append(bids, lvl)
	}
	require.Len(t, bids, 3)
	assert.True(t, bids[0].Price.Equal(dec("101")))
	assert.True(t, bids[1].Price.Equal(dec("100.5")))
	assert.True(t, bids[2].Price.Equal(dec("99.9")))
}

func TestUpsertReplacesExistingLevel(t *testing.T) {
	b := New()
	b.Upsert(domain.SideAsk, dec("100"), dec("5"))
	b.Upsert(domain.SideAsk, dec("100"), dec("7"))

	require.Equal(t, 1, b.Len(domain.SideAsk))
	best, _ := b.Best(domain.SideAsk)
	assert.True(t, best.Quantity.Equal(dec("7")))
}

func TestExactDecimalPriceKeys(t *testing.T) {
	// "100" and "100.00" differ in exponent but are the same price level.
	b := New()
	b.Upsert(domain.SideBid, dec("100"), dec("5"))
	b.Upsert(domain.SideBid, dec("100.00"), dec("9"))

	require.Equal(t, 1, b.Len(domain.SideBid))
	best, _ := b.Best(domain.SideBid)
	assert.True(t, best.Quantity.Equal(dec("9")))

	b.Remove(domain.SideBid, dec("100.000"))
	assert.Equal(t, 0, b.Len(domain.SideBid))
}

func TestRemoveAbsentPriceIsNoOp(t *testing.T) {
	b := New()
	b.Upsert(domain.SideBid, dec("100"), dec("1"))
	b.Remove(domain.SideBid, dec("99"))
	b.Remove(domain.SideBid, dec("99")) // resent removal
	assert.Equal(t, 1, b.Len(domain.SideBid))
}

func TestIsCrossed(t *testing.T) {
	b := New()
	assert.False(t, b.IsCrossed())

	b.Upsert(domain.SideBid, dec("100"), dec("1"))
	assert.False(t, b.IsCrossed(), "one-sided book is never crossed")

	b.Upsert(domain.SideAsk, dec("101"), dec("1"))
	assert.False(t, b.IsCrossed())

	b.Upsert(domain.SideBid, dec("101"), dec("1"))
	assert.True(t, b.IsCrossed(), "best bid == best ask is crossed")
}

func TestReplaceAllBumpsEpochAndNormalizes(t *testing.T) {
	b := New()
	require.EqualValues(t, 0, b.Epoch())

	// Unsorted input with a zero-quantity level that must be dropped.
	b.ReplaceAll(
		[]domain.PriceLevel{level("99", "1"), level("100", "2"), level("98", "0")},
		[]domain.PriceLevel{level("102", "1"), level("101", "2")},
		42,
	)

	assert.EqualValues(t, 1, b.Epoch())
	assert.EqualValues(t, 42, b.Sequence())
	assert.Equal(t, 2, b.Len(domain.SideBid))

	bestBid, _ := b.Best(domain.SideBid)
	bestAsk, _ := b.Best(domain.SideAsk)
	assert.True(t, bestBid.Price.Equal(dec("100")))
	assert.True(t, bestAsk.Price.Equal(dec("101")))

	b.ReplaceAll(nil, nil, 0)
	assert.EqualValues(t, 2, b.Epoch())
	assert.Equal(t, 0, b.Len(domain.SideBid))
}

func TestDepthIsLazyAndRestartable(t *testing.T) {
	b := New()
	for i := range 5 {
		b.Upsert(domain.SideAsk, decimal.NewFromInt(int64(100+i)), dec("1"))
	}

	seq := b.Depth(domain.SideAsk, 3)

	// Early break.
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	// Restart walks from the top again.
	var prices []string
	for lvl := range seq {
		prices = append(prices, lvl.Price.String())
	}
	assert.Equal(t, []string{"100", "101", "102"}, prices)
}

func TestSnapshotIsDetachedFromBook(t *testing.T) {
	b := New()
	b.Upsert(domain.SideBid, dec("100"), dec("1"))
	b.Upsert(domain.SideAsk, dec("101"), dec("2"))
	b.SetSequence(7)

	snap := b.Snapshot("BTC-USDT", time.Now())
	b.Upsert(domain.SideBid, dec("100.5"), dec("3"))
	b.Remove(domain.SideAsk, dec("101"))

	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(dec("100")))
	assert.EqualValues(t, 7, snap.Sequence)
}

// Best must always equal the extremal price among present levels, for any
// sequence of upserts and removes.
func TestBestMatchesRecomputation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := New()
	present := map[string]bool{}

	for range 2000 {
		price := decimal.NewFromInt(int64(rng.Intn(200) + 1))
		if rng.Intn(3) == 0 {
			b.Remove(domain.SideBid, price)
			delete(present, price.String())
		} else {
			b.Upsert(domain.SideBid, price, dec("1"))
			present[price.String()] = true
		}

		best, ok := b.Best(domain.SideBid)
		if len(present) == 0 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		max := decimal.Zero
		for p := range present {
			if d := dec(p); d.GreaterThan(max) {
				max = d
			}
		}
		require.True(t, best.Price.Equal(max),
			"best bid %s != recomputed max %s", best.Price, max)
	}
}
