package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/sim"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService() *OrderBookService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrderBookService("BTC-USDT", sim.New(sim.Config{}, logger), nil, nil, nil, nil, logger)
}

func seedSnapshot(t *testing.T, s *OrderBookService, seq int64) {
	t.Helper()
	require.NoError(t, s.Apply(context.Background(), domain.NewSnapshot("BTC-USDT", seq,
		[]domain.PriceLevel{{Price: dec("99"), Quantity: dec("10")}},
		[]domain.PriceLevel{{Price: dec("100"), Quantity: dec("10")}},
	)))
}

func TestSimulateBeforeFirstSnapshot(t *testing.T) {
	s := newService()
	_, err := s.Simulate(context.Background(), domain.OrderSpec{
		Side: domain.OrderBuy, Quantity: dec("1"), Type: domain.OrderMarket,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotSynced))
}

func TestViewDoesNotReflectLaterWrites(t *testing.T) {
	s := newService()
	seedSnapshot(t, s, 0)

	view, ok := s.View()
	require.True(t, ok)
	require.Len(t, view.Asks, 1)

	// A batch of writes after the view was taken.
	ctx := context.Background()
	for i := int64(1); i <= 50; i++ {
		price := decimal.NewFromInt(100 + i)
		require.NoError(t, s.Apply(ctx, domain.NewDelta("BTC-USDT", i, domain.SideAsk, price, dec("1"))))
	}

	assert.Len(t, view.Asks, 1, "view taken before the batch must not reflect it")
	assert.EqualValues(t, 0, view.Sequence)

	fresh, ok := s.View()
	require.True(t, ok)
	assert.EqualValues(t, 50, fresh.Sequence)
	assert.Len(t, fresh.Asks, 51)
}

func TestCrossedStateNeverPublished(t *testing.T) {
	s := newService()
	seedSnapshot(t, s, 0)

	// Delta that crosses the book: bid at 101 >= ask at 100.
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, domain.NewDelta("BTC-USDT", 1, domain.SideBid, dec("101"), dec("1"))))

	view, ok := s.View()
	require.True(t, ok)
	assert.EqualValues(t, 0, view.Sequence, "crossed book must keep the previous view")

	// Uncrossing delta publishes again, with both writes included.
	require.NoError(t, s.Apply(ctx, domain.NewDelta("BTC-USDT", 2, domain.SideAsk, dec("100"), dec("0"))))
	view, _ = s.View()
	assert.EqualValues(t, 2, view.Sequence)
}

func TestSimulateFlagsStaleEpoch(t *testing.T) {
	s := newService()
	seedSnapshot(t, s, 0)

	view, _ := s.View()
	require.EqualValues(t, 1, view.Epoch)

	// Rebuild from a new snapshot; epoch advances past the held view.
	seedSnapshot(t, s, 100)

	// Simulate uses the current view, so it is not stale.
	res, err := s.Simulate(context.Background(), domain.OrderSpec{
		Side: domain.OrderBuy, Quantity: dec("1"), Type: domain.OrderMarket, FeeTier: "VIP0",
	})
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.EqualValues(t, 2, res.BookEpoch)
}

func TestStatusReportsProcessorStateAndStaleness(t *testing.T) {
	s := newService()
	st := s.Status()
	assert.Equal(t, "uninitialized", st.State)

	seedSnapshot(t, s, 7)
	st = s.Status()
	assert.Equal(t, "synced", st.State)
	assert.EqualValues(t, 7, st.Sequence)
	assert.GreaterOrEqual(t, st.StalenessMs, int64(0))

	s.Close()
	st = s.Status()
	assert.Equal(t, "closed", st.State)
	assert.True(t, s.IsClosed())
}

// Overlapping writer and reader goroutines: every observed view must be
// internally consistent (never crossed, never torn) and sequences must be
// monotonic per reader.
func TestConcurrentReadersSeeConsistentViews(t *testing.T) {
	s := newService()
	seedSnapshot(t, s, 0)

	const writes = 500
	const readers = 8

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		for i := int64(1); i <= writes; i++ {
			price := decimal.NewFromInt(101 + i%50)
			qty := decimal.NewFromInt(1 + i%5)
			if i%7 == 0 {
				qty = decimal.Zero // removal
			}
			_ = s.Apply(ctx, domain.NewDelta("BTC-USDT", i, domain.SideAsk, price, qty))
		}
	}()

	errCh := make(chan error, readers)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(-1)
			for range 2000 {
				view, ok := s.View()
				if !ok {
					continue
				}
				if view.Sequence < last {
					errCh <- errors.New("sequence went backwards")
					return
				}
				last = view.Sequence
				for i := 1; i < len(view.Asks); i++ {
					if view.Asks[i].Price.Cmp(view.Asks[i-1].Price) <= 0 {
						errCh <- errors.New("asks out of order: torn view")
						return
					}
				}
				if len(view.Bids) > 0 && len(view.Asks) > 0 &&
					view.Bids[0].Price.Cmp(view.Asks[0].Price) >= 0 {
					errCh <- errors.New("crossed view exposed to reader")
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
