package book

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotAt(seq int64) domain.BookUpdate {
	return domain.NewSnapshot("BTC-USDT", seq,
		[]domain.PriceLevel{level("100", "5")},
		[]domain.PriceLevel{level("101", "5")},
	)
}

func deltaAt(seq int64, price, qty string) domain.BookUpdate {
	return domain.NewDelta("BTC-USDT", seq, domain.SideAsk, dec(price), dec(qty))
}

func TestUninitializedDiscardsDeltas(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())

	require.NoError(t, p.Apply(deltaAt(1, "102", "1")))
	assert.Equal(t, StateUninitialized, p.State())
	assert.Equal(t, 0, b.Len(domain.SideAsk))
	assert.EqualValues(t, 1, p.Stats().Discarded)

	require.NoError(t, p.Apply(snapshotAt(0)))
	assert.Equal(t, StateSynced, p.State())
}

func TestContiguousDeltasAdvanceSequence(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())
	require.NoError(t, p.Apply(snapshotAt(0)))

	require.NoError(t, p.Apply(deltaAt(1, "102", "3")))
	require.NoError(t, p.Apply(deltaAt(2, "103", "4")))

	assert.EqualValues(t, 2, b.Sequence())
	assert.Equal(t, 3, b.Len(domain.SideAsk))
	assert.Equal(t, StateSynced, p.State())
}

func TestStaleDeltaIsIdempotentlyDropped(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())
	require.NoError(t, p.Apply(snapshotAt(0)))
	require.NoError(t, p.Apply(deltaAt(1, "102", "3")))

	before := b.Snapshot("BTC-USDT", time.Time{})

	// Re-delivery of an already-seen sequence leaves the book unchanged.
	require.NoError(t, p.Apply(deltaAt(1, "102", "99")))
	require.NoError(t, p.Apply(deltaAt(0, "50", "1")))

	after := b.Snapshot("BTC-USDT", time.Time{})
	assert.Equal(t, before.Asks, after.Asks)
	assert.Equal(t, before.Bids, after.Bids)
	assert.EqualValues(t, 2, p.Stats().StaleDrops)
	assert.Equal(t, StateSynced, p.State())
}

func TestGapDetectionAndResync(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())

	var resyncs int
	var gaps []domain.GapEvent
	p.OnResync(func() { resyncs++ })
	p.OnGap(func(ev domain.GapEvent) { gaps = append(gaps, ev) })

	require.NoError(t, p.Apply(snapshotAt(0)))
	require.NoError(t, p.Apply(deltaAt(1, "102", "1")))
	require.NoError(t, p.Apply(deltaAt(2, "103", "1")))

	// Sequence 3 missing: the 4 must flip the processor to Gapped.
	require.NoError(t, p.Apply(deltaAt(4, "104", "1")))
	assert.Equal(t, StateGapped, p.State())
	assert.Equal(t, 1, resyncs)
	require.Len(t, gaps, 1)
	assert.EqualValues(t, 3, gaps[0].ExpectedSeq)
	assert.EqualValues(t, 4, gaps[0].GotSeq)
	assert.EqualValues(t, 2, b.Sequence(), "gapped delta must not be applied")

	// Further deltas are discarded until a fresh snapshot arrives.
	require.NoError(t, p.Apply(deltaAt(5, "105", "1")))
	require.NoError(t, p.Apply(deltaAt(6, "106", "1")))
	assert.Equal(t, StateGapped, p.State())
	assert.Equal(t, 1, resyncs, "resync fires once per gap")

	require.NoError(t, p.Apply(snapshotAt(10)))
	assert.Equal(t, StateSynced, p.State())
	assert.EqualValues(t, 10, b.Sequence())

	require.NoError(t, p.Apply(deltaAt(11, "102", "2")))
	assert.EqualValues(t, 11, b.Sequence())
}

func TestSnapshotWhileSyncedResets(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())
	require.NoError(t, p.Apply(snapshotAt(5)))
	require.NoError(t, p.Apply(deltaAt(6, "102", "1")))

	epoch := b.Epoch()
	require.NoError(t, p.Apply(snapshotAt(100)))

	assert.Equal(t, StateSynced, p.State())
	assert.EqualValues(t, 100, b.Sequence())
	assert.Equal(t, epoch+1, b.Epoch())
}

func TestClosedRejectsEverything(t *testing.T) {
	b := New()
	p := NewProcessor("BTC-USDT", b, testLogger())
	require.NoError(t, p.Apply(snapshotAt(0)))

	p.Close()
	p.Close() // idempotent

	err := p.Apply(deltaAt(1, "102", "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProcessorClosed))

	err = p.Apply(snapshotAt(5))
	assert.True(t, errors.Is(err, domain.ErrProcessorClosed))
}
