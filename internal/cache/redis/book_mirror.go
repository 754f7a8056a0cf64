package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// BookMirror implements domain.BookMirror using Redis sorted sets and hashes
// for each instrument's book.
//
// Key schema:
//
//	book:{instID}:bids     - sorted set of bid prices (score = price, member = exact decimal string)
//	book:{instID}:asks     - sorted set of ask prices (score = price, member = exact decimal string)
//	book:{instID}:bid:qty  - hash mapping price string -> quantity string for bids
//	book:{instID}:ask:qty  - hash mapping price string -> quantity string for asks
//	book:{instID}:bbo      - hash with fields "bid" and "ask" (best prices)
//	book:{instID}:meta     - hash with "ts", "sequence", and "epoch" fields
//
// Scores are float approximations used only for ordering; members carry the
// exact decimal strings, so reads reconstruct exact prices.
type BookMirror struct {
	rdb *redis.Client
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{rdb: c.Underlying()}
}

func bookBidsKey(instID string) string   { return "book:" + instID + ":bids" }
func bookAsksKey(instID string) string   { return "book:" + instID + ":asks" }
func bookBidQtyKey(instID string) string { return "book:" + instID + ":bid:qty" }
func bookAskQtyKey(instID string) string { return "book:" + instID + ":ask:qty" }
func bookBBOKey(instID string) string    { return "book:" + instID + ":bbo" }
func bookMetaKey(instID string) string   { return "book:" + instID + ":meta" }

// SetSnapshot atomically replaces the mirrored book for an instrument. It
// clears existing data and repopulates both sorted sets, the quantity hashes,
// the BBO hash, and the metadata hash in one transaction.
func (bm *BookMirror) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	instID := snap.InstID
	bidsKey := bookBidsKey(instID)
	asksKey := bookAsksKey(instID)
	bidQtyKey := bookBidQtyKey(instID)
	askQtyKey := bookAskQtyKey(instID)
	bboKey := bookBBOKey(instID)
	metaKey := bookMetaKey(instID)

	pipe := bm.rdb.TxPipeline()

	// Clear existing keys.
	pipe.Del(ctx, bidsKey, asksKey, bidQtyKey, askQtyKey, bboKey, metaKey)

	// Populate bids.
	for _, lvl := range snap.Bids {
		priceStr := lvl.Price.String()
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: priceStr})
		pipe.HSet(ctx, bidQtyKey, priceStr, lvl.Quantity.String())
	}

	// Populate asks.
	for _, lvl := range snap.Asks {
		priceStr := lvl.Price.String()
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: priceStr})
		pipe.HSet(ctx, askQtyKey, priceStr, lvl.Quantity.String())
	}

	// Set BBO.
	if bid, ok := snap.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "bid", bid.Price.String())
	}
	if ask, ok := snap.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "ask", ask.Price.String())
	}

	// Set metadata.
	pipe.HSet(ctx, metaKey,
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
		"sequence", strconv.FormatInt(snap.Sequence, 10),
		"epoch", strconv.FormatInt(snap.Epoch, 10),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", instID, err)
	}
	return nil
}

// GetSnapshot reconstructs a full BookSnapshot from Redis.
// It returns domain.ErrNotFound if no mirrored book exists for the instrument.
func (bm *BookMirror) GetSnapshot(ctx context.Context, instID string) (domain.BookSnapshot, error) {
	pipe := bm.rdb.Pipeline()

	// Read bids sorted descending (highest first).
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(instID), 0, -1)
	// Read asks sorted ascending (lowest first).
	asksCmd := pipe.ZRange(ctx, bookAsksKey(instID), 0, -1)
	// Read quantity hashes and metadata.
	bidQtyCmd := pipe.HGetAll(ctx, bookBidQtyKey(instID))
	askQtyCmd := pipe.HGetAll(ctx, bookAskQtyKey(instID))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(instID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book snapshot %s: %w", instID, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.BookSnapshot{InstID: instID}

	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano).UTC()
		}
	}
	if seqStr, ok := metaVals["sequence"]; ok {
		snap.Sequence, _ = strconv.ParseInt(seqStr, 10, 64)
	}
	if epochStr, ok := metaVals["epoch"]; ok {
		snap.Epoch, _ = strconv.ParseInt(epochStr, 10, 64)
	}

	bidQtys, _ := bidQtyCmd.Result()
	bidMembers, _ := bidsCmd.Result()
	snap.Bids = buildLevels(bidMembers, bidQtys)

	askQtys, _ := askQtyCmd.Result()
	askMembers, _ := asksCmd.Result()
	snap.Asks = buildLevels(askMembers, askQtys)

	return snap, nil
}

// buildLevels pairs ordered price members with their quantity hash entries,
// skipping members without a parseable price or quantity.
func buildLevels(members []string, qtys map[string]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(members))
	for _, priceStr := range members {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		qtyStr, ok := qtys[priceStr]
		if !ok {
			continue
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil || !qty.IsPositive() {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

// GetBBO retrieves the current best bid and best ask from the BBO hash.
// It returns domain.ErrNotFound if no BBO data exists.
func (bm *BookMirror) GetBBO(ctx context.Context, instID string) (bestBid, bestAsk decimal.Decimal, err error) {
	vals, err := bm.rdb.HGetAll(ctx, bookBBOKey(instID)).Result()
	if err != nil {
		return bestBid, bestAsk, fmt.Errorf("redis: get bbo %s: %w", instID, err)
	}
	if len(vals) == 0 {
		return bestBid, bestAsk, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = decimal.NewFromString(bidStr)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = decimal.NewFromString(askStr)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
