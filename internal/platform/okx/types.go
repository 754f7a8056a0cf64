package okx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// --------------------------------------------------------------------------
// WebSocket wire DTOs
// --------------------------------------------------------------------------

// SubscriptionArg identifies one channel/instrument pair in a subscribe or
// unsubscribe request and in every push message's envelope.
type SubscriptionArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// WSCommand is an outbound op frame, e.g.
// {"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}.
type WSCommand struct {
	Op   string            `json:"op"`
	Args []SubscriptionArg `json:"args"`
}

// PushMessage is the inbound envelope. Event frames (subscribe acks, errors)
// carry Event/Code/Msg; data frames carry Arg/Action/Data.
type PushMessage struct {
	Event  string          `json:"event,omitempty"`
	Code   string          `json:"code,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Arg    SubscriptionArg `json:"arg"`
	Action string          `json:"action,omitempty"` // "snapshot" or "update"
	Data   []BookData      `json:"data,omitempty"`
}

// BookData is one book frame. Levels are ["price","qty","0","numOrders"];
// a zero qty in an update removes the level. SeqID orders the feed and
// PrevSeqID must match the previously applied SeqID for continuity.
type BookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"` // unix millis
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
	Checksum  int32      `json:"checksum,omitempty"`
}

const (
	ActionSnapshot = "snapshot"
	ActionUpdate   = "update"

	// ChannelBooks is the full-depth L2 channel.
	ChannelBooks = "books"
)

// --------------------------------------------------------------------------
// Domain translation
// --------------------------------------------------------------------------

// ToBookUpdates translates a data frame into typed updates, one per BookData
// element. Event frames and empty frames yield no updates.
func (m *PushMessage) ToBookUpdates() ([]domain.BookUpdate, error) {
	if m.Event != "" || len(m.Data) == 0 {
		return nil, nil
	}

	updates := make([]domain.BookUpdate, 0, len(m.Data))
	for _, d := range m.Data {
		u, err := d.toUpdate(m.Arg.InstID, m.Action)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (d *BookData) toUpdate(instID, action string) (domain.BookUpdate, error) {
	switch action {
	case ActionSnapshot:
		bids, err := parseLevels(d.Bids)
		if err != nil {
			return domain.BookUpdate{}, fmt.Errorf("okx: parse snapshot bids: %w", err)
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return domain.BookUpdate{}, fmt.Errorf("okx: parse snapshot asks: %w", err)
		}
		u := domain.NewSnapshot(instID, d.SeqID, bids, asks)
		u.ReceivedAt = d.timestamp()
		return u, nil

	case ActionUpdate:
		changes := make([]domain.LevelChange, 0, len(d.Bids)+len(d.Asks))
		changes, err := appendChanges(changes, domain.SideBid, d.Bids)
		if err != nil {
			return domain.BookUpdate{}, fmt.Errorf("okx: parse update bids: %w", err)
		}
		changes, err = appendChanges(changes, domain.SideAsk, d.Asks)
		if err != nil {
			return domain.BookUpdate{}, fmt.Errorf("okx: parse update asks: %w", err)
		}
		u := domain.NewBatchDelta(instID, d.SeqID, changes)
		u.ReceivedAt = d.timestamp()
		return u, nil

	default:
		return domain.BookUpdate{}, fmt.Errorf("okx: unknown action %q", action)
	}
}

// timestamp converts the millisecond Ts field, falling back to receive time
// when the field is missing or malformed.
func (d *BookData) timestamp() time.Time {
	ms, err := strconv.ParseInt(d.Ts, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// parseLevels parses snapshot levels, dropping zero-quantity entries.
func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, qty, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		if qty.IsPositive() {
			levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
		}
	}
	return levels, nil
}

// appendChanges parses update levels, keeping zero-quantity entries as
// removals.
func appendChanges(changes []domain.LevelChange, side domain.Side, raw [][]string) ([]domain.LevelChange, error) {
	for _, entry := range raw {
		price, qty, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		changes = append(changes, domain.LevelChange{Side: side, Price: price, Quantity: qty})
	}
	return changes, nil
}

func parseEntry(entry []string) (price, qty decimal.Decimal, err error) {
	if len(entry) < 2 {
		return price, qty, fmt.Errorf("level entry has %d fields, need at least 2", len(entry))
	}
	price, err = decimal.NewFromString(entry[0])
	if err != nil {
		return price, qty, fmt.Errorf("price %q: %w", entry[0], err)
	}
	qty, err = decimal.NewFromString(entry[1])
	if err != nil {
		return price, qty, fmt.Errorf("quantity %q: %w", entry[1], err)
	}
	return price, qty, nil
}
