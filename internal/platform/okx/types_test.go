package okx

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

const snapshotFrame = `{
	"arg": {"channel": "books", "instId": "BTC-USDT"},
	"action": "snapshot",
	"data": [{
		"asks": [["41006.8", "0.60038921", "0", "1"], ["41007.0", "1.5", "0", "2"]],
		"bids": [["41006.3", "0.30178218", "0", "2"]],
		"ts": "1629966436396",
		"seqId": 7,
		"prevSeqId": -1,
		"checksum": -855196043
	}]
}`

const updateFrame = `{
	"arg": {"channel": "books", "instId": "BTC-USDT"},
	"action": "update",
	"data": [{
		"asks": [["41006.8", "0", "0", "0"]],
		"bids": [["41006.3", "0.5", "0", "1"], ["41005.9", "0.1", "0", "1"]],
		"ts": "1629966436496",
		"seqId": 8,
		"prevSeqId": 7
	}]
}`

func TestSnapshotFrameToUpdate(t *testing.T) {
	var msg PushMessage
	require.NoError(t, json.Unmarshal([]byte(snapshotFrame), &msg))

	updates, err := msg.ToBookUpdates()
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, domain.UpdateSnapshot, u.Kind)
	assert.Equal(t, "BTC-USDT", u.InstID)
	assert.EqualValues(t, 7, u.Sequence)
	require.Len(t, u.Asks, 2)
	require.Len(t, u.Bids, 1)
	assert.True(t, u.Asks[0].Price.Equal(decimal.RequireFromString("41006.8")))
	assert.True(t, u.Bids[0].Quantity.Equal(decimal.RequireFromString("0.30178218")))
	assert.Equal(t, int64(1629966436396), u.ReceivedAt.UnixMilli())
}

func TestUpdateFrameCarriesRemovals(t *testing.T) {
	var msg PushMessage
	require.NoError(t, json.Unmarshal([]byte(updateFrame), &msg))

	updates, err := msg.ToBookUpdates()
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, domain.UpdateDelta, u.Kind)
	assert.EqualValues(t, 8, u.Sequence)
	require.Len(t, u.Changes, 3)

	// Bid changes first, then asks; the zero-qty ask is kept as a removal.
	assert.Equal(t, domain.SideBid, u.Changes[0].Side)
	assert.Equal(t, domain.SideAsk, u.Changes[2].Side)
	assert.True(t, u.Changes[2].Quantity.IsZero())
	assert.True(t, u.Changes[2].Price.Equal(decimal.RequireFromString("41006.8")))
}

func TestEventFrameYieldsNoUpdates(t *testing.T) {
	frame := `{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"},"connId":"a4d3ae55"}`

	var msg PushMessage
	require.NoError(t, json.Unmarshal([]byte(frame), &msg))

	updates, err := msg.ToBookUpdates()
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestSnapshotDropsZeroQuantityLevels(t *testing.T) {
	msg := PushMessage{
		Arg:    SubscriptionArg{Channel: ChannelBooks, InstID: "ETH-USDT"},
		Action: ActionSnapshot,
		Data: []BookData{{
			Bids:  [][]string{{"2000", "0"}, {"1999", "3"}},
			Asks:  [][]string{{"2001", "1"}},
			Ts:    "1629966436396",
			SeqID: 1,
		}},
	}

	updates, err := msg.ToBookUpdates()
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].Bids, 1)
}

func TestMalformedLevelFails(t *testing.T) {
	msg := PushMessage{
		Arg:    SubscriptionArg{Channel: ChannelBooks, InstID: "BTC-USDT"},
		Action: ActionUpdate,
		Data: []BookData{{
			Asks:  [][]string{{"not-a-price", "1"}},
			SeqID: 2,
		}},
	}

	_, err := msg.ToBookUpdates()
	require.Error(t, err)
}

func TestSubscribeCommandWireShape(t *testing.T) {
	cmd := WSCommand{
		Op:   "subscribe",
		Args: []SubscriptionArg{{Channel: ChannelBooks, InstID: "BTC-USDT"}},
	}
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`, string(data))
}
