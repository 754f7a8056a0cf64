package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (m *memBlob) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderFlushWritesJSONL(t *testing.T) {
	blob := newMemBlob()
	rec := NewRecorder(blob, "BTC-USDT", 10, time.Minute, testLogger())

	rec.Record([]byte(`{"seq":1}`))
	rec.Record([]byte(`{"seq":2}`))
	require.Equal(t, 2, rec.Buffered())

	require.NoError(t, rec.Flush(context.Background()))
	assert.Zero(t, rec.Buffered())

	require.Len(t, blob.objects, 1)
	for path, data := range blob.objects {
		assert.True(t, strings.HasPrefix(path, "frames/BTC-USDT/"))
		assert.True(t, strings.HasSuffix(path, ".jsonl"))
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"frame":{"seq":1}`)
	}
}

func TestRecorderFlushOnEmptyBufferIsNoop(t *testing.T) {
	blob := newMemBlob()
	rec := NewRecorder(blob, "BTC-USDT", 10, time.Minute, testLogger())

	require.NoError(t, rec.Flush(context.Background()))
	assert.Empty(t, blob.objects)
}

func TestRecorderDropsOldestWhenFull(t *testing.T) {
	blob := newMemBlob()
	rec := NewRecorder(blob, "BTC-USDT", 3, time.Minute, testLogger())

	for i := 1; i <= 5; i++ {
		rec.Record(fmt.Appendf(nil, `{"seq":%d}`, i))
	}
	assert.Equal(t, 3, rec.Buffered())

	require.NoError(t, rec.Flush(context.Background()))
	for _, data := range blob.objects {
		assert.NotContains(t, string(data), `{"seq":1}`)
		assert.NotContains(t, string(data), `{"seq":2}`)
		assert.Contains(t, string(data), `{"seq":5}`)
	}
}

func TestRecorderRetainsFramesOnFailedFlush(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("s3 unavailable")
	rec := NewRecorder(blob, "BTC-USDT", 10, time.Minute, testLogger())

	rec.Record([]byte(`{"seq":1}`))
	require.Error(t, rec.Flush(context.Background()))
	assert.Equal(t, 1, rec.Buffered())

	blob.putErr = nil
	require.NoError(t, rec.Flush(context.Background()))
	assert.Zero(t, rec.Buffered())
	assert.Len(t, blob.objects, 1)
}

func TestReplayerRoundTrip(t *testing.T) {
	blob := newMemBlob()
	rec := NewRecorder(blob, "BTC-USDT", 10, time.Minute, testLogger())

	snapshot := `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot",` +
		`"data":[{"asks":[["100","5"]],"bids":[["99","5"]],"ts":"1629966436396","seqId":1,"prevSeqId":-1}]}`
	update := `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update",` +
		`"data":[{"asks":[["100","0"]],"bids":[],"ts":"1629966436496","seqId":2,"prevSeqId":1}]}`
	ack := `{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"}}`

	rec.Record([]byte(snapshot))
	rec.Record([]byte(ack))
	rec.Record([]byte(update))
	require.NoError(t, rec.Flush(context.Background()))

	var got []domain.BookUpdate
	rep := NewReplayer(blob, "frames/BTC-USDT/", func(ctx context.Context, u domain.BookUpdate) {
		got = append(got, u)
	}, testLogger())

	require.NoError(t, rep.Run(context.Background()))
	require.Len(t, got, 2, "ack frame must be skipped")
	assert.Equal(t, domain.UpdateSnapshot, got[0].Kind)
	assert.Equal(t, domain.UpdateDelta, got[1].Kind)
	assert.EqualValues(t, 2, got[1].Sequence)
}

func TestReplayerSkipsMalformedLines(t *testing.T) {
	blob := newMemBlob()
	blob.objects["frames/BTC-USDT/0001.jsonl"] = []byte("not json\n" +
		`{"received_at":"2026-08-01T00:00:00Z","frame":{"arg":{"channel":"books","instId":"BTC-USDT"},` +
		`"action":"snapshot","data":[{"asks":[["100","1"]],"bids":[],"ts":"1629966436396","seqId":1}]}}` + "\n")

	var got []domain.BookUpdate
	rep := NewReplayer(blob, "frames/BTC-USDT/", func(ctx context.Context, u domain.BookUpdate) {
		got = append(got, u)
	}, testLogger())

	require.NoError(t, rep.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "2026-08-01T00:00:00Z", got[0].ReceivedAt.Format(time.RFC3339))
}
