package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// DefaultRecorderCapacity bounds the in-memory frame buffer between flushes.
const DefaultRecorderCapacity = 1000

// recordedFrame is one JSONL line in a flushed object.
type recordedFrame struct {
	ReceivedAt time.Time       `json:"received_at"`
	Frame      json.RawMessage `json:"frame"`
}

// Recorder buffers raw feed frames in a bounded ring and periodically flushes
// them to blob storage as JSONL, one object per flush. When the buffer fills
// before a flush the oldest frames are dropped and counted.
type Recorder struct {
	writer   domain.BlobWriter
	instID   string
	capacity int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	frames  []recordedFrame
	dropped int64
}

// NewRecorder creates a recorder flushing every interval. A non-positive
// capacity falls back to DefaultRecorderCapacity.
func NewRecorder(writer domain.BlobWriter, instID string, capacity int, interval time.Duration, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{
		writer:   writer,
		instID:   instID,
		capacity: capacity,
		interval: interval,
		logger:   logger.With(slog.String("component", "recorder"), slog.String("inst_id", instID)),
		now:      time.Now,
	}
}

// Record buffers one raw frame. Never blocks on I/O; suitable as the feed's
// raw-frame handler.
func (r *Recorder) Record(raw []byte) {
	frame := recordedFrame{
		ReceivedAt: r.now().UTC(),
		Frame:      json.RawMessage(bytes.Clone(raw)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= r.capacity {
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:len(r.frames)-1]
		r.dropped++
	}
	r.frames = append(r.frames, frame)
}

// Run flushes on a ticker until ctx is cancelled, then performs a final flush
// so a clean shutdown loses nothing.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := r.Flush(flushCtx)
			cancel()
			if err != nil {
				r.logger.Warn("final flush failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush drains the buffer and uploads it as one JSONL object. A failed upload
// returns the frames to the buffer head so the next flush retries them.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.frames) == 0 {
		r.mu.Unlock()
		return nil
	}
	frames := r.frames
	r.frames = nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("feed: encode frame: %w", err)
		}
	}

	path := fmt.Sprintf("frames/%s/%s.jsonl", r.instID, r.now().UTC().Format("20060102T150405.000"))
	if err := r.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		r.mu.Lock()
		r.frames = append(frames, r.frames...)
		if len(r.frames) > r.capacity {
			over := len(r.frames) - r.capacity
			r.frames = r.frames[over:]
			r.dropped += int64(over)
		}
		r.mu.Unlock()
		return fmt.Errorf("feed: flush %s: %w", path, err)
	}

	r.logger.Info("frames flushed",
		slog.String("path", path),
		slog.Int("count", len(frames)),
		slog.Int64("dropped", dropped),
	)
	return nil
}

// Buffered returns the number of frames waiting for the next flush.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
