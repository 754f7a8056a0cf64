package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/platform/okx"
)

// Replayer feeds recorded frames from blob storage back into the engine,
// replacing the live WebSocket. Objects under the prefix are replayed in
// name order, which is chronological given the recorder's timestamped paths.
type Replayer struct {
	reader   domain.BlobReader
	prefix   string
	onUpdate UpdateHandler
	logger   *slog.Logger
}

// NewReplayer creates a replayer for the recorded frames under prefix, e.g.
// "frames/BTC-USDT/".
func NewReplayer(reader domain.BlobReader, prefix string, onUpdate UpdateHandler, logger *slog.Logger) *Replayer {
	return &Replayer{
		reader:   reader,
		prefix:   prefix,
		onUpdate: onUpdate,
		logger:   logger.With(slog.String("component", "replayer"), slog.String("prefix", prefix)),
	}
}

// Run replays every recorded object under the prefix, then returns. Frames
// that fail to parse are skipped and counted, matching the live feed's
// drop-don't-crash behavior.
func (r *Replayer) Run(ctx context.Context) error {
	infos, err := r.reader.List(ctx, r.prefix)
	if err != nil {
		return fmt.Errorf("feed: list recordings: %w", err)
	}
	if len(infos) == 0 {
		r.logger.Info("no recordings found")
		return nil
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	var applied, skipped int
	for _, info := range infos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a, s, err := r.replayObject(ctx, info.Path)
		applied += a
		skipped += s
		if err != nil {
			return err
		}
	}

	r.logger.Info("replay complete",
		slog.Int("objects", len(infos)),
		slog.Int("applied", applied),
		slog.Int("skipped", skipped),
	)
	return nil
}

func (r *Replayer) replayObject(ctx context.Context, path string) (applied, skipped int, err error) {
	rc, err := r.reader.Get(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("feed: get %s: %w", path, err)
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return applied, skipped, ctx.Err()
		}

		var rec recordedFrame
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		var msg okx.PushMessage
		if err := json.Unmarshal(rec.Frame, &msg); err != nil {
			skipped++
			continue
		}
		updates, err := msg.ToBookUpdates()
		if err != nil {
			skipped++
			continue
		}
		for _, u := range updates {
			u.ReceivedAt = rec.ReceivedAt
			if r.onUpdate != nil {
				r.onUpdate(ctx, u)
			}
			applied++
		}
	}
	if err := scanner.Err(); err != nil {
		return applied, skipped, fmt.Errorf("feed: scan %s: %w", path, err)
	}
	return applied, skipped, nil
}
