package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// GapAlerter listens on the gap channel of the signal bus and forwards each
// sequence gap to the notifier, so operators hear about feed discontinuities
// without watching logs.
type GapAlerter struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewGapAlerter creates a GapAlerter subscribed to the given bus channel.
func NewGapAlerter(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *GapAlerter {
	return &GapAlerter{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "gap_alerter")),
	}
}

// Run subscribes and forwards gap events until ctx is cancelled. Malformed
// payloads are dropped; notification failures are logged but never stop the
// loop.
func (g *GapAlerter) Run(ctx context.Context) error {
	ch, err := g.bus.Subscribe(ctx, g.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", g.channel, err)
	}
	g.logger.Info("gap alerter started")
	defer g.logger.Info("gap alerter stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			g.handle(ctx, payload)
		}
	}
}

func (g *GapAlerter) handle(ctx context.Context, payload []byte) {
	var ev struct {
		Event       string `json:"event"`
		InstID      string `json:"inst_id"`
		ExpectedSeq int64  `json:"expected_seq"`
		GotSeq      int64  `json:"got_seq"`
		OccurredAt  string `json:"occurred_at"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}

	title := fmt.Sprintf("Sequence gap on %s", ev.InstID)
	message := fmt.Sprintf("expected seq %d, got %d at %s; book gapped until next snapshot",
		ev.ExpectedSeq, ev.GotSeq, ev.OccurredAt)

	if err := g.notifier.Notify(ctx, EventSequenceGap, title, message); err != nil {
		g.logger.Warn("gap notification failed", slog.String("error", err.Error()))
	}
}
