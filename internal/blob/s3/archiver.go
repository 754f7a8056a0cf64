package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// archiveBatchSize bounds how many rows one archive pass pulls into memory.
const archiveBatchSize = 5000

// FeedArchiver implements domain.Archiver by querying the stores for old
// rows, serializing them to JSONL, uploading the result to object storage,
// and deleting the archived rows. Rows are only deleted after the upload
// succeeded, so a failed upload leaves the database untouched.
type FeedArchiver struct {
	writer      domain.BlobWriter
	simulations domain.SimulationStore
	gaps        domain.GapStore
	logger      *slog.Logger
}

// NewFeedArchiver creates a FeedArchiver.
func NewFeedArchiver(writer domain.BlobWriter, simulations domain.SimulationStore, gaps domain.GapStore, logger *slog.Logger) *FeedArchiver {
	return &FeedArchiver{
		writer:      writer,
		simulations: simulations,
		gaps:        gaps,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSimulations moves simulations created before the cutoff to
// archive/simulations/YYYY-MM.jsonl and returns the number archived.
func (a *FeedArchiver) ArchiveSimulations(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.simulations.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations marshal: %w", err)
	}

	path := archivePath("simulations", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations upload: %w", err)
	}

	// Delete only through the newest archived row, not the cutoff: a batch
	// smaller than the query limit may not have covered the full range.
	cutoff := rows[len(rows)-1].CreatedAt.Add(time.Nanosecond)
	deleted, err := a.simulations.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive simulations delete: %w", err)
	}

	a.logger.Info("simulations archived",
		slog.String("path", path),
		slog.Int("archived", len(rows)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(rows)), nil
}

// ArchiveGapEvents moves gap events that occurred before the cutoff to
// archive/gap_events/YYYY-MM.jsonl and returns the number archived.
func (a *FeedArchiver) ArchiveGapEvents(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.gaps.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive gap events query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive gap events marshal: %w", err)
	}

	path := archivePath("gap_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive gap events upload: %w", err)
	}

	cutoff := rows[len(rows)-1].OccurredAt.Add(time.Nanosecond)
	deleted, err := a.gaps.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive gap events delete: %w", err)
	}

	a.logger.Info("gap events archived",
		slog.String("path", path),
		slog.Int("archived", len(rows)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(rows)), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/simulations/2026-08.jsonl
//	archive/gap_events/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*FeedArchiver)(nil)
