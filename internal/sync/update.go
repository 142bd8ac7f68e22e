package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsift/docsift/internal/platform"
)

const (
	// maxUpdateAttempts bounds how often a failing update batch is
	// retried with progressively smaller mini-batches.
	maxUpdateAttempts = 10

	updateRetryDelay = time.Second
)

// applyUpdates writes the records in batches of batchSize, starting at
// firstBatch. A failing batch is retried from the failure point with
// mini-batches that shrink on every attempt, so one poisoned record
// cannot sink an entire batch; records before the failure point are
// never re-sent within a batch.
func applyUpdates(ctx context.Context, client *platform.Client, collectionID string, records []map[string]any, batchSize, firstBatch int, log *slog.Logger) error {
	total := (len(records) + batchSize - 1) / batchSize
	if firstBatch > 0 {
		if firstBatch >= total {
			return fmt.Errorf("first batch %d out of range (%d batches)", firstBatch, total)
		}
		log.Info("resuming update", "first_batch", firstBatch, "total_batches", total)
	}

	for i := firstBatch; i < total; i++ {
		start := i * batchSize
		end := min(start+batchSize, len(records))
		log.Info("updating batch", "batch", i, "total_batches", total, "records", end-start)
		if err := applyBatch(ctx, client, collectionID, records[start:end], log); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

func applyBatch(ctx context.Context, client *platform.Client, collectionID string, records []map[string]any, log *slog.Logger) error {
	offset := 0
	for attempt := 1; ; attempt++ {
		size := max(len(records)/attempt, 1)
		var lastErr error
		for offset < len(records) {
			end := min(offset+size, len(records))
			if _, err := client.Update(ctx, collectionID, records[offset:end]); err != nil {
				lastErr = err
				break
			}
			offset = end
		}
		if lastErr == nil {
			return nil
		}
		if attempt >= maxUpdateAttempts {
			return fmt.Errorf("update failed after %d attempts at record %d: %w", attempt, offset, lastErr)
		}
		log.Warn("update failed; retrying with smaller mini-batches",
			"attempt", attempt, "offset", offset, "mini_batch_size", max(len(records)/(attempt+1), 1), "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(updateRetryDelay):
		}
	}
}
