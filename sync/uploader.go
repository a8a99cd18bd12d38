package sync

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBatchSize is the number of records sent per upload request.
const DefaultBatchSize = 50

// EntriesPoster writes one batch of records to a destination.
type EntriesPoster interface {
	PostEntries(ctx context.Context, cfg DestinationConfig, batch []CanonicalRecord) error
}

// UploadResult counts records by batch outcome.
type UploadResult struct {
	Succeeded int
	Failed    int
	Errors    []error
}

// Err returns nil when every batch succeeded, otherwise an error wrapping
// ErrUploadPartialFailure and each batch error.
func (r UploadResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d records failed: %w", ErrUploadPartialFailure, r.Failed, r.Failed+r.Succeeded, errors.Join(r.Errors...))
}

// Upload sends records in batches of batchSize. A failed batch counts all of
// its records as failed and does not stop the remaining batches.
func Upload(ctx context.Context, poster EntriesPoster, cfg DestinationConfig, records []CanonicalRecord, batchSize int) UploadResult {
	var result UploadResult
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batch := records[start:end]
		if err := poster.PostEntries(ctx, cfg, batch); err != nil {
			result.Failed += len(batch)
			result.Errors = append(result.Errors, fmt.Errorf("batch %d-%d: %w", start, end-1, err))
			continue
		}
		result.Succeeded += len(batch)
	}
	return result
}
