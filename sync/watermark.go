package sync

import (
	"context"
	"time"
)

// SyncWindow is the half-open range of source timestamps to fetch, in epoch milliseconds.
type SyncWindow struct {
	StartMillis int64
	EndMillis   int64
}

// IsEmpty reports whether the window holds no time, i.e. there is nothing new to fetch.
func (w SyncWindow) IsEmpty() bool {
	return w.StartMillis >= w.EndMillis
}

func (w SyncWindow) String() string {
	return FormatTimestampISO(w.StartMillis) + "/" + FormatTimestampISO(w.EndMillis)
}

// LatestEntryFetcher reads the destination's most recent entry timestamp.
type LatestEntryFetcher interface {
	FetchLatestEntry(ctx context.Context, cfg DestinationConfig) (millis int64, found bool)
}

// ResolveWindow returns the window to fetch for a destination. It starts one
// millisecond after the destination's latest entry, or lookbackHours before
// now when the destination holds nothing. It ends at now.
func ResolveWindow(ctx context.Context, fetcher LatestEntryFetcher, cfg DestinationConfig, lookbackHours int, now time.Time) SyncWindow {
	end := now.UnixMilli()
	start := end - int64(lookbackHours)*time.Hour.Milliseconds()
	if latest, found := fetcher.FetchLatestEntry(ctx, cfg); found {
		start = latest + 1
	}
	return SyncWindow{StartMillis: start, EndMillis: end}
}
