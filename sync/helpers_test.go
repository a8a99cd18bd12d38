package sync

import (
	gosync "sync"
	"time"
)

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  gosync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testNow = time.Date(2024, 9, 2, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		Source: SourceSettings{
			DirectoryPath: "link/application/app/tagFromInviteLink/linkQueryList/v2",
			ReadingsPath:  "link/application/search/tag/queryMonitorBase",
			Country:       "RU",
			Language:      "RU",
			Timezone:      "10800",
			OKCodes:       []string{"0", "200"},
		},
		Destination: DestinationSettings{
			Device:      "Ottai-Nightscout-Uploader",
			StatusPath:  "api/v1/status.json",
			EntriesPath: "api/v1/entries",
			LatestEntryPaths: []string{
				"api/v1/entries/sgv.json",
				"api/v1/entries.json",
				"api/v1/slice/entries/dateString/sgv/.*/.*",
			},
		},
		Sync: SyncSettings{
			LookbackHours:     5,
			MaxConcurrency:    3,
			BatchSize:         50,
			Interval:          time.Minute,
			DirectoryTTL:      300 * time.Second,
			DirectoryMaxStale: 600 * time.Second,
			ConnectivityTTL:   60 * time.Second,
		},
	}
}
