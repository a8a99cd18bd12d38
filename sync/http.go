package sync

import "time"

// Timeouts applied to every request made to the external APIs.
// A timeout fails the call it belongs to, never the process.
const (
	DirectoryRequestTimeout   = 30 * time.Second
	SourceFetchRequestTimeout = 30 * time.Second
	ProbeRequestTimeout       = 10 * time.Second
	WatermarkRequestTimeout   = 10 * time.Second
	UploadRequestTimeout      = 10 * time.Second
)
