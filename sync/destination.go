package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DestinationConfig is the destination binding of one tenant.
type DestinationConfig struct {
	BaseURL string
	// SecretDigest is the SHA-1 hex digest of the raw API secret.
	SecretDigest string
	DeviceLabel  string
	ConfigKey    string
}

// DestinationClient handles all destination API operations.
// It embeds *SyncContext for shared sync configuration.
type DestinationClient struct {
	*SyncContext
}

// DestinationAPIBuilder returns a new requests.Builder for the tenant's destination.
func (d *DestinationClient) DestinationAPIBuilder(cfg DestinationConfig, timeout time.Duration) *requests.Builder {
	return d.apiBuilder(cfg.BaseURL, timeout, "destination/"+cfg.ConfigKey).
		Header("api-secret", cfg.SecretDigest).
		Accept("application/json")
}

// ProbeStatus checks the destination answers its status endpoint with a 2xx.
func (d *DestinationClient) ProbeStatus(ctx context.Context, cfg DestinationConfig) error {
	ctx, span := tracer.Start(ctx, "destination.status")
	defer span.End()

	err := d.DestinationAPIBuilder(cfg, ProbeRequestTimeout).
		Path(d.Settings.Destination.StatusPath).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationUnreachable, err)
	}
	return nil
}

// FetchLatestEntry returns the timestamp of the destination's most recent entry.
// Each configured query shape is tried in turn until one yields a parseable
// answer; found is false when the destination holds no entries or no shape worked.
func (d *DestinationClient) FetchLatestEntry(ctx context.Context, cfg DestinationConfig) (millis int64, found bool) {
	ctx, span := tracer.Start(ctx, "destination.latest")
	defer span.End()

	for _, path := range d.Settings.Destination.LatestEntryPaths {
		var json string
		err := d.DestinationAPIBuilder(cfg, WatermarkRequestTimeout).
			Path(path).
			Param("count", "1").
			ToString(&json).
			Fetch(ctx)
		if err != nil {
			d.logger().Printf("Destination Error: latest entry via %s: %v", path, err)
			continue
		}
		millis, found, ok := ParseLatestEntry(json)
		if ok {
			return millis, found
		}
	}
	return 0, false
}

// ParseLatestEntry reads the most recent entry timestamp from a response body.
// ok is false when the body is not a recognisable entries response.
func ParseLatestEntry(body string) (millis int64, found bool, ok bool) {
	if !gjson.Valid(body) {
		return 0, false, false
	}
	doc := gjson.Parse(body)
	var entry gjson.Result
	switch {
	case doc.IsArray():
		entries := doc.Array()
		if len(entries) == 0 {
			return 0, false, true
		}
		entry = entries[0]
	case doc.IsObject():
		entry = doc
	default:
		return 0, false, false
	}
	for _, field := range []string{"date", "mills", "dateString"} {
		if v, exists := millisFromResult(entry.Get(field)); exists && v > 0 {
			return v, true, true
		}
	}
	return 0, false, false
}

// PostEntries writes one batch of records in a single request.
func (d *DestinationClient) PostEntries(ctx context.Context, cfg DestinationConfig, batch []CanonicalRecord) error {
	body, err := EntriesBody(batch)
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "destination.entries")
	defer span.End()

	var status int
	err = d.DestinationAPIBuilder(cfg, UploadRequestTimeout).
		Path(d.Settings.Destination.EntriesPath).
		Post().
		BodyBytes(body).
		ContentType("application/json").
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			return requests.DefaultValidator(res)
		}).
		Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		d.logger().Printf("Destination Error: POST %d entries to %s returned %d: %v", len(batch), cfg.ConfigKey, status, err)
		return err
	}
	return nil
}

// EntriesBody renders records as a JSON array for a batch upload.
func EntriesBody(records []CanonicalRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("no entries to send")
	}
	body := []byte(`[]`)
	for _, r := range records {
		var err error
		body, err = sjson.SetBytes(body, "-1", r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %d: %w", r.TimestampMillis, err)
		}
	}
	return body, nil
}
