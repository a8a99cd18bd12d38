package sync

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// SourceFetcher handles all source API operations.
// It embeds *SyncContext for shared sync configuration.
type SourceFetcher struct {
	*SyncContext
}

// SourceAPIBuilder returns a new requests.Builder configured for the source API,
// carrying the credential header set.
func (s *SourceFetcher) SourceAPIBuilder(timeout time.Duration) *requests.Builder {
	builder := s.apiBuilder(s.Settings.Source.BaseURL, timeout, "source")
	return s.Credentials.applyHeaders(builder, s.now())
}

// FetchDirectory lists the tenant rows visible to the source account.
func (s *SourceFetcher) FetchDirectory(ctx context.Context) ([]Source, error) {
	ctx, span := tracer.Start(ctx, "source.directory")
	defer span.End()

	var json string
	err := s.SourceAPIBuilder(DirectoryRequestTimeout).
		Path(s.Settings.Source.DirectoryPath).
		Post().
		BodyBytes([]byte(`{}`)).
		ContentType("application/json").
		Handle(jsonBodyHandler(&json)).
		Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger().Printf("Source Error: directory request: %v", err)
		return nil, err
	}
	return ParseDirectoryResponse(json, s.Settings.Source.OKCodes)
}

// FetchReadings retrieves the raw readings for tenant within window.
// Every failure wraps ErrSourceRequestFailed.
func (s *SourceFetcher) FetchReadings(ctx context.Context, tenant Tenant, window SyncWindow) ([]RawReading, error) {
	ctx, span := tracer.Start(ctx, "source.readings")
	defer span.End()

	var json string
	err := s.SourceAPIBuilder(SourceFetchRequestTimeout).
		Path(s.Settings.Source.ReadingsPath).
		Param("fromUserId", tenant.SourceUserID).
		Param("isOpen", "0").
		Param("startTime", strconv.FormatInt(window.StartMillis, 10)).
		Param("endTime", strconv.FormatInt(window.EndMillis, 10)).
		Handle(jsonBodyHandler(&json)).
		Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger().Printf("Source Error: readings request for %s: %v", tenant.SourceUserID, err)
		return nil, fmt.Errorf("%w: %w", ErrSourceRequestFailed, err)
	}
	return ParseReadingsResponse(json, s.Settings.Source.OKCodes)
}

// jsonBodyHandler reads the body into s after checking the response is JSON.
func jsonBodyHandler(s *string) requests.ResponseHandler {
	return func(res *http.Response) error {
		ct := res.Header.Get("Content-Type")
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !(mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")) {
			return fmt.Errorf("unexpected content type %q", ct)
		}
		return requests.ToString(s)(res)
	}
}
