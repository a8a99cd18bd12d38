package sync

import "errors"

// Errors returned by the sync engine.
//
// Per-tenant failures wrap one of these so callers can classify them with errors.Is:
//
//	if errors.Is(err, sync.ErrNotConfigured) {
//	    // tenant has no destination binding
//	}
var (
	// ErrSourceUnavailable is returned when the tenant directory could not be
	// fetched and no usable cached copy exists.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceRequestFailed is returned when a readings request to the source
	// fails: bad status, non-JSON body or a non-OK code in the envelope.
	ErrSourceRequestFailed = errors.New("source request failed")

	// ErrNotConfigured is returned when no destination URL and secret pair
	// resolves for a tenant.
	ErrNotConfigured = errors.New("destination not configured")

	// ErrDestinationUnreachable is returned when the destination status probe fails.
	ErrDestinationUnreachable = errors.New("destination unreachable")

	// ErrUploadPartialFailure is returned when one or more upload batches failed.
	ErrUploadPartialFailure = errors.New("upload partially failed")

	// ErrMalformedRecord marks a reading missing its glucose value or timestamp.
	// It is counted and skipped, never returned from a run.
	ErrMalformedRecord = errors.New("malformed record")
)

// ErrorKind names an error class in a run summary.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindSourceUnavailable      ErrorKind = "SourceUnavailable"
	KindSourceRequestFailed    ErrorKind = "SourceRequestFailed"
	KindNotConfigured          ErrorKind = "NotConfigured"
	KindDestinationUnreachable ErrorKind = "DestinationUnreachable"
	KindUploadPartialFailure   ErrorKind = "UploadPartialFailure"
	KindMalformedRecord        ErrorKind = "MalformedRecord"
	KindUnknown                ErrorKind = "Unknown"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrSourceUnavailable, KindSourceUnavailable},
	{ErrSourceRequestFailed, KindSourceRequestFailed},
	{ErrNotConfigured, KindNotConfigured},
	{ErrDestinationUnreachable, KindDestinationUnreachable},
	{ErrUploadPartialFailure, KindUploadPartialFailure},
	{ErrMalformedRecord, KindMalformedRecord},
}

// KindOf returns the ErrorKind of err, KindNone for a nil error and
// KindUnknown for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsRetryable returns true if the next scheduled run is likely to succeed
// where this one failed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindSourceUnavailable, KindSourceRequestFailed, KindDestinationUnreachable, KindUploadPartialFailure:
		return true
	}
	return false
}

// IsTenantScoped returns true if err only affects a single tenant and must
// not abort the run.
func IsTenantScoped(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSourceUnavailable)
}
