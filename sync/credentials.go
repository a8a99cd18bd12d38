package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/biter777/countries"
	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"
)

// SourceCredentials is the static header set the source API authenticates with.
type SourceCredentials struct {
	Token    string
	Country  string // ISO 3166-1 alpha-2
	Language string
	Timezone string // UTC offset in seconds
	DeviceID string
}

// LoadSourceCredentials reads SOURCE_TOKEN (required) and SOURCE_DEVICE_ID
// from store and the locale from settings.
func LoadSourceCredentials(store ConfigStore, settings SourceSettings) (SourceCredentials, error) {
	var result SourceCredentials
	token, exists := store.LookupEnv("SOURCE_TOKEN")
	if !exists || strings.TrimSpace(token) == "" {
		return result, errors.New("SOURCE_TOKEN required")
	}
	result.Token = strings.TrimSpace(token)
	result.DeviceID, _ = store.LookupEnv("SOURCE_DEVICE_ID")
	if result.DeviceID == "" {
		result.DeviceID = uuid.NewString()
	}

	c := countries.ByName(settings.Country) // matches Alpha-2 / Alpha-3 / Name
	if c == countries.Unknown {
		return result, fmt.Errorf("unknown source country %q", settings.Country)
	}
	result.Country = c.Alpha2()
	result.Language = strings.ToUpper(settings.Language)
	if result.Language == "" {
		result.Language = result.Country
	}
	result.Timezone = settings.Timezone
	return result, nil
}

// Region returns the region code used to parse phone number identities.
func (c SourceCredentials) Region() string {
	return c.Country
}

// applyHeaders adds the credential header set to b. Every request carries a
// fresh trace id and the current timestamp.
func (c SourceCredentials) applyHeaders(b *requests.Builder, now time.Time) *requests.Builder {
	b = b.
		Header("authorization", c.Token).
		Header("country", c.Country).
		Header("language", c.Language).
		Header("traceId", uuid.NewString()).
		Header("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if c.Timezone != "" {
		b = b.Header("timezone", c.Timezone)
	}
	if c.DeviceID != "" {
		b = b.Header("deviceId", c.DeviceID)
	}
	return b
}
