package sync

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// Naming conventions for per-tenant destination bindings in the config store.
const (
	DestinationURLPrefix    = "DEST_URL__"
	DestinationSecretPrefix = "DEST_SECRET__"
	DestinationDevicePrefix = "DEST_DEVICE__"
)

// NormalizeConfigKey lowercases s and replaces every character outside
// [a-z0-9_] with an underscore.
func NormalizeConfigKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ConfigKeysForIdentity returns the config keys to try for a tenant identity,
// in priority order. An email yields the full address key followed by the
// local-part key. An identity without "@" that parses as a phone number in
// region is keyed by its E.164 digits.
func ConfigKeysForIdentity(identity string, region string) []string {
	identity = strings.TrimSpace(identity)
	if at := strings.Index(identity, "@"); at >= 0 {
		full := NormalizeConfigKey(identity)
		local := NormalizeConfigKey(identity[:at])
		if local == "" || local == full {
			return []string{full}
		}
		return []string{full, local}
	}
	if region != "" {
		if num, err := libphonenumber.Parse(identity, region); err == nil && libphonenumber.IsValidNumber(num) {
			return []string{fmt.Sprintf("%d%s", num.GetCountryCode(), libphonenumber.GetNationalSignificantNumber(num))}
		}
	}
	return []string{NormalizeConfigKey(identity)}
}

// DestinationResolver binds tenants to destinations by naming convention.
type DestinationResolver struct {
	Store ConfigStore
	// DefaultDevice is used when no DEST_DEVICE__<key> override exists.
	DefaultDevice string
	// Region is used to parse phone number identities.
	Region string
}

// lookupKey tries name as given and then upper cased, the usual env var style.
func (r DestinationResolver) lookupKey(prefix, key string) (string, bool) {
	for _, name := range []string{prefix + key, prefix + strings.ToUpper(key)} {
		if v, exists := r.Store.LookupEnv(name); exists && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Resolve returns the destination bound to identity. The first key with both a
// URL and a secret wins; otherwise the error wraps ErrNotConfigured.
func (r DestinationResolver) Resolve(identity string) (DestinationConfig, error) {
	var result DestinationConfig
	keys := ConfigKeysForIdentity(identity, r.Region)
	for _, key := range keys {
		url, hasURL := r.lookupKey(DestinationURLPrefix, key)
		secret, hasSecret := r.lookupKey(DestinationSecretPrefix, key)
		if !hasURL || !hasSecret {
			continue
		}
		device, hasDevice := r.lookupKey(DestinationDevicePrefix, key)
		if !hasDevice {
			device = r.DefaultDevice
		}
		result = DestinationConfig{
			BaseURL:      url,
			SecretDigest: SecretDigest(secret),
			DeviceLabel:  device,
			ConfigKey:    key,
		}
		return result, nil
	}
	return result, fmt.Errorf("%w: no %s/%s pair for keys %v", ErrNotConfigured, DestinationURLPrefix, DestinationSecretPrefix, keys)
}

// SecretDigest returns the SHA-1 hex digest the destination expects in its api-secret header.
func SecretDigest(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}
