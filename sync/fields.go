package sync

import "github.com/tidwall/gjson"

// FieldCandidates is an ordered list of field names that may hold the same
// logical value. The first present, non-null field wins.
type FieldCandidates []string

var (
	GlucoseFields   = FieldCandidates{"adjustGlucose", "glucose", "value", "bgValue", "sgv"}
	TimestampFields = FieldCandidates{"monitorTime", "timestamp", "date", "time", "created_at"}
	DirectionFields = FieldCandidates{"trend", "direction", "trendCode"}

	TenantIdentityFields = FieldCandidates{"fromUserEmail", "remark", "email", "userEmail"}
	TenantIDFields       = FieldCandidates{"fromUserId", "id"}
)

// Lookup returns the first candidate field present in source with a non-null
// value, along with the name of that field.
func (c FieldCandidates) Lookup(source Source) (gjson.Result, string, bool) {
	for _, name := range c {
		result := source.data.Get(name)
		if result.Exists() && result.Type != gjson.Null {
			return result, name, true
		}
	}
	return gjson.Result{}, "", false
}

// LookupString is like Lookup but also skips values that render as an empty string.
func (c FieldCandidates) LookupString(source Source) (string, bool) {
	for _, name := range c {
		result := source.data.Get(name)
		if result.Exists() && result.Type != gjson.Null && result.String() != "" {
			return result.String(), true
		}
	}
	return "", false
}
