package sync

import "fmt"

// MapReadings converts raw source readings into destination records for device.
// Readings missing a glucose value or a timestamp are skipped and counted.
// Output order matches input order. MapReadings has no side effects.
func MapReadings(raw []RawReading, device string) (records []CanonicalRecord, skipped int) {
	records = make([]CanonicalRecord, 0, len(raw))
	for _, reading := range raw {
		record, err := MapReading(reading, device)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}
	return records, skipped
}

// MapReading converts a single raw reading. The returned error wraps
// ErrMalformedRecord when a required field is missing.
func MapReading(reading RawReading, device string) (CanonicalRecord, error) {
	var result CanonicalRecord

	glucose, glucoseField, exists := GlucoseFields.Lookup(reading.Source)
	if !exists {
		return result, fmt.Errorf("%w: no glucose field", ErrMalformedRecord)
	}
	mmol, ok := numberFromResult(glucose)
	if !ok || mmol < 0 {
		return result, fmt.Errorf("%w: invalid glucose value %q in %s", ErrMalformedRecord, glucose.Raw, glucoseField)
	}

	timestamp, timestampField, exists := TimestampFields.Lookup(reading.Source)
	if !exists {
		return result, fmt.Errorf("%w: no timestamp field", ErrMalformedRecord)
	}
	millis, ok := millisFromResult(timestamp)
	if !ok || millis <= 0 {
		return result, fmt.Errorf("%w: invalid timestamp %q in %s", ErrMalformedRecord, timestamp.Raw, timestampField)
	}

	result = CanonicalRecord{
		Kind:            RecordKindSGV,
		ValueMgDl:       ToMgDl(mmol),
		Direction:       directionForReading(reading),
		Device:          device,
		TimestampMillis: millis,
		TimestampISO:    FormatTimestampISO(millis),
	}
	return result, nil
}
