package sync

import (
	"math"
	"time"
)

// MmolToMgDl is the factor used to convert mmol/L to mg/dL.
const MmolToMgDl = 18.018

// RecordKindSGV is the record type for sensor glucose values.
const RecordKindSGV = "sgv"

// ISOTimestampFormat renders UTC timestamps with millisecond precision and a literal Z.
const ISOTimestampFormat = "2006-01-02T15:04:05.000Z"

// Direction is the destination's trend arrow.
type Direction string

const (
	Flat          Direction = "Flat"
	SingleUp      Direction = "SingleUp"
	SingleDown    Direction = "SingleDown"
	DoubleUp      Direction = "DoubleUp"
	DoubleDown    Direction = "DoubleDown"
	FortyFiveUp   Direction = "FortyFiveUp"
	FortyFiveDown Direction = "FortyFiveDown"
)

// CanonicalRecord is one reading in the destination's entry schema.
type CanonicalRecord struct {
	Kind            string    `json:"type"`
	ValueMgDl       int       `json:"sgv"`
	Direction       Direction `json:"direction"`
	Device          string    `json:"device"`
	TimestampMillis int64     `json:"date"`
	TimestampISO    string    `json:"dateString"`
}

// ToMgDl converts a glucose value in mmol/L to mg/dL, rounding half up.
func ToMgDl(mmol float64) int {
	return int(math.Floor(mmol*MmolToMgDl + 0.5))
}

// FormatTimestampISO formats epoch milliseconds as a UTC ISO 8601 timestamp.
func FormatTimestampISO(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(ISOTimestampFormat)
}
