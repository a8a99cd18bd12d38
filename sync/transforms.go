package sync

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// directionTable maps normalized source trend values to destination directions.
// Keys are passed through normalizeTrend so that "single_up", "SINGLE UP" and
// "SingleUp" all match the same entry.
var directionTable = map[string]Direction{}

func init() {
	add := func(d Direction, aliases ...string) {
		directionTable[normalizeTrend(string(d))] = d
		for _, a := range aliases {
			directionTable[normalizeTrend(a)] = d
		}
	}
	// numeric codes run from fastest rise to fastest fall
	add(DoubleUp, "1", "rapid rise", "rising fast")
	add(SingleUp, "2", "up", "rise")
	add(FortyFiveUp, "3", "rising", "slow rise")
	add(Flat, "4", "steady", "stable", "none", "not computable")
	add(FortyFiveDown, "5", "falling", "slow fall")
	add(SingleDown, "6", "down", "fall")
	add(DoubleDown, "7", "rapid fall", "falling fast")
}

func normalizeTrend(s string) string {
	return strings.ToLower(strcase.ToCamel(strings.TrimSpace(s)))
}

// DirectionFor maps a source trend value to a Direction.
// Unrecognised values map to Flat.
func DirectionFor(trend string) Direction {
	if d, ok := directionTable[normalizeTrend(trend)]; ok {
		return d
	}
	return Flat
}

// directionForReading reads the first trend field present on the reading.
// Readings without a trend are Flat.
func directionForReading(reading RawReading) Direction {
	result, _, exists := DirectionFields.Lookup(reading.Source)
	if !exists {
		return Flat
	}
	return DirectionFor(result.String())
}
