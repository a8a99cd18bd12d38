package sync

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Source is a JSON value returned by the source API, such as one directory
// row or one reading. Fields are looked up by gjson path.
type Source struct {
	data gjson.Result
}

// NewSource parses json into a Source.
func NewSource(json string) Source {
	return Source{data: gjson.Parse(json)}
}

func sourceFromResult(r gjson.Result) Source {
	return Source{data: r}
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) FloatForPath(path string) (float64, bool) {
	result := s.data.Get(path)
	return result.Float(), result.Exists() && (result.Value() != nil)
}

// Raw returns the JSON text of the value.
func (s Source) Raw() string {
	return s.data.Raw
}

// RawReading is a single reading item as returned by the source.
// Field names vary between source API variants; see FieldCandidates.
type RawReading struct {
	Source
}

// NewRawReading parses json into a RawReading.
func NewRawReading(json string) RawReading {
	return RawReading{Source: NewSource(json)}
}

// numberFromResult reads a JSON number or a numeric string.
func numberFromResult(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// millisFromResult reads epoch milliseconds from a JSON number, a numeric
// string or an RFC 3339 timestamp string.
func millisFromResult(r gjson.Result) (int64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Int(), true
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
