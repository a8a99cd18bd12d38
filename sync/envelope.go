package sync

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
)

// EnvelopeStrategy locates a list inside a response envelope.
// An empty Path means the body itself is the list.
type EnvelopeStrategy struct {
	Name string
	Path string
}

// ReadingsEnvelope lists where a readings response may carry its readings,
// in priority order.
var ReadingsEnvelope = []EnvelopeStrategy{
	{Name: "nested under data.curveList", Path: "data.curveList"},
	{Name: "top-level curveList", Path: "curveList"},
	{Name: "body is the list"},
}

// DirectoryEnvelope lists where a directory response may carry its rows.
var DirectoryEnvelope = []EnvelopeStrategy{
	{Name: "data is the list", Path: "data"},
	{Name: "nested under data.list", Path: "data.list"},
	{Name: "body is the list"},
}

var errNoEnvelopeMatch = errors.New("no list found in response envelope")

// ExtractList applies strategies in order and returns the items of the first
// location holding a JSON array.
func ExtractList(doc gjson.Result, strategies []EnvelopeStrategy) ([]gjson.Result, EnvelopeStrategy, error) {
	for _, s := range strategies {
		candidate := doc
		if s.Path != "" {
			candidate = doc.Get(s.Path)
		}
		if candidate.IsArray() {
			return candidate.Array(), s, nil
		}
	}
	return nil, EnvelopeStrategy{}, errNoEnvelopeMatch
}

// checkEnvelopeCode fails when the body carries a "code" field outside okCodes.
func checkEnvelopeCode(doc gjson.Result, okCodes []string) error {
	if !doc.IsObject() {
		return nil
	}
	code := doc.Get("code")
	if !code.Exists() || code.Type == gjson.Null {
		return nil
	}
	if slices.Contains(okCodes, code.String()) {
		return nil
	}
	return fmt.Errorf("response code %s: %s", code.String(), doc.Get("msg").String())
}

// ParseReadingsResponse validates a readings response body and extracts its readings.
// A valid OK envelope without any reading list yields no readings.
func ParseReadingsResponse(body string, okCodes []string) ([]RawReading, error) {
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json response", ErrSourceRequestFailed)
	}
	doc := gjson.Parse(body)
	if err := checkEnvelopeCode(doc, okCodes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceRequestFailed, err)
	}
	items, _, err := ExtractList(doc, ReadingsEnvelope)
	if err != nil {
		return nil, nil
	}
	result := make([]RawReading, 0, len(items))
	for _, item := range items {
		result = append(result, RawReading{Source: sourceFromResult(item)})
	}
	return result, nil
}

// ParseDirectoryResponse validates a directory response body and extracts its rows.
func ParseDirectoryResponse(body string, okCodes []string) ([]Source, error) {
	if !gjson.Valid(body) {
		return nil, errors.New("invalid json response")
	}
	doc := gjson.Parse(body)
	if err := checkEnvelopeCode(doc, okCodes); err != nil {
		return nil, err
	}
	items, _, err := ExtractList(doc, DirectoryEnvelope)
	if err != nil {
		return nil, err
	}
	result := make([]Source, 0, len(items))
	for _, item := range items {
		result = append(result, sourceFromResult(item))
	}
	return result, nil
}
