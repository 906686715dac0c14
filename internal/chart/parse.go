package chart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyChartCode is returned for an absent or blank chart code.
	ErrEmptyChartCode = errors.New("chart code is empty")
	// ErrFalsyChartCode is returned when the code parses to null, false, 0 or "".
	ErrFalsyChartCode = errors.New("chart code is falsy")
	// ErrNotAnObject is returned when the code parses to a non-object value.
	ErrNotAnObject = errors.New("chart code is not a JSON object")
)

// ParseChartCode turns the backend's serialized chart specification into a
// ChartOption. It never panics; every unusable code yields an error.
func ParseChartCode(code string) (ChartOption, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, ErrEmptyChartCode
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode chart code: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode chart code: trailing data after JSON value")
	}

	if isFalsy(v) {
		return nil, ErrFalsyChartCode
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotAnObject, v)
	}
	return ChartOption(obj), nil
}

// IsBlank reports whether err means the code carried no chart at all,
// as opposed to malformed JSON.
func IsBlank(err error) bool {
	return errors.Is(err, ErrEmptyChartCode) || errors.Is(err, ErrFalsyChartCode)
}

func isFalsy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}
