// Package field pulls bounded values out of decoded JSON documents.
//
// Documents are decoded with json.Number preserved, so 64-bit unsigned values
// survive exactly. Every violation maps to one error kind: a missing required
// key is MISSING_FIELD, a present key of the wrong JSON type is WRONG_TYPE and
// a number outside its inclusive bounds is OUT_OF_RANGE.
package field

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

const component = "field"

// Object is a decoded JSON object
type Object = map[string]any

// Integer is the set of widths Int can extract
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Parse decodes one JSON value, keeping numbers as json.Number.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, dbierrors.WrapError(err, dbierrors.ErrCodeParse, component, "malformed document")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, dbierrors.NewError(dbierrors.ErrCodeParse, component, "trailing data after document")
	}
	return v, nil
}

// Int extracts the integer stored under key and checks min <= x <= max.
// The boolean result reports presence; an absent optional key yields the
// zero value, false and no error. Numbers written with a fraction or an
// exponent, such as 1.5 or 1e3, are WRONG_TYPE even when integral in value.
func Int[T Integer](obj Object, key string, required bool, min, max T) (T, bool, error) {
	var zero T

	raw, ok := obj[key]
	if !ok {
		if !required {
			return zero, false, nil
		}
		return zero, false, missing(key)
	}

	num, ok := raw.(json.Number)
	if !ok {
		return zero, true, wrongType(key, "a number")
	}

	s := num.String()
	if strings.ContainsAny(s, ".eE") {
		return zero, true, wrongType(key, "an integer")
	}

	var v T
	if signed := ^zero < 0; signed {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return zero, true, outOfRange(key, s, min, max)
		}
		v = T(n)
		if int64(v) != n {
			return zero, true, outOfRange(key, s, min, max)
		}
	} else {
		if strings.HasPrefix(s, "-") {
			return zero, true, outOfRange(key, s, min, max)
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return zero, true, outOfRange(key, s, min, max)
		}
		v = T(n)
		if uint64(v) != n {
			return zero, true, outOfRange(key, s, min, max)
		}
	}

	if v < min || v > max {
		return zero, true, outOfRange(key, s, min, max)
	}
	return v, true, nil
}

// Flag extracts a required 0/1 integer as a bool.
func Flag(obj Object, key string) (bool, error) {
	v, _, err := Int[uint8](obj, key, true, 0, 1)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Obj extracts a nested object. An absent key is not an error.
func Obj(obj Object, key string) (Object, bool, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, false, nil
	}
	nested, ok := raw.(map[string]any)
	if !ok {
		return nil, true, dbierrors.Newf(dbierrors.ErrCodeWrongType, component,
			"%s has the wrong type, it is not an object", key).
			WithMetadata("field", key)
	}
	return nested, true, nil
}

func missing(key string) error {
	return dbierrors.Newf(dbierrors.ErrCodeMissingField, component,
		"could not find mandatory field %s", key).
		WithMetadata("field", key)
}

func wrongType(key, want string) error {
	return dbierrors.Newf(dbierrors.ErrCodeWrongType, component,
		"invalid value for %s, it must be %s", key, want).
		WithMetadata("field", key)
}

func outOfRange[T Integer](key, got string, min, max T) error {
	return dbierrors.Newf(dbierrors.ErrCodeOutOfRange, component,
		"invalid value for %s: %s, it must be %d <= x <= %d", key, got, min, max).
		WithMetadata("field", key).
		WithMetadata("min", min).
		WithMetadata("max", max)
}
