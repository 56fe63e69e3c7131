package http

import (
	"bytes"
	"errors"
	"reflect"

	"github.com/gaborage/restgate/codec"
)

// Shape tells the decoder whether a response is one value, an ordered collection or nothing.
type Shape int

const (
	ShapeSingle Shape = iota
	ShapeMany
	ShapeNone
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeMany:
		return "many"
	case ShapeNone:
		return "none"
	default:
		return "unknown"
	}
}

// Target is a decode target: the Go result type R plus the shape of the payload.
// The zero value decodes a single R.
type Target[R any] struct {
	shape Shape
}

// Single decodes the body as one JSON value of type T.
func Single[T any]() Target[T] {
	return Target[T]{shape: ShapeSingle}
}

// Many decodes the body as a JSON array of T, preserving array order.
func Many[T any]() Target[[]T] {
	return Target[[]T]{shape: ShapeMany}
}

// None ignores the body of a successful response, so an empty body is accepted.
func None() Target[struct{}] {
	return Target[struct{}]{shape: ShapeNone}
}

// Shape returns the payload shape of the target.
func (t Target[R]) Shape() Shape { return t.shape }

var (
	errNotArray = errors.New("expected a JSON array")
	jsonNull    = []byte("null")
)

// Decode converts a raw response into the target's result type.
//
// Statuses outside 2xx yield an HTTPStatusError carrying the body verbatim and no parse is
// attempted. A blank or null body yields EmptyBodyError unless the target is None.
// Anything the codec rejects yields a DecodeError holding the complete body.
func Decode[R any](c *codec.Codec, target Target[R], status int, body []byte) (R, error) {
	var out R
	if !IsSuccessStatus(status) {
		return out, &HTTPStatusError{StatusCode: status, Body: body}
	}
	if target.shape == ShapeNone {
		return out, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return out, &EmptyBodyError{StatusCode: status}
	}
	if target.shape == ShapeMany && trimmed[0] != '[' {
		return out, &DecodeError{Cause: errNotArray, RawBody: body}
	}

	if err := c.Decode(trimmed, &out); err != nil {
		return out, &DecodeError{Cause: err, RawBody: body}
	}
	if target.shape == ShapeMany {
		ensureNonNilSlice(&out)
	}
	return out, nil
}

// DecodeOne decodes a single T.
func DecodeOne[T any](c *codec.Codec, status int, body []byte) (T, error) {
	return Decode(c, Single[T](), status, body)
}

// DecodeMany decodes an ordered collection of T. An empty array yields an empty, non-nil slice.
func DecodeMany[T any](c *codec.Codec, status int, body []byte) ([]T, error) {
	return Decode(c, Many[T](), status, body)
}

func ensureNonNilSlice(ptr any) {
	v := reflect.ValueOf(ptr).Elem()
	if v.Kind() == reflect.Slice && v.IsNil() {
		v.Set(reflect.MakeSlice(v.Type(), 0, 0))
	}
}
