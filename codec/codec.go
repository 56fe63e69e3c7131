// Package codec encodes and decodes JSON payloads for the gateway.
//
// Field names that cannot be expressed as Go identifiers, such as "CPU model", are bridged
// with a FieldMap registered per struct type. The payload is walked along the Go type it is
// decoded into, and each object is renamed with the map of the struct it lands in. Keys of
// map-typed values are never renamed.
//
//	c := codec.New()
//	codec.Register[ProductData](c, codec.FieldMap{"CPU model": "cpuModel"})
package codec

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// FieldMap maps wire field names to the JSON names declared on the Go type.
type FieldMap map[string]string

// inverse returns the local-to-wire mapping used when encoding.
func (m FieldMap) inverse() FieldMap {
	inv := make(FieldMap, len(m))
	for wire, local := range m {
		inv[local] = wire
	}
	return inv
}

// Codec is safe for concurrent use. Registration normally happens at startup.
type Codec struct {
	std      sonic.API
	lossless sonic.API

	mu     sync.RWMutex
	maps   map[reflect.Type]FieldMap
	fields sync.Map // reflect.Type -> map[string]reflect.Type
}

// New returns a codec with encoding/json compatible behavior.
func New() *Codec {
	return &Codec{
		std:      sonic.ConfigStd,
		lossless: sonic.Config{UseNumber: true, SortMapKeys: true}.Froze(),
		maps:     make(map[reflect.Type]FieldMap),
	}
}

// Register declares the field mapping for the struct type T. It applies wherever a T is
// encoded or decoded, at any depth. Registering again replaces the previous map.
func Register[T any](c *Codec, m FieldMap) {
	c.register(reflect.TypeFor[T](), m)
}

func (c *Codec) register(t reflect.Type, m FieldMap) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	cp := make(FieldMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maps[t] = cp
}

// FieldMapFor returns the mapping registered for t, or nil.
func (c *Codec) FieldMapFor(t reflect.Type) FieldMap {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		if m := c.lookup(t); m != nil {
			return m
		}
		t = t.Elem()
	}
	return c.lookup(t)
}

func (c *Codec) lookup(t reflect.Type) FieldMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maps[t]
}

// Encode marshals v, renaming local field names to the wire names registered on each
// struct type reachable from v.
func (c *Codec) Encode(v any) ([]byte, error) {
	data, err := c.std.Marshal(v)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeOf(v)
	if !c.needsRemap(t) {
		return data, nil
	}
	return c.remap(data, t, true)
}

// Decode unmarshals data into out, which must be a non-nil pointer. Wire names are renamed
// per struct type of the destination before unmarshalling.
func (c *Codec) Decode(data []byte, out any) error {
	t := reflect.TypeOf(out)
	if t != nil && t.Kind() == reflect.Pointer && c.needsRemap(t.Elem()) {
		remapped, err := c.remap(data, t.Elem(), false)
		if err != nil {
			return err
		}
		data = remapped
	}
	return c.std.Unmarshal(data, out)
}

func (c *Codec) remap(data []byte, t reflect.Type, encode bool) ([]byte, error) {
	var doc any
	if err := c.lossless.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out, err := c.lossless.Marshal(c.rename(doc, t, encode))
	if err != nil {
		return nil, fmt.Errorf("re-encode remapped document: %w", err)
	}
	return out, nil
}

// needsRemap reports whether any struct type reachable from t has a registered map.
func (c *Codec) needsRemap(t reflect.Type) bool {
	c.mu.RLock()
	empty := len(c.maps) == 0
	c.mu.RUnlock()
	if empty || t == nil {
		return false
	}
	return c.reaches(t, make(map[reflect.Type]bool))
}

func (c *Codec) reaches(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	if c.lookup(t) != nil {
		return true
	}
	if customJSON(t) {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return c.reaches(t.Elem(), seen)
	case reflect.Struct:
		for _, ft := range c.fieldTypes(t) {
			if c.reaches(ft, seen) {
				return true
			}
		}
	}
	return false
}

// rename walks v along t. On decode, keys are wire names and become local names; on
// encode, local names become wire names.
func (c *Codec) rename(v any, t reflect.Type, encode bool) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if customJSON(t) {
		return v
	}
	switch t.Kind() {
	case reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			return v
		}
		m := c.lookup(t)
		if encode {
			m = m.inverse()
		}
		fields := c.fieldTypes(t)
		out := make(map[string]any, len(obj))
		for k, child := range obj {
			local := k
			if renamed, ok := m[k]; ok {
				k = renamed
				if !encode {
					local = renamed
				}
			}
			if ft, ok := fieldType(fields, local); ok {
				child = c.rename(child, ft, encode)
			}
			out[k] = child
		}
		return out
	case reflect.Slice, reflect.Array:
		arr, ok := v.([]any)
		if !ok {
			return v
		}
		for i, child := range arr {
			arr[i] = c.rename(child, t.Elem(), encode)
		}
		return arr
	case reflect.Map:
		obj, ok := v.(map[string]any)
		if !ok {
			return v
		}
		for k, child := range obj {
			obj[k] = c.rename(child, t.Elem(), encode)
		}
		return obj
	default:
		return v
	}
}

// fieldTypes returns the JSON names of t's fields, promoted embedded fields included.
func (c *Codec) fieldTypes(t reflect.Type) map[string]reflect.Type {
	if cached, ok := c.fields.Load(t); ok {
		return cached.(map[string]reflect.Type)
	}
	fields := make(map[string]reflect.Type)
	collectFields(t, fields, make(map[reflect.Type]bool))
	c.fields.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, fields map[string]reflect.Type, seen map[reflect.Type]bool) {
	if seen[t] {
		return
	}
	seen[t] = true
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		ft := f.Type
		if f.Anonymous && name == "" {
			et := ft
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				collectFields(et, fields, seen)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if _, dup := fields[name]; !dup {
			fields[name] = ft
		}
	}
}

// fieldType matches name exactly, then case-insensitively as encoding/json does.
func fieldType(fields map[string]reflect.Type, name string) (reflect.Type, bool) {
	if ft, ok := fields[name]; ok {
		return ft, true
	}
	for k, ft := range fields {
		if strings.EqualFold(k, name) {
			return ft, true
		}
	}
	return nil, false
}

var (
	marshalerType       = reflect.TypeFor[json.Marshaler]()
	unmarshalerType     = reflect.TypeFor[json.Unmarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// customJSON reports whether t controls its own JSON form, so its keys are left alone.
func customJSON(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return t.Implements(marshalerType) || pt.Implements(marshalerType) ||
		pt.Implements(unmarshalerType) || pt.Implements(textUnmarshalerType)
}
