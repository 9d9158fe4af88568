package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"time"

	"github.com/ceetaro/suitkaise/errs"
)

func init() {
	for _, v := range []any{
		bool(false),
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		string(""),
		[]byte(nil),
		time.Time{}, time.Duration(0),
	} {
		gob.Register(v)
	}
}

var setType = reflect.TypeOf(Set(nil))

// encoder holds the per-call state the codec needs: a pointer/map-identity
// table for cycle detection, and a monotonic id counter. A fresh encoder is
// constructed for every Encode call, so concurrent callers never share
// mutable state.
type encoder struct {
	seen   map[uintptr]*Node
	nextID int
}

// Encode renders value into the IR, then gob-encodes the IR tree to bytes.
// Fails with an *errs.Error of kind errs.EncodingFailed when a non-
// transferable, non-Resource value (channel, function, unsafe pointer) is
// reached.
func Encode(value any) ([]byte, error) {
	enc := &encoder{seen: make(map[uintptr]*Node)}

	root, err := enc.encodeValue(reflect.ValueOf(value))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(root); err != nil {
		return nil, errs.Wrap(errs.EncodingFailed, err)
	}
	return buf.Bytes(), nil
}

func (e *encoder) allocID() int {
	e.nextID++
	return e.nextID
}

func (e *encoder) encodeValue(v reflect.Value) (*Node, error) {
	if !v.IsValid() {
		return &Node{Kind: KindPrimitive, PrimitiveNil: true}, nil
	}

	if v.CanInterface() {
		if r, ok := v.Interface().(Resource); ok {
			kind, metadata := r.WireDescriptor()
			return &Node{Kind: KindReconnector, Reconnector: &ReconnectorDescriptor{
				Kind:     kind,
				Class:    v.Type().String(),
				Metadata: metadata,
			}}, nil
		}
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return &Node{Kind: KindPrimitive, PrimitiveNil: true}, nil
		}
		return e.encodeValue(v.Elem())

	case reflect.Ptr:
		if v.IsNil() {
			return &Node{Kind: KindPrimitive, PrimitiveNil: true}, nil
		}
		ptr := v.Pointer()
		if existing, ok := e.seen[ptr]; ok {
			return &Node{Kind: KindRef, Ref: existing.ID}, nil
		}
		id := e.allocID()
		placeholder := &Node{ID: id}
		e.seen[ptr] = placeholder
		target, err := e.encodeValue(v.Elem())
		if err != nil {
			return nil, err
		}
		*placeholder = *target
		placeholder.ID = id
		return placeholder, nil

	case reflect.Struct:
		id := e.allocID()
		node := &Node{ID: id, Kind: KindInstance, Class: v.Type().String()}
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			child, err := e.encodeValue(v.Field(i))
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", node.Class, field.Name, err)
			}
			node.Attrs = append(node.Attrs, Entry{
				Key:   &Node{Kind: KindPrimitive, Primitive: field.Name},
				Value: child,
			})
		}
		return node, nil

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type() == setType {
			id := e.allocID()
			node := &Node{ID: id, Kind: KindSet}
			for i := 0; i < v.Len(); i++ {
				child, err := e.encodeValue(v.Index(i))
				if err != nil {
					return nil, err
				}
				node.Elements = append(node.Elements, child)
			}
			return node, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return &Node{Kind: KindPrimitive, Primitive: b}, nil
		}
		if v.Kind() == reflect.Slice && v.Len() > 0 {
			if existing, ok := e.seen[v.Pointer()]; ok {
				return &Node{Kind: KindRef, Ref: existing.ID}, nil
			}
		}
		id := e.allocID()
		node := &Node{ID: id, Kind: KindSequence}
		if v.Kind() == reflect.Slice && v.Len() > 0 {
			e.seen[v.Pointer()] = node
		}
		for i := 0; i < v.Len(); i++ {
			child, err := e.encodeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			node.Elements = append(node.Elements, child)
		}
		return node, nil

	case reflect.Map:
		if v.IsNil() {
			return &Node{Kind: KindPrimitive, PrimitiveNil: true}, nil
		}
		ptr := v.Pointer()
		if existing, ok := e.seen[ptr]; ok {
			return &Node{Kind: KindRef, Ref: existing.ID}, nil
		}
		id := e.allocID()
		node := &Node{ID: id, Kind: KindMapping}
		e.seen[ptr] = node
		iter := v.MapRange()
		for iter.Next() {
			k, err := e.encodeValue(iter.Key())
			if err != nil {
				return nil, err
			}
			val, err := e.encodeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			node.Entries = append(node.Entries, Entry{Key: k, Value: val})
		}
		return node, nil

	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return &Node{Kind: KindPrimitive, Primitive: v.Interface()}, nil

	default:
		return nil, errs.New(errs.EncodingFailed, fmt.Sprintf("cannot encode value of kind %s", v.Kind()))
	}
}
