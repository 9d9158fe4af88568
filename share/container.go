package share

import (
	"fmt"

	"github.com/ceetaro/suitkaise/errs"
)

// Container-kind markers carried in an add Frame's Method field, telling
// the coordinator to construct a built-in List/Set/Mapping server-side
// from the decoded initial contents rather than storing whatever the wire
// codec decoded verbatim.
const (
	containerMethodList    = "list"
	containerMethodSet     = "set"
	containerMethodMapping = "mapping"
)

// Invokable is implemented by any value stored in a Share that accepts
// call(method, args) dispatch — the built-in List/Set/Mapping containers,
// and any user type that wants RPC-style method calls through the proxy
// without the coordinator needing reflection over arbitrary Go methods.
type Invokable interface {
	Invoke(method string, args []any) (any, error)
}

// List is the built-in container backing a share attribute whose value is
// sequence-like. Method names match spec §4.4 item 3 verbatim.
type List struct {
	Items []any
}

func NewList(items ...any) *List { return &List{Items: append([]any(nil), items...)} }

func (l *List) Invoke(method string, args []any) (any, error) {
	switch method {
	case "append":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		l.Items = append(l.Items, args[0])
		return nil, nil
	case "extend":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		more, ok := args[0].([]any)
		if !ok {
			return nil, errs.New(errs.ShareBlocked, "extend: argument must be a sequence")
		}
		l.Items = append(l.Items, more...)
		return nil, nil
	case "insert":
		if len(args) != 2 {
			return nil, argErr(method, 2, len(args))
		}
		idx, ok := args[0].(int)
		if !ok || idx < 0 || idx > len(l.Items) {
			return nil, errs.New(errs.ShareBlocked, "insert: index out of range")
		}
		l.Items = append(l.Items[:idx], append([]any{args[1]}, l.Items[idx:]...)...)
		return nil, nil
	case "pop":
		idx := len(l.Items) - 1
		if len(args) == 1 {
			if v, ok := args[0].(int); ok {
				idx = v
			}
		}
		if idx < 0 || idx >= len(l.Items) {
			return nil, errs.New(errs.ShareBlocked, "pop: index out of range")
		}
		v := l.Items[idx]
		l.Items = append(l.Items[:idx], l.Items[idx+1:]...)
		return v, nil
	case "delete":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		idx, ok := args[0].(int)
		if !ok || idx < 0 || idx >= len(l.Items) {
			return nil, errs.New(errs.ShareBlocked, "delete: index out of range")
		}
		l.Items = append(l.Items[:idx], l.Items[idx+1:]...)
		return nil, nil
	case "clear":
		l.Items = nil
		return nil, nil
	case "len":
		return len(l.Items), nil
	case "get":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		idx, ok := args[0].(int)
		if !ok || idx < 0 || idx >= len(l.Items) {
			return nil, errs.New(errs.ShareBlocked, "get: index out of range")
		}
		return l.Items[idx], nil
	case "contains":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		for _, v := range l.Items {
			if v == args[0] {
				return true, nil
			}
		}
		return false, nil
	case "count":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		n := 0
		for _, v := range l.Items {
			if v == args[0] {
				n++
			}
		}
		return n, nil
	case "index":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		for i, v := range l.Items {
			if v == args[0] {
				return i, nil
			}
		}
		return -1, nil
	case "copy", "iter":
		return append([]any(nil), l.Items...), nil
	default:
		return nil, unsupportedMethod("List", method)
	}
}

// Set is the built-in container backing a share attribute whose value is
// unordered, duplicate-free. Stored internally as a Go map for O(1)
// membership; "copy"/"iter" snapshots are returned as a plain []any.
type Set struct {
	Items map[any]struct{}
}

func NewSet(items ...any) *Set {
	s := &Set{Items: make(map[any]struct{}, len(items))}
	for _, v := range items {
		s.Items[v] = struct{}{}
	}
	return s
}

func (s *Set) Invoke(method string, args []any) (any, error) {
	switch method {
	case "add":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		s.Items[args[0]] = struct{}{}
		return nil, nil
	case "delete":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		delete(s.Items, args[0])
		return nil, nil
	case "update":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		more, ok := args[0].([]any)
		if !ok {
			return nil, errs.New(errs.ShareBlocked, "update: argument must be a sequence")
		}
		for _, v := range more {
			s.Items[v] = struct{}{}
		}
		return nil, nil
	case "clear":
		s.Items = make(map[any]struct{})
		return nil, nil
	case "len":
		return len(s.Items), nil
	case "contains":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		_, ok := s.Items[args[0]]
		return ok, nil
	case "copy", "iter":
		out := make([]any, 0, len(s.Items))
		for v := range s.Items {
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, unsupportedMethod("Set", method)
	}
}

// Mapping is the built-in container backing a share attribute whose value
// is keyed.
type Mapping struct {
	Items map[any]any
}

func NewMapping() *Mapping { return &Mapping{Items: make(map[any]any)} }

func (m *Mapping) Invoke(method string, args []any) (any, error) {
	switch method {
	case "item-set":
		if len(args) != 2 {
			return nil, argErr(method, 2, len(args))
		}
		m.Items[args[0]] = args[1]
		return nil, nil
	case "item-del":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		delete(m.Items, args[0])
		return nil, nil
	case "update":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		more, ok := args[0].(map[any]any)
		if !ok {
			return nil, errs.New(errs.ShareBlocked, "update: argument must be a mapping")
		}
		for k, v := range more {
			m.Items[k] = v
		}
		return nil, nil
	case "clear":
		m.Items = make(map[any]any)
		return nil, nil
	case "len":
		return len(m.Items), nil
	case "get":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		return m.Items[args[0]], nil
	case "contains":
		if len(args) != 1 {
			return nil, argErr(method, 1, len(args))
		}
		_, ok := m.Items[args[0]]
		return ok, nil
	case "keys":
		out := make([]any, 0, len(m.Items))
		for k := range m.Items {
			out = append(out, k)
		}
		return out, nil
	case "values":
		out := make([]any, 0, len(m.Items))
		for _, v := range m.Items {
			out = append(out, v)
		}
		return out, nil
	case "items", "iter":
		out := make([]any, 0, len(m.Items))
		for k, v := range m.Items {
			out = append(out, [2]any{k, v})
		}
		return out, nil
	case "copy":
		out := make(map[any]any, len(m.Items))
		for k, v := range m.Items {
			out[k] = v
		}
		return out, nil
	default:
		return nil, unsupportedMethod("Mapping", method)
	}
}

func argErr(method string, want, got int) error {
	return errs.New(errs.ShareBlocked, fmt.Sprintf("%s: expected %d argument(s), got %d", method, want, got))
}

func unsupportedMethod(container, method string) error {
	return errs.New(errs.ShareBlocked, fmt.Sprintf("%s has no method %q", container, method))
}

// builtinMutatingMethods lists the mutating container methods above per
// spec §4.4 item 3, independent of which concrete container (List, Set,
// Mapping) a name applies to; every other method reads.
var builtinMutatingMethods = map[string]bool{
	"append": true, "add": true, "insert": true, "pop": true, "delete": true,
	"item-set": true, "item-del": true, "update": true, "clear": true, "extend": true,
}

// IsBuiltinWrite reports whether method is one of the built-in container's
// mutating operations.
func IsBuiltinWrite(method string) bool {
	return builtinMutatingMethods[method]
}
