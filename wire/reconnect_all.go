package wire

import (
	"reflect"

	"github.com/ceetaro/suitkaise/errs"
)

// ReconnectRegistry rebuilds a live resource from a Reconnector's
// descriptor. Package reconnect's Registry satisfies this; ReconnectAll
// depends only on the interface so wire never imports reconnect.
type ReconnectRegistry interface {
	Reconnect(kind string, metadata map[string]any, credentials map[string]any) (any, error)
}

// Credentials supplies the secrets a registry factory needs, keyed by
// registry kind or by a Reconnector's Class, with "*" as a wildcard
// applied to every kind before the more specific entries are layered on
// top. A nil Credentials means no reconnector in the graph can be
// resolved; ReconnectAll leaves every one of them in place rather than
// calling the registry with an empty credential set.
type Credentials map[string]map[string]any

func (c Credentials) has(kind, class string) bool {
	if c == nil {
		return false
	}
	if _, ok := c["*"]; ok {
		return true
	}
	if _, ok := c[kind]; ok {
		return true
	}
	if _, ok := c[class]; ok {
		return true
	}
	return false
}

func (c Credentials) resolve(kind, class string) map[string]any {
	merged := make(map[string]any)
	if wildcard, ok := c["*"]; ok {
		for k, v := range wildcard {
			merged[k] = v
		}
	}
	for _, key := range [...]string{kind, class} {
		if key == "" {
			continue
		}
		if specific, ok := c[key]; ok {
			for k, v := range specific {
				merged[k] = v
			}
		}
	}
	return merged
}

// ReconnectAll walks a value Decode produced and replaces every
// *Reconnector placeholder reachable from it with the live resource
// registry.Reconnect returns, using credentials to supply whatever the
// matching factory needs. A Reconnector for which no credentials are
// configured — neither a wildcard nor an entry keyed by its kind or class
// — is left untouched: the caller is expected to notice it is still a
// *Reconnector and either supply credentials and call again, or treat the
// share as unusable.
//
// Applying ReconnectAll twice to the same graph is safe: resolved
// placeholders are replaced by the live value and never visited again as
// a *Reconnector, and unresolved ones are left exactly as found.
func ReconnectAll(value any, registry ReconnectRegistry, credentials Credentials) (any, error) {
	w := &reconnectWalker{
		registry:      registry,
		credentials:   credentials,
		seenSlices:    make(map[uintptr]bool),
		seenMaps:      make(map[uintptr]bool),
		seenInstances: make(map[*Instance]bool),
	}
	return w.walk(value)
}

type reconnectWalker struct {
	registry      ReconnectRegistry
	credentials   Credentials
	seenSlices    map[uintptr]bool
	seenMaps      map[uintptr]bool
	seenInstances map[*Instance]bool
}

func (w *reconnectWalker) walk(value any) (any, error) {
	switch x := value.(type) {
	case *Reconnector:
		if !w.credentials.has(x.Descriptor.Kind, x.Descriptor.Class) {
			return x, nil
		}
		creds := w.credentials.resolve(x.Descriptor.Kind, x.Descriptor.Class)
		resolved, err := w.registry.Reconnect(x.Descriptor.Kind, x.Descriptor.Metadata, creds)
		if err != nil {
			return nil, errs.Wrap(errs.ReconnectFailed, err)
		}
		return resolved, nil

	case Set:
		ptr := reflect.ValueOf([]any(x)).Pointer()
		if w.seenSlices[ptr] {
			return x, nil
		}
		w.seenSlices[ptr] = true
		for i, el := range x {
			r, err := w.walk(el)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil

	case []any:
		ptr := reflect.ValueOf(x).Pointer()
		if w.seenSlices[ptr] {
			return x, nil
		}
		w.seenSlices[ptr] = true
		for i, el := range x {
			r, err := w.walk(el)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil

	case map[any]any:
		ptr := reflect.ValueOf(x).Pointer()
		if w.seenMaps[ptr] {
			return x, nil
		}
		w.seenMaps[ptr] = true
		for k, val := range x {
			r, err := w.walk(val)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil

	case *Instance:
		if w.seenInstances[x] {
			return x, nil
		}
		w.seenInstances[x] = true
		for k, val := range x.Attrs {
			r, err := w.walk(val)
			if err != nil {
				return nil, err
			}
			x.Attrs[k] = r
		}
		return x, nil

	default:
		return value, nil
	}
}
