package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ceetaro/suitkaise/errs"
)

// decoder holds the per-call state Decode needs: a table of already
// allocated containers, keyed by the ID assigned at encode time. A fresh
// decoder is constructed for every Decode call.
//
// Reconstruction happens in two passes rather than depth-first with
// backpatching: pass one walks the whole tree and allocates an empty
// container (slice, map, or *Instance) for every ID-bearing node, before
// any element is populated; pass two walks again and fills each
// container's elements, resolving KindRef nodes against containers pass
// one already allocated. A cyclic graph — a slice containing itself, a
// map reachable from one of its own values — would deadlock a depth-first
// fill if the container didn't already exist at the point its own
// reference is encountered.
type decoder struct {
	containers map[int]any
}

// Decode is the inverse of Encode: it reconstructs the IR tree from bytes,
// then walks it into plain Go values. KindInstance nodes become *Instance
// (class tag plus attribute map); KindReconnector nodes become
// *Reconnector placeholders, left for ReconnectAll to resolve.
func Decode(data []byte) (any, error) {
	var root *Node
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, errs.Wrap(errs.DecodingFailed, err)
	}

	d := &decoder{containers: make(map[int]any)}
	d.allocate(root)
	return d.fill(root)
}

// allocate performs pass one: register an empty container for every
// ID-bearing node reachable from n, recursing into children so nested
// containers are registered too. Already-registered IDs are skipped, which
// is what stops this from looping forever on a cycle.
func (d *decoder) allocate(n *Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindSequence:
		if _, ok := d.containers[n.ID]; ok {
			return
		}
		d.containers[n.ID] = make([]any, len(n.Elements))
		for _, el := range n.Elements {
			d.allocate(el)
		}

	case KindSet:
		if _, ok := d.containers[n.ID]; ok {
			return
		}
		d.containers[n.ID] = make(Set, len(n.Elements))
		for _, el := range n.Elements {
			d.allocate(el)
		}

	case KindMapping:
		if _, ok := d.containers[n.ID]; ok {
			return
		}
		d.containers[n.ID] = make(map[any]any, len(n.Entries))
		for _, e := range n.Entries {
			d.allocate(e.Key)
			d.allocate(e.Value)
		}

	case KindInstance:
		if _, ok := d.containers[n.ID]; ok {
			return
		}
		d.containers[n.ID] = &Instance{Class: n.Class, Attrs: make(map[string]any, len(n.Attrs))}
		for _, a := range n.Attrs {
			d.allocate(a.Value)
		}
	}
}

// fill performs pass two: populate the container registered for n (if any)
// and return the reconstructed value. Every ID-bearing node is visited
// exactly once by this pass, since Encode only ever emits a node's full
// contents the first time that node's identity is reached — every
// subsequent occurrence is a KindRef.
func (d *decoder) fill(n *Node) (any, error) {
	if n == nil {
		return nil, nil
	}

	switch n.Kind {
	case KindPrimitive:
		if n.PrimitiveNil {
			return nil, nil
		}
		return n.Primitive, nil

	case KindRef:
		v, ok := d.containers[n.Ref]
		if !ok {
			return nil, errs.New(errs.DecodingFailed, fmt.Sprintf("dangling reference to id %d", n.Ref))
		}
		return v, nil

	case KindReconnector:
		if n.Reconnector == nil {
			return nil, errs.New(errs.DecodingFailed, "reconnector node missing descriptor")
		}
		return &Reconnector{Descriptor: *n.Reconnector}, nil

	case KindSequence:
		target := d.containers[n.ID].([]any)
		for i, el := range n.Elements {
			v, err := d.fill(el)
			if err != nil {
				return nil, err
			}
			target[i] = v
		}
		return target, nil

	case KindSet:
		target := d.containers[n.ID].(Set)
		for i, el := range n.Elements {
			v, err := d.fill(el)
			if err != nil {
				return nil, err
			}
			target[i] = v
		}
		return target, nil

	case KindMapping:
		target := d.containers[n.ID].(map[any]any)
		for _, e := range n.Entries {
			k, err := d.fill(e.Key)
			if err != nil {
				return nil, err
			}
			v, err := d.fill(e.Value)
			if err != nil {
				return nil, err
			}
			target[k] = v
		}
		return target, nil

	case KindInstance:
		inst := d.containers[n.ID].(*Instance)
		for _, a := range n.Attrs {
			name, err := d.fill(a.Key)
			if err != nil {
				return nil, err
			}
			val, err := d.fill(a.Value)
			if err != nil {
				return nil, err
			}
			inst.Attrs[fmt.Sprint(name)] = val
		}
		return inst, nil

	default:
		return nil, errs.New(errs.DecodingFailed, fmt.Sprintf("unknown node kind %s", n.Kind))
	}
}
