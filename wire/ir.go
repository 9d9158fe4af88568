package wire

// Kind discriminates the node types of the intermediate representation.
type Kind int

const (
	KindPrimitive Kind = iota
	KindSequence
	KindMapping
	KindSet
	KindInstance
	KindRef
	KindReconnector
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindSet:
		return "set"
	case KindInstance:
		return "instance"
	case KindRef:
		return "ref"
	case KindReconnector:
		return "reconnector"
	default:
		return "unknown"
	}
}

// Set marks a slice as a set (unordered, no duplicates by the caller's
// convention) rather than an ordered sequence, giving it a dedicated IR
// node kind on encode. Go has no built-in set type; Set is this codec's
// stand-in, the way Elements already stands in for Python's set/frozenset.
type Set []any

// Entry is one key/value pair of a KindMapping node.
type Entry struct {
	Key   *Node
	Value *Node
}

// ReconnectorDescriptor is the transferable, non-secret description of a
// live resource that could not be serialized directly. Kind names the
// registry entry (see package reconnect) that knows how to rebuild it;
// Metadata carries connection details safe to cross a process boundary
// (host, port, path — never passwords or tokens).
type ReconnectorDescriptor struct {
	Kind     string
	Class    string
	Metadata map[string]any
}

// Node is one IR tree node. Exactly the fields relevant to Kind are
// populated; the rest are zero. ID is assigned to every node capable of
// being the target of a cycle (sequence, mapping, set, instance) so a
// later KindRef node can point back to it.
type Node struct {
	ID   int
	Kind Kind

	// KindPrimitive. PrimitiveNil distinguishes an explicit nil value from
	// the zero value of Primitive, since gob's handling of a nil interface{}
	// field is not something this codec wants to depend on.
	Primitive    any
	PrimitiveNil bool

	// KindSequence, KindSet
	Elements []*Node

	// KindMapping
	Entries []Entry

	// KindInstance
	Class string
	Attrs []Entry

	// KindRef
	Ref int

	// KindReconnector
	Reconnector *ReconnectorDescriptor
}

// Instance is what a KindInstance node decodes to: a class tag plus an
// attribute mapping, matching the typed-instance IR shape directly (the
// destination side never reconstructs a live Go type from the Class
// string — only the reconnect registry rebuilds live values, keyed by a
// Reconnector's Kind, not by Class).
type Instance struct {
	Class string
	Attrs map[string]any
}

// Resource is implemented by values that must cross a process boundary as
// a Reconnector placeholder rather than being walked field-by-field — live
// sockets, database handles, subprocess handles, and similar OS resources.
// WireDescriptor returns the registry kind and the non-secret metadata the
// eventual reconnect call will need.
type Resource interface {
	WireDescriptor() (kind string, metadata map[string]any)
}

// Reconnector is the placeholder Decode returns in place of a live
// resource. It carries everything needed to rebuild the resource given
// credentials, via a registry satisfying ReconnectRegistry (see
// ReconnectAll and package reconnect).
type Reconnector struct {
	Descriptor ReconnectorDescriptor
}
