// Package sharemeta defines the contract C4 (the shared-state coordinator)
// and C5 (the object proxy) use to decide how a method call on a shared
// object should be routed: as a read (round trip, wait for a result) or a
// write (fire-and-forget, serialized per attribute).
//
// The classification is driven by the *presence* of a method's name in the
// Writes set, not by any boolean flag — a method registered with an empty
// write argument list is still write-typed. Methods absent from both Reads
// and Writes default to read-typed, matching a plain user type with no
// analyzer-generated metadata.
package sharemeta

// Classification is the read/write routing decision for a proxied method
// call.
type Classification int

const (
	// Read indicates the proxy should perform a blocking round trip and
	// return the coordinator's result.
	Read Classification = iota
	// Write indicates the proxy should fire-and-forget the call; the
	// coordinator guarantees serial execution per (share, attribute) but
	// never returns a result to the caller.
	Write
)

// ClassMetadata is the per-type declaration consumed by the proxy.
type ClassMetadata struct {
	// Reads names attributes a method depends on. Informational only: the
	// coordinator does not enforce read-set accuracy, but tooling may use
	// it to diagnose stale read-your-own-write expectations.
	Reads []string

	// Writes maps method name to the attribute names it mutates. A method
	// present in this map — even with a nil/empty slice value — is
	// write-typed. Absence means "not declared as a write"; whether it is
	// treated as a read then falls through to the zero-metadata default.
	Writes map[string][]string

	// BlockedMethods maps a method name to the reason calling it through a
	// proxy is barred entirely; the proxy returns an errs.ShareBlocked error
	// locally,
	// without contacting the coordinator.
	BlockedMethods map[string]string

	// Aliases maps a public method name to the internal name invoked inside
	// the coordinator process. Used to strip behavior that only makes sense
	// client-side (e.g. a blocking sleep) before dispatch.
	Aliases map[string]string
}

// Classify returns the routing decision for calling method, given optional
// metadata. A nil receiver (no metadata at all) always reads.
func (m *ClassMetadata) Classify(method string) Classification {
	if m == nil {
		return Read
	}
	if _, ok := m.Writes[method]; ok {
		return Write
	}
	return Read
}

// Blocked reports whether method is barred from proxy dispatch, and why.
func (m *ClassMetadata) Blocked(method string) (reason string, blocked bool) {
	if m == nil {
		return "", false
	}
	reason, blocked = m.BlockedMethods[method]
	return reason, blocked
}

// Resolve returns the internal method name to invoke inside the
// coordinator, applying any declared alias.
func (m *ClassMetadata) Resolve(method string) string {
	if m == nil {
		return method
	}
	if internal, ok := m.Aliases[method]; ok {
		return internal
	}
	return method
}

// BuiltinContainerMetadata returns the fixed classification for the
// built-in List/Set/Mapping container methods (spec §4.4 item 3):
// mutating operations are write-typed, everything else reads. It is the
// same ClassMetadata value regardless of which concrete container a proxy
// call targets, since the method vocabulary is shared across all three.
func BuiltinContainerMetadata() *ClassMetadata {
	return &ClassMetadata{
		Reads: []string{"len", "get", "contains", "copy", "count", "index", "keys", "values", "items", "iter"},
		Writes: map[string][]string{
			"append": nil, "add": nil, "insert": nil, "pop": nil, "delete": nil,
			"item-set": nil, "item-del": nil, "update": nil, "clear": nil, "extend": nil,
		},
	}
}

// Shareable is optionally implemented by types stored in a Share, to
// declare how their methods should be proxied. Types that don't implement
// it get the zero-value ClassMetadata (everything reads).
type Shareable interface {
	ShareMetadata() ClassMetadata
}

// Disallower is optionally implemented by types that can never be
// meaningfully replayed in a foreign coordinator process (thread-local
// timing sessions, live logger handlers, sleeping circuits). Assigning such
// a value into a Share fails with an errs.ShareDisallowed error, carrying
// the reason.
type Disallower interface {
	ShareDisallowed() (reason string, disallowed bool)
}
