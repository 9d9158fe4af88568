// Package reconnect implements the reconnector registry (C2): a table of
// kind -> factory(metadata, credentials) -> (live resource, error), used to
// rebuild the resources a wire.Reconnector placeholder stands in for once
// it reaches a process that holds real credentials.
//
// Registry satisfies wire.ReconnectRegistry, so wire.ReconnectAll can drive
// it without this package ever being imported by wire — the dependency
// runs one way only.
package reconnect
