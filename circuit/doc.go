// Package circuit implements two failure-coordination primitives meant to
// live inside process-shared state: Circuit, which trips and auto-resets a
// short counter, and BreakingCircuit, which latches into a broken state
// until explicitly reset.
//
// Both variants track a short counter, a lifetime trip counter, and a
// current backoff sleep duration, guarded by an RWMutex. Sleeping always
// happens outside the lock, so concurrent callers can still observe and
// mutate counters while one goroutine is asleep.
package circuit
