// Package share implements the shared-state coordinator (C4) and the
// client-side object proxy (C5): a dedicated process (or goroutine, for
// same-process use) that owns named Share containers and serves
// add/remove/get/call commands over a framed connection, plus a Proxy that
// routes attribute and method access to it according to sharemeta's
// read/write classification.
//
// The command channel is an opaque net.Conn — a Unix domain socket across
// real OS processes, or a net.Pipe for same-process and test use — framed
// as a length-prefixed gob envelope (Frame) carrying a wire-codec-encoded
// payload. The coordinator processes every command through a single
// goroutine reading from one channel, so per-(share, attribute) ordering
// is the natural FIFO of a single-threaded command queue, exactly as spec
// §5 describes, with no per-key locking required.
package share
