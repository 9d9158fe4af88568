// Package ipc implements the control channel between a process parent and
// its re-exec'd child: a length-prefixed binary frame protocol (mirroring
// share/protocol.go's Frame, for the same reason — spec mandates a bespoke
// framing with no pack library implementing it) plus the re-exec bootstrap
// that hands the child its end of the channel as an inherited file
// descriptor.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Kind discriminates a control-channel Frame's purpose.
type Kind string

const (
	// KindRunning is sent child → parent on first phase entry, transitioning
	// the parent's record from starting to running.
	KindRunning Kind = "running"
	// KindHeartbeat is sent child → parent periodically per
	// PConfig.HeartbeatIntervalSeconds.
	KindHeartbeat Kind = "heartbeat"
	// KindResult is sent child → parent exactly once, carrying the final
	// outcome (success value or structured error).
	KindResult Kind = "result"
	// KindStop is sent parent → child: rejoin semantics (finish the
	// current loop iteration, then exit cleanly).
	KindStop Kind = "stop"
	// KindKill is sent parent → child: instakill semantics (abort
	// everything immediately, no result).
	KindKill Kind = "kill"
	// KindConfig is sent parent → child exactly once, first, carrying the
	// child's PConfig (gob-encoded directly by the process package, since
	// PConfig is plain data with no cyclic/polymorphic structure the wire
	// codec's IR would add value over).
	KindConfig Kind = "config"
)

const maxFrameSize = 64 << 20 // 64MiB, generous upper bound against a corrupt length prefix

// Frame is the control channel's envelope. ResultPayload, when present, is
// wire-codec-encoded (the user's __result__ value); the envelope itself is
// gob-encoded directly, since it carries only fixed primitive fields.
type Frame struct {
	Kind      Kind
	LoopIndex int

	ResultPayload []byte
	ConfigPayload []byte

	Failed     bool
	ErrKind    string
	ErrMessage string
	ErrPID     int
	ErrLoopIdx int
	ErrStack   string
}

// WriteFrame writes f to w as a 4-byte big-endian length prefix followed
// by its gob encoding.
func WriteFrame(w io.Writer, f *Frame) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(f); err != nil {
		return fmt.Errorf("ipc: encoding frame: %w", err)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(body.Len()))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("ipc: writing frame length: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("ipc: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed gob-encoded Frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("ipc: frame length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("ipc: reading frame body: %w", err)
	}
	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&f); err != nil {
		return nil, fmt.Errorf("ipc: decoding frame: %w", err)
	}
	return &f, nil
}
