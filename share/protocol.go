package share

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Kind discriminates a Frame's purpose, matching the command channel's
// message kinds from spec §6 one-for-one, plus the two response kinds
// (Ok/Err) a request receives back.
type Kind string

const (
	KindAdd         Kind = "add"
	KindRemove      Kind = "remove"
	KindGet         Kind = "get"
	KindCallRead    Kind = "call_read"
	KindCallWrite   Kind = "call_write"
	KindCounterAlloc Kind = "counter_alloc"
	KindCounterFree  Kind = "counter_free"
	KindPing        Kind = "ping"
	KindShutdown    Kind = "shutdown"

	kindOk  Kind = "ok"
	kindErr Kind = "err"
)

const maxFrameSize = 64 << 20 // 64MiB, generous upper bound against a corrupt length prefix

// Frame is the command channel's envelope. Payload, when present, is a
// wire-codec-encoded value (an add's value, a call's argument list, or a
// get/call's result); the envelope itself is gob-encoded directly, since
// it carries only fixed primitive fields and is a protocol header rather
// than a user-facing payload.
type Frame struct {
	ID      uint64
	Kind    Kind
	Share   string
	Attr    string
	Method  string
	Payload []byte
	ErrMsg  string
	ErrKind string
}

// WriteFrame writes f to w as a 4-byte big-endian length prefix followed
// by its gob encoding.
func WriteFrame(w io.Writer, f *Frame) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(f); err != nil {
		return fmt.Errorf("share: encoding frame: %w", err)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(body.Len()))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("share: writing frame length: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("share: writing frame body: %w", err)
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
		return nil, fmt.Errorf("share: frame length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("share: reading frame body: %w", err)
	}
	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&f); err != nil {
		return nil, fmt.Errorf("share: decoding frame: %w", err)
	}
	return &f, nil
}
