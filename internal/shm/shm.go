// Package shm implements the fixed-layout shared-memory counter segments
// the shared-state coordinator (C4) hands out for lock-free fetch_add: an
// 8-byte little-endian counter plus an 8-byte generation tag, backed by a
// file mmap'd with golang.org/x/sys/unix so both the coordinator and any
// client process holding the same path can fetch_add without round-
// tripping through the command channel.
package shm

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const segmentSize = 16 // 8-byte counter + 8-byte generation tag

// Name derives the segment's backing file path deterministically from
// (coordinatorID, share, attr), so a client that lost its handle can
// rediscover the same segment without asking the coordinator.
func Name(coordinatorID, share, attr string) string {
	h := fnv.New64a()
	h.Write([]byte(coordinatorID))
	h.Write([]byte{0})
	h.Write([]byte(share))
	h.Write([]byte{0})
	h.Write([]byte(attr))
	return filepath.Join(os.TempDir(), "suitkaise-shm-"+hex64(h.Sum64()))
}

func hex64(v uint64) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Counter is one mmap'd segment. The zero value is not usable; obtain one
// via Open.
type Counter struct {
	path string
	file *os.File
	data []byte
}

// Open mmaps the segment at name, creating and zero-sizing it first if it
// doesn't already exist. Safe to call from both the allocating coordinator
// and a client rediscovering the same deterministic name: truncating to
// segmentSize is a no-op on a file that already has that size, so an
// existing counter's value is preserved.
func Open(name string) (*Counter, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(segmentSize); err != nil {
		f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Counter{path: name, file: f, data: data}, nil
}

// FetchAdd atomically adds delta to the counter and returns the new value.
// Lock-free: it never contacts the coordinator.
func (c *Counter) FetchAdd(delta int64) int64 {
	p := (*int64)(unsafe.Pointer(&c.data[0]))
	return atomic.AddInt64(p, delta)
}

// Load reads the counter without modifying it.
func (c *Counter) Load() int64 {
	p := (*int64)(unsafe.Pointer(&c.data[0]))
	return atomic.LoadInt64(p)
}

// Generation reads the segment's generation tag, used to detect an
// unlink/reallocate race between a stale client handle and a fresh
// segment at the same path.
func (c *Counter) Generation() int64 {
	p := (*int64)(unsafe.Pointer(&c.data[8]))
	return atomic.LoadInt64(p)
}

// BumpGeneration increments the generation tag and returns the new value.
func (c *Counter) BumpGeneration() int64 {
	p := (*int64)(unsafe.Pointer(&c.data[8]))
	return atomic.AddInt64(p, 1)
}

// Close unmaps the segment and closes the backing file without unlinking
// it — used when a client is simply done looking at a counter it does not
// own.
func (c *Counter) Close() error {
	if err := unix.Munmap(c.data); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// Free unmaps, closes, and unlinks the segment unconditionally. Per spec,
// counter_remove always unlinks regardless of whether the caller is the
// segment's original owner, and removing an already-removed path is not
// an error.
func (c *Counter) Free() error {
	if err := c.Close(); err != nil {
		return err
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
