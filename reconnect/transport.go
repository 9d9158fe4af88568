package reconnect

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/ceetaro/suitkaise/errs"
)

// connectSocket redials a TCP or Unix socket described by metadata
// ("network" defaulting to "tcp", "address").
func connectSocket(metadata, _ map[string]any) (any, error) {
	network := metaString(metadata, "network")
	if network == "" {
		network = "tcp"
	}
	address := metaString(metadata, "address")
	if address == "" {
		return nil, errs.New(errs.ReconnectFailed, "socket: metadata missing address")
	}
	conn, err := net.DialTimeout(network, address, 10*time.Second)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return conn, nil
}

// connectPipe reopens a named pipe (FIFO) at metadata["path"].
func connectPipe(metadata, _ map[string]any) (any, error) {
	path := metaString(metadata, "path")
	if path == "" {
		return nil, errs.New(errs.ReconnectFailed, "pipe: metadata missing path")
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return f, nil
}

// connectSubprocess re-dials the IPC endpoint a sub-process manager (C8)
// left behind for a still-running child, rather than attempting to
// resurrect the child itself — a dead child is gone regardless of
// language. metadata carries the endpoint the way connectSocket's does.
func connectSubprocess(metadata, credentials map[string]any) (any, error) {
	endpoint := metaString(metadata, "endpoint")
	if endpoint == "" {
		return nil, errs.New(errs.ReconnectFailed, "subprocess: metadata missing endpoint; the child is gone if none was recorded")
	}
	return connectSocket(map[string]any{"network": "unix", "address": endpoint}, credentials)
}

// connectThread has no Go analogue: goroutines are not OS-level, named,
// independently-addressable resources the way an OS thread handle is in
// the runtime's origin language, so there is nothing to reconnect to. This
// kind exists so a descriptor crossing from a non-Go peer still resolves
// to a typed, explainable failure instead of "unknown kind".
func connectThread(map[string]any, map[string]any) (any, error) {
	return nil, errs.New(errs.ReconnectFailed, "thread: goroutines have no reconnectable OS handle")
}

// connectRegexMatch rebuilds a compiled *regexp2.Regexp from the pattern
// and options recorded in metadata, restoring .NET-semantics matching
// state (anchoring, options) across the boundary rather than recompiling
// blind.
func connectRegexMatch(metadata, _ map[string]any) (any, error) {
	pattern := metaString(metadata, "pattern")
	if pattern == "" {
		return nil, errs.New(errs.ReconnectFailed, "regex_match: metadata missing pattern")
	}
	opts := regexp2.None
	if metaString(metadata, "ignore_case") == "true" {
		opts |= regexp2.IgnoreCase
	}
	if metaString(metadata, "multiline") == "true" {
		opts |= regexp2.Multiline
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, fmt.Errorf("compiling %q: %w", pattern, err))
	}
	return re, nil
}
