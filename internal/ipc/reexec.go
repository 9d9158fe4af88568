//go:build unix

package ipc

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Environment variables a re-exec'd child reads to find its registered
// process name and its end of the control channel. Set by ParentSetup.
const (
	EnvChildName = "SUITKAISE_PROCESS_CHILD"
	envChildFD   = "SUITKAISE_PROCESS_FD"
)

// IsChild reports whether the running binary was invoked as a process
// child (EnvChildName set by a ParentSetup'd exec.Cmd), returning the
// registered factory name the child should run.
//
// A binary that uses the process package must call this (typically from
// main, before flag parsing or any other setup) and, if ok, hand off to
// the process package's child entrypoint instead of running its normal
// command-line behavior — the re-exec'd child starts with fresh, empty
// memory, so it cannot simply resume whatever closure the parent had in
// hand; it must look itself up by name.
func IsChild() (name string, ok bool) {
	name = os.Getenv(EnvChildName)
	return name, name != ""
}

// ChildConn opens the control connection a re-exec'd child inherited from
// its parent as an extra file descriptor.
func ChildConn() (net.Conn, error) {
	fdStr := os.Getenv(envChildFD)
	if fdStr == "" {
		return nil, fmt.Errorf("ipc: %s not set; not running as a process child", envChildFD)
	}
	n, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, fmt.Errorf("ipc: invalid %s %q: %w", envChildFD, fdStr, err)
	}
	f := os.NewFile(uintptr(n), "suitkaise-ipc-child")
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("ipc: FileConn: %w", err)
	}
	_ = f.Close() // net.FileConn dup'd the descriptor; this copy is no longer needed.
	return conn, nil
}

// ParentSetup creates a connected, bidirectional socket pair, arranges for
// the child's end to be inherited by cmd as an extra file descriptor, and
// sets the environment variables the child reads via IsChild/ChildConn.
// Returns the parent-side end of the pair; the caller is responsible for
// calling cmd.Start() afterward.
func ParentSetup(cmd *exec.Cmd, childName string) (net.Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("ipc: socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "suitkaise-ipc-parent")
	childFile := os.NewFile(uintptr(fds[1]), "suitkaise-ipc-child")
	defer func() { _ = childFile.Close() }()

	parentConn, err := net.FileConn(parentFile)
	if err != nil {
		_ = parentFile.Close()
		return nil, fmt.Errorf("ipc: FileConn: %w", err)
	}
	_ = parentFile.Close()

	cmd.ExtraFiles = append(cmd.ExtraFiles, childFile)
	fd := 3 + len(cmd.ExtraFiles) - 1 // fd 0,1,2 are stdin/stdout/stderr; ExtraFiles start at 3
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", envChildFD, fd),
		fmt.Sprintf("%s=%s", EnvChildName, childName),
	)
	return parentConn, nil
}
