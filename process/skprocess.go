package process

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/internal/ipc"
	"github.com/ceetaro/suitkaise/internal/logging"
	"github.com/ceetaro/suitkaise/wire"
)

// State is a Skprocess's lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
	StateDone     State = "done"
)

// Result is the structured outcome a Skprocess publishes to its result
// slot: either Value (on success) or Err (spec §6's {kind, message, pid,
// loop_index, traceback} record).
type Result struct {
	Value any
	Err   *errs.Error
}

// Skprocess is the parent-side record for one re-exec'd child process:
// name, state, config, pid, start time, restart count, a result slot, and
// its IPC control connection. Grounded on the external-process lifecycle
// shape of processmgr's `process` type (one-shot Start, Ready/Done-style
// channels, atomic PID tracking, idempotent Close), adapted from a
// supervised long-lived external command into a re-exec'd child running a
// 5-phase user loop.
type Skprocess struct {
	Name    string
	Factory string // registered process.Register name, looked up by the re-exec'd child
	Config  PConfig

	log *logging.Logger

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	conn         net.Conn
	pid          atomic.Int64
	startTime    time.Time
	restartCount int

	lastHeartbeat atomic.Int64 // unix nanos

	result    chan Result
	resultSet atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Skprocess. factory must have been registered (via
// Register) under the same name in every binary that might run it,
// including the one re-exec'd as the child.
func New(name, factory string, cfg PConfig) *Skprocess {
	return &Skprocess{
		Name:    name,
		Factory: factory,
		Config:  cfg,
		log:     logging.Default,
		state:   StateCreated,
		result:  make(chan Result, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// WithLogger overrides the Logger used for this process's operational
// events. Returns sp for chaining.
func (sp *Skprocess) WithLogger(l *logging.Logger) *Skprocess {
	sp.log = l
	return sp
}

// State returns the current lifecycle state.
func (sp *Skprocess) State() State {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.state
}

// PID returns the current child's OS process ID, or 0 if not started.
func (sp *Skprocess) PID() int { return int(sp.pid.Load()) }

// RestartCount returns how many times this record has respawned its
// child after a crash.
func (sp *Skprocess) RestartCount() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.restartCount
}

// IsAlive reports whether a heartbeat (or the initial running signal) has
// been observed within 3x the configured heartbeat interval, for
// operational polling; nothing in this package stops or kills a child whose
// heartbeats go stale. Always true if heartbeats are disabled and the
// process is in the running state.
func (sp *Skprocess) IsAlive() bool {
	if sp.State() != StateRunning {
		return sp.State() == StateStarting
	}
	if sp.Config.HeartbeatInterval <= 0 {
		return true
	}
	last := sp.lastHeartbeat.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) < 3*sp.Config.HeartbeatInterval
}

// start spawns exactly one fresh child OS process and begins supervising
// it; it does not block for completion.
func (sp *Skprocess) start(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("process: resolving own executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	conn, err := ipc.ParentSetup(cmd, sp.Factory)
	if err != nil {
		return fmt.Errorf("process: ipc setup: %w", err)
	}

	sp.mu.Lock()
	sp.state = StateStarting
	sp.mu.Unlock()

	if err := cmd.Start(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("process: starting child: %w", err)
	}

	sp.mu.Lock()
	sp.cmd = cmd
	sp.conn = conn
	sp.startTime = time.Now()
	sp.mu.Unlock()
	sp.pid.Store(int64(cmd.Process.Pid))

	var cfgBuf bytes.Buffer
	if err := gob.NewEncoder(&cfgBuf).Encode(sp.Config); err != nil {
		return fmt.Errorf("process: encoding config: %w", err)
	}
	if err := ipc.WriteFrame(conn, &ipc.Frame{Kind: ipc.KindConfig, ConfigPayload: cfgBuf.Bytes()}); err != nil {
		return fmt.Errorf("process: sending config: %w", err)
	}

	go sp.supervise()
	return nil
}

// supervise reads frames from the child until it closes the connection
// or publishes a result, updating state and the heartbeat clock as it
// goes.
func (sp *Skprocess) supervise() {
	defer close(sp.doneCh)
	for {
		f, err := ipc.ReadFrame(sp.conn)
		if err != nil {
			sp.finishWithCrash(fmt.Errorf("process: child connection ended: %w", err))
			return
		}
		switch f.Kind {
		case ipc.KindRunning:
			sp.mu.Lock()
			sp.state = StateRunning
			sp.mu.Unlock()
			sp.lastHeartbeat.Store(time.Now().UnixNano())
		case ipc.KindHeartbeat:
			sp.lastHeartbeat.Store(time.Now().UnixNano())
		case ipc.KindResult:
			sp.mu.Lock()
			sp.state = StateDone
			sp.mu.Unlock()
			if f.Failed {
				sp.publish(Result{Err: &errs.Error{
					Kind: errs.Kind(f.ErrKind), Message: f.ErrMessage,
					PID: f.ErrPID, LoopIndex: f.ErrLoopIdx, Stack: f.ErrStack,
				}})
			} else {
				v, err := wire.Decode(f.ResultPayload)
				if err != nil {
					sp.publish(Result{Err: errs.Wrap(errs.DecodingFailed, err)})
				} else {
					sp.publish(Result{Value: v})
				}
			}
			return
		}
	}
}

func (sp *Skprocess) finishWithCrash(cause error) {
	sp.mu.Lock()
	sp.state = StateCrashed
	sp.mu.Unlock()
	sp.publish(Result{Err: errs.Wrap(errs.ChildExited, cause).WithPID(sp.PID())})
}

func (sp *Skprocess) publish(r Result) {
	if sp.resultSet.CompareAndSwap(false, true) {
		sp.result <- r
	}
}

// Join blocks until the child's result is available (published normally,
// or synthesized after a crash/kill), or ctx is canceled.
func (sp *Skprocess) Join(ctx context.Context) (any, error) {
	select {
	case r := <-sp.result:
		sp.result <- r // allow repeated Join calls to observe the same result
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop requests rejoin semantics: the child finishes its current loop
// iteration naturally, then exits.
func (sp *Skprocess) Stop() error {
	sp.mu.Lock()
	conn := sp.conn
	sp.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("process: %s not started", sp.Name)
	}
	return ipc.WriteFrame(conn, &ipc.Frame{Kind: ipc.KindStop})
}

// Kill force-terminates the child immediately and, regardless of how the
// child exits, drains/closes the IPC connection to avoid leaking it.
func (sp *Skprocess) Kill() error {
	sp.stopOnce.Do(func() { close(sp.stopCh) })
	sp.mu.Lock()
	cmd := sp.cmd
	conn := sp.conn
	sp.state = StateStopped
	sp.mu.Unlock()

	var killErr error
	if cmd != nil && cmd.Process != nil {
		killErr = cmd.Process.Kill()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return killErr
}

// Run implements pool.Runner: it starts a child, drives the
// spawn-crash-restart cycle up to Config.MaxRestarts times, and returns
// the final outcome. A Skprocess submitted via pool.SubmitProcess runs
// its entire supervised lifecycle inside one worker goroutine.
func (sp *Skprocess) Run(ctx context.Context) (any, error) {
	for {
		sp.resultSet.Store(false)
		sp.result = make(chan Result, 1)
		if err := sp.start(ctx); err != nil {
			return nil, err
		}

		select {
		case <-sp.doneCh:
		case <-ctx.Done():
			_ = sp.Kill()
			return nil, ctx.Err()
		}

		v, err := sp.Join(ctx)
		if err == nil {
			return v, nil
		}
		if !sp.Config.CrashRestart {
			return nil, err
		}

		sp.mu.Lock()
		sp.restartCount++
		exceeded := sp.restartCount > sp.Config.MaxRestarts
		sp.mu.Unlock()
		if exceeded {
			wrapped := errs.Wrap(errs.RestartExhausted, err).WithPID(sp.PID())
			logging.Crash(sp.log, sp.Name, sp.RestartCount(), wrapped)
			return nil, wrapped
		}
		logging.Restart(sp.log, sp.Name, sp.RestartCount(), err)
		sp.doneCh = make(chan struct{})
	}
}
