// Package logging wires the runtime's structured operational events
// (phase_start, phase_end, restart, crash, pool_worker_exit, heartbeat)
// through logiface, backed by zerolog. No package outside this one reaches
// for fmt.Println or the stdlib log package for operational output.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event and Logger alias the concrete logiface instantiation this package
// standardizes on, so callers never need to name the type parameter.
type (
	Event  = izerolog.Event
	Logger = logiface.Logger[*Event]
)

// New builds a Logger writing NDJSON to w at the given level. A nil w
// defaults to os.Stderr.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*Event](level),
	)
}

// Default is a package-level Logger at informational level, used by
// components that accept no explicit Logger (tests, examples).
var Default = New(os.Stderr, logiface.LevelInformational)

// PhaseStart logs entry into one of a process's five lifecycle phases.
func PhaseStart(l *Logger, process, phase string, loopIndex int) {
	l.Info().
		Str("event", "phase_start").
		Str("process", process).
		Str("phase", phase).
		Int("loop_index", loopIndex).
		Log("phase started")
}

// PhaseEnd logs completion (success or failure) of a lifecycle phase.
func PhaseEnd(l *Logger, process, phase string, loopIndex int, dur time.Duration, err error) {
	var b *logiface.Builder[*Event]
	if err != nil {
		b = l.Err().Err(err)
	} else {
		b = l.Info()
	}
	b.Str("event", "phase_end").
		Str("process", process).
		Str("phase", phase).
		Int("loop_index", loopIndex).
		Field("duration", dur).
		Log("phase ended")
}

// Restart logs a child process being respawned after a crash.
func Restart(l *Logger, process string, restartCount int, cause error) {
	l.Warning().
		Str("event", "restart").
		Str("process", process).
		Int("restart_count", restartCount).
		Err(cause).
		Log("process restarted")
}

// Crash logs a child process exhausting its restart budget.
func Crash(l *Logger, process string, restartCount int, cause error) {
	l.Err().
		Err(cause).
		Str("event", "crash").
		Str("process", process).
		Int("restart_count", restartCount).
		Log("process crashed")
}

// PoolWorkerExit logs a pool worker goroutine terminating.
func PoolWorkerExit(l *Logger, worker int, tasksHandled int, err error) {
	b := l.Info().
		Str("event", "pool_worker_exit").
		Int("worker", worker).
		Int("tasks_handled", tasksHandled)
	if err != nil {
		b = b.Err(err)
	}
	b.Log("worker exited")
}

// Heartbeat logs a child process's periodic liveness signal.
func Heartbeat(l *Logger, process string, loopIndex int) {
	l.Debug().
		Str("event", "heartbeat").
		Str("process", process).
		Int("loop_index", loopIndex).
		Log("heartbeat")
}
