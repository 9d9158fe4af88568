package process

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/internal/ipc"
	"github.com/ceetaro/suitkaise/internal/logging"
	"github.com/ceetaro/suitkaise/sktimer"
	"github.com/ceetaro/suitkaise/wire"
)

// phaseOutcome is what one full preloop/loop/postloop pass resolved to:
// either a plain error (any non-sentinel phase failure), a recognized
// flow-control signal, or neither (normal completion of the iteration).
type phaseOutcome struct {
	err    error
	signal controlSignal
}

// runChild drives the 5-phase loop against lc, reporting progress and the
// final outcome over conn. This is what a re-exec'd process child actually
// runs (see Main); it is also exercised directly by tests against an
// in-memory net.Pipe, without needing a real OS subprocess.
//
// Go has no analogue of forcibly interrupting a phase mid-execution from
// within the same process (no OS-signal-based preemption of a blocked
// goroutine): callPhase runs each phase in its own goroutine and, when the
// phase's timeout passes first, stops waiting and reports the timeout
// error. A phase that ignores ctx is not stopped; its goroutine is left
// running.
func runChild(ctx context.Context, conn net.Conn, name string, cfg PConfig, lc any, log *logging.Logger) {
	timer := sktimer.New()
	start := time.Now()
	loopCounter := 0
	numLoops := cfg.NumLoops
	if nlp, ok := lc.(NumLoopsProvider); ok {
		if n := nlp.NumLoops(); n != nil {
			numLoops = n
		}
	}

	stopHeartbeat := make(chan struct{})
	if cfg.HeartbeatInterval > 0 {
		go heartbeatLoop(stopHeartbeat, conn, cfg.HeartbeatInterval, log, name, &loopCounter)
	}
	defer close(stopHeartbeat)

	// The parent can send KindStop (rejoin semantics) or KindKill
	// (instakill semantics) at any point after the initial KindConfig
	// frame, so a second goroutine keeps reading conn concurrently with
	// the phase loop below. KindKill exits the OS process outright, since
	// nothing past this point (Onfinish, Result) is allowed to run; a
	// cooperative flag is enough for KindStop since the loop already
	// checks for reasons to stop at the top of every iteration.
	var stopRequested atomic.Bool
	go watchControlFrames(conn, &stopRequested)

	reportedRunning := false
	var finalErr *errs.Error
	killed := false

loop:
	for {
		if stopRequested.Load() {
			break
		}
		if numLoops != nil && loopCounter >= *numLoops {
			break
		}
		if cfg.JoinAfterLoops != nil && loopCounter >= *cfg.JoinAfterLoops {
			break
		}

		// join_in_seconds = 0 is a valid, explicit deadline, not
		// "disabled": the first phase's entry still happens, but this
		// iteration is forced to behave as though it had called Rejoin
		// (finish naturally, then stop) rather than looping unbounded.
		joinInExpired := cfg.JoinIn != nil && time.Since(start) >= *cfg.JoinIn

		if !reportedRunning {
			_ = ipc.WriteFrame(conn, &ipc.Frame{Kind: ipc.KindRunning, LoopIndex: loopCounter})
			reportedRunning = true
		}

		outcome := runOnePhaseSet(ctx, lc, cfg, timer, log, name, loopCounter, joinInExpired)
		if outcome.err != nil {
			finalErr = toProcessError(outcome.err, os.Getpid(), loopCounter)
			break
		}
		switch outcome.signal {
		case signalInstakill:
			killed = true
			break loop
		case signalRejoin:
			loopCounter++
			break loop
		case signalSkipAndRejoin:
			break loop
		}
		loopCounter++
	}

	if killed {
		return // no Onfinish, no Result, no reported outcome at all
	}

	if fin, ok := lc.(Onfinisher); ok {
		fin.Onfinish(ctx)
	}

	if finalErr != nil {
		_ = ipc.WriteFrame(conn, errFrame(finalErr))
		return
	}

	var resultValue any
	if r, ok := lc.(Resulter); ok {
		v, err := r.Result()
		if err != nil {
			_ = ipc.WriteFrame(conn, errFrame(toProcessError(err, os.Getpid(), loopCounter)))
			return
		}
		resultValue = v
	}

	payload, err := wire.Encode(resultValue)
	if err != nil {
		_ = ipc.WriteFrame(conn, errFrame(errs.Wrap(errs.EncodingFailed, err)))
		return
	}
	_ = ipc.WriteFrame(conn, &ipc.Frame{Kind: ipc.KindResult, LoopIndex: loopCounter, ResultPayload: payload})
}

// runOnePhaseSet runs preloop, loop, and postloop for a single iteration,
// honoring rejoin/skip_and_rejoin semantics: a Rejoin raised from preloop
// or loop still lets postloop run for this iteration before the caller
// stops; a SkipAndRejoin skips postloop entirely.
//
// startRejoined seeds rejoinPending before preloop even runs: the loop
// caller sets it when join_in_seconds has already expired, so this
// iteration runs preloop once (its entry happens, per the boundary rule)
// but the __loop__ phase is skipped and the iteration finishes as if
// Rejoin had fired, unless preloop itself raises a stronger signal
// (Instakill or SkipAndRejoin), which still takes precedence.
func runOnePhaseSet(ctx context.Context, lc any, cfg PConfig, timer *sktimer.Timer, log *logging.Logger, name string, loopIndex int, startRejoined bool) phaseOutcome {
	rejoinPending := startRejoined

	sig, err := callPhase(ctx, "preloop", cfg.PreloopTimeout, timer, log, name, loopIndex,
		func(pctx context.Context) error {
			if p, ok := lc.(Preloopper); ok {
				return p.Preloop(pctx)
			}
			return nil
		}, errs.PreloopFailure, errs.PreloopTimeout)
	if err != nil {
		return phaseOutcome{err: err}
	}
	switch sig {
	case signalInstakill, signalSkipAndRejoin:
		return phaseOutcome{signal: sig}
	case signalRejoin:
		rejoinPending = true
	}

	if !rejoinPending {
		sig, err = callPhase(ctx, "loop", cfg.LoopTimeout, timer, log, name, loopIndex,
			func(pctx context.Context) error {
				if l, ok := lc.(Looper); ok {
					return l.Loop(pctx)
				}
				return nil
			}, errs.LoopFailure, errs.LoopTimeout)
		if err != nil {
			return phaseOutcome{err: err}
		}
		switch sig {
		case signalInstakill, signalSkipAndRejoin:
			return phaseOutcome{signal: sig}
		case signalRejoin:
			rejoinPending = true
		}
	}

	sig, err = callPhase(ctx, "postloop", cfg.PostloopTimeout, timer, log, name, loopIndex,
		func(pctx context.Context) error {
			if p, ok := lc.(Postloopper); ok {
				return p.Postloop(pctx)
			}
			return nil
		}, errs.PostloopFailure, errs.PostloopTimeout)
	if err != nil {
		return phaseOutcome{err: err}
	}
	if sig == signalInstakill {
		return phaseOutcome{signal: sig}
	}
	if sig != 0 {
		// Rejoin or SkipAndRejoin raised from inside postloop itself: the
		// phase is already finishing either way, so both collapse to
		// "stop after this iteration".
		rejoinPending = true
	}

	if rejoinPending {
		return phaseOutcome{signal: signalRejoin}
	}
	return phaseOutcome{}
}

// callPhase runs fn under a per-phase timeout (returning the timeout error
// at the deadline whether or not fn has returned), timing it with
// timer per the partial-timing rule (a failed or aborted phase discards
// its in-flight sample; only a normal or Rejoin completion commits one).
func callPhase(
	ctx context.Context,
	phaseName string,
	timeout time.Duration,
	timer *sktimer.Timer,
	log *logging.Logger,
	procName string,
	loopIndex int,
	fn func(context.Context) error,
	failureKind, timeoutKind errs.Kind,
) (controlSignal, error) {
	logging.PhaseStart(log, procName, phaseName, loopIndex)

	phaseCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		sig controlSignal
		err error
	}
	done := make(chan result, 1)
	started := time.Now()
	timer.Start()

	go func() {
		var r result
		func() {
			defer func() { r.sig = recoverControl() }()
			r.err = fn(phaseCtx)
		}()
		done <- r
	}()

	select {
	case r := <-done:
		dur := time.Since(started)
		if r.err != nil {
			timer.Discard()
			logging.PhaseEnd(log, procName, phaseName, loopIndex, dur, r.err)
			return 0, errs.Wrap(failureKind, r.err).WithPID(os.Getpid()).WithLoopIndex(loopIndex)
		}
		if r.sig == signalSkipAndRejoin || r.sig == signalInstakill {
			timer.Discard()
			logging.PhaseEnd(log, procName, phaseName, loopIndex, dur, nil)
			return r.sig, nil
		}
		timer.Stop()
		logging.PhaseEnd(log, procName, phaseName, loopIndex, dur, nil)
		return r.sig, nil
	case <-phaseCtx.Done():
		timer.Discard()
		dur := time.Since(started)
		logging.PhaseEnd(log, procName, phaseName, loopIndex, dur, phaseCtx.Err())
		return 0, errs.Wrap(timeoutKind, phaseCtx.Err()).WithPID(os.Getpid()).WithLoopIndex(loopIndex)
	}
}

// watchControlFrames reads frames arriving from the parent after the
// initial KindConfig and acts on the two the parent ever sends
// mid-loop: KindStop sets a flag the phase loop checks on its own
// schedule, KindKill exits the process immediately. Returns (stops
// reading) once conn is closed, which happens when the child itself
// exits or the parent tears the connection down via Skprocess.Kill.
func watchControlFrames(conn net.Conn, stopRequested *atomic.Bool) {
	for {
		f, err := ipc.ReadFrame(conn)
		if err != nil {
			return
		}
		switch f.Kind {
		case ipc.KindStop:
			stopRequested.Store(true)
		case ipc.KindKill:
			os.Exit(1)
		}
	}
}

func heartbeatLoop(stop <-chan struct{}, conn net.Conn, interval time.Duration, log *logging.Logger, name string, loopIndex *int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logging.Heartbeat(log, name, *loopIndex)
			_ = ipc.WriteFrame(conn, &ipc.Frame{Kind: ipc.KindHeartbeat, LoopIndex: *loopIndex})
		}
	}
}

// toProcessError normalizes any phase-originated error into the spec's
// structured {kind, message, pid, loop_index, traceback} shape.
func toProcessError(err error, pid, loopIndex int) *errs.Error {
	if e, ok := err.(*errs.Error); ok {
		return e.WithPID(pid).WithLoopIndex(loopIndex)
	}
	return errs.Wrap(errs.LoopFailure, err).WithPID(pid).WithLoopIndex(loopIndex)
}

func errFrame(e *errs.Error) *ipc.Frame {
	return &ipc.Frame{
		Kind:       ipc.KindResult,
		Failed:     true,
		ErrKind:    string(e.Kind),
		ErrMessage: e.Message,
		ErrPID:     e.PID,
		ErrLoopIdx: e.LoopIndex,
		ErrStack:   e.Stack,
	}
}
