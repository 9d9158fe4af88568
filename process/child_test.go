package process

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/internal/ipc"
	"github.com/ceetaro/suitkaise/internal/logging"
	"github.com/ceetaro/suitkaise/wire"
)

func testLog() *logging.Logger { return logging.Default }

// countingLC runs its Loop exactly NumLoops times (via PConfig.NumLoops)
// and reports how many times each phase ran.
type countingLC struct {
	preloops, loops, postloops, finishes int
	result                               int
}

func (c *countingLC) Preloop(ctx context.Context) error { c.preloops++; return nil }
func (c *countingLC) Loop(ctx context.Context) error     { c.loops++; return nil }
func (c *countingLC) Postloop(ctx context.Context) error { c.postloops++; return nil }
func (c *countingLC) Onfinish(ctx context.Context)       { c.finishes++ }
func (c *countingLC) Result() (any, error)               { return c.loops, nil }

func readUntil(t *testing.T, conn net.Conn, kind ipc.Kind) *ipc.Frame {
	t.Helper()
	for {
		f, err := ipc.ReadFrame(conn)
		if err != nil {
			t.Fatalf("readUntil(%s): %v", kind, err)
		}
		if f.Kind == kind {
			return f
		}
	}
}

func two(n int) *int { return &n }

func TestRunChild_NumLoopsAndResult(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &countingLC{}
	cfg := PConfig{NumLoops: two(3)}

	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "counter", cfg, lc, testLog())
		close(done)
	}()

	f := readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.preloops != 3 || lc.loops != 3 || lc.postloops != 3 || lc.finishes != 1 {
		t.Fatalf("unexpected phase counts: %+v", lc)
	}
	if f.Failed {
		t.Fatalf("expected success result, got failure: %s", f.ErrMessage)
	}
	v, err := wire.Decode(f.ResultPayload)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected result 3, got %v", v)
	}
}

// rejoiningLC calls Rejoin from Loop on its first iteration.
type rejoiningLC struct {
	loops, postloops int
}

func (r *rejoiningLC) Loop(ctx context.Context) error {
	r.loops++
	Rejoin()
	return nil
}
func (r *rejoiningLC) Postloop(ctx context.Context) error { r.postloops++; return nil }

func TestRunChild_Rejoin_StopsAfterCurrentIterationButRunsPostloop(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &rejoiningLC{}
	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "rejoiner", PConfig{}, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.loops != 1 || lc.postloops != 1 {
		t.Fatalf("expected exactly one loop+postloop pass, got %+v", lc)
	}
}

// skippingLC calls SkipAndRejoin from Loop, which must skip Postloop.
type skippingLC struct {
	loops, postloops, finishes int
}

func (s *skippingLC) Loop(ctx context.Context) error {
	s.loops++
	SkipAndRejoin()
	return nil
}
func (s *skippingLC) Postloop(ctx context.Context) error { s.postloops++; return nil }
func (s *skippingLC) Onfinish(ctx context.Context)       { s.finishes++ }

func TestRunChild_SkipAndRejoin_SkipsPostloop(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &skippingLC{}
	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "skipper", PConfig{}, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.loops != 1 || lc.postloops != 0 || lc.finishes != 1 {
		t.Fatalf("expected postloop skipped but onfinish still run, got %+v", lc)
	}
}

// killingLC calls Instakill from Loop: no Onfinish, no Result, ever.
type killingLC struct {
	finishes int
}

func (k *killingLC) Loop(ctx context.Context) error { Instakill(); return nil }
func (k *killingLC) Onfinish(ctx context.Context)   { k.finishes++ }

func TestRunChild_Instakill_NoResultNoOnfinish(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &killingLC{}
	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "killer", PConfig{}, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindRunning)
	<-done

	if lc.finishes != 0 {
		t.Fatalf("expected Onfinish never called, got %d calls", lc.finishes)
	}

	parent.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := ipc.ReadFrame(parent); err == nil {
		t.Fatal("expected no further frames after Instakill")
	}
}

// failingLC fails preloop unconditionally.
type failingLC struct{}

func (failingLC) Preloop(ctx context.Context) error { return errs.New(errs.PreloopFailure, "boom") }

func TestRunChild_PreloopFailure_ReportsStructuredError(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "failer", PConfig{}, failingLC{}, testLog())
		close(done)
	}()

	f := readUntil(t, parent, ipc.KindResult)
	<-done

	if !f.Failed || f.ErrKind != string(errs.PreloopFailure) {
		t.Fatalf("expected preloop_failure, got %+v", f)
	}
}

// slowLoopLC blocks past its phase timeout without respecting ctx.
type slowLoopLC struct{}

func (slowLoopLC) Loop(ctx context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRunChild_LoopTimeout(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	cfg := PConfig{LoopTimeout: 20 * time.Millisecond}
	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "slow", cfg, slowLoopLC{}, testLog())
		close(done)
	}()

	f := readUntil(t, parent, ipc.KindResult)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runChild did not return after timeout")
	}

	if !f.Failed || f.ErrKind != string(errs.LoopTimeout) {
		t.Fatalf("expected loop_timeout, got %+v", f)
	}
}

// blockingLoopLC blocks on its own channel until told to stop, so the
// test can land a KindStop frame mid-iteration.
type blockingLoopLC struct {
	unblock chan struct{}
	loops   int
}

func (b *blockingLoopLC) Loop(ctx context.Context) error {
	b.loops++
	<-b.unblock
	return nil
}

func TestRunChild_KindStop_StopsAfterCurrentIteration(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &blockingLoopLC{unblock: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "blocker", PConfig{}, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindRunning)
	if err := ipc.WriteFrame(parent, &ipc.Frame{Kind: ipc.KindStop}); err != nil {
		t.Fatalf("writing stop frame: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // give watchControlFrames a moment to observe it
	close(lc.unblock)

	readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.loops != 1 {
		t.Fatalf("expected exactly one loop iteration before stopping, got %d", lc.loops)
	}
}

// zeroDeadlineLC records whether Preloop, Loop, and Postloop ran.
type zeroDeadlineLC struct {
	preloops, loops, postloops, finishes int
}

func (z *zeroDeadlineLC) Preloop(ctx context.Context) error { z.preloops++; return nil }
func (z *zeroDeadlineLC) Loop(ctx context.Context) error     { z.loops++; return nil }
func (z *zeroDeadlineLC) Postloop(ctx context.Context) error { z.postloops++; return nil }
func (z *zeroDeadlineLC) Onfinish(ctx context.Context)       { z.finishes++ }

// TestRunChild_JoinInZero_ImmediatelyRejoinsAfterFirstPreloop covers the
// boundary case: join_in_seconds = 0 is a deliberately configured, already-
// elapsed deadline, not "disabled". Preloop must still run once, but Loop
// must be skipped and Postloop/Onfinish must still run, exactly as if the
// iteration had called Rejoin.
func TestRunChild_JoinInZero_ImmediatelyRejoinsAfterFirstPreloop(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	zero := time.Duration(0)
	lc := &zeroDeadlineLC{}
	cfg := PConfig{JoinIn: &zero}

	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "zerodeadline", cfg, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.preloops != 1 || lc.loops != 0 || lc.postloops != 1 || lc.finishes != 1 {
		t.Fatalf("expected preloop+postloop once and loop skipped, got %+v", lc)
	}
}

// TestRunChild_JoinAfterLoopsZero_NoPhaseRuns mirrors the num_loops = 0
// boundary: a loop-count ceiling of zero stops the loop before the first
// iteration even starts, but Onfinish still runs.
func TestRunChild_JoinAfterLoopsZero_NoPhaseRuns(t *testing.T) {
	parent, child := net.Pipe()
	defer parent.Close()

	lc := &zeroDeadlineLC{}
	cfg := PConfig{JoinAfterLoops: two(0)}

	done := make(chan struct{})
	go func() {
		runChild(context.Background(), child, "zeroceiling", cfg, lc, testLog())
		close(done)
	}()

	readUntil(t, parent, ipc.KindResult)
	<-done

	if lc.preloops != 0 || lc.loops != 0 || lc.postloops != 0 || lc.finishes != 1 {
		t.Fatalf("expected no phases to run, got %+v", lc)
	}
}
