// Package subprocess implements the bounded-nesting sub-process manager
// (spec §4.8): a scoped context that lets a process's __loop__ spawn
// children as full lifecycles, while capping how deep that nesting can
// go and joining every child it spawned by the time the scope ends.
package subprocess

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/process"
)

type ctxKeyDepth struct{}

// DefaultMaxDepth matches spec §9's resolution of the nesting-depth Open
// Question: two levels (a root process, plus one level of sub-processes)
// unless a caller explicitly configures a different MaxDepth.
const DefaultMaxDepth = 2

// SubProcessing is a scoped nesting level: every Skprocess spawned
// through it is tracked and joined when Close returns. A SubProcessing
// itself may be nested again via Enter, up to MaxDepth total levels.
type SubProcessing struct {
	ctx      context.Context
	maxDepth int
	depth    int

	mu    sync.Mutex
	procs []*process.Skprocess
	wg    sync.WaitGroup
}

// Enter opens a sub-process scope nested under ctx. maxDepth <= 0 uses
// DefaultMaxDepth. Returns a nesting_limit_exceeded error if ctx already
// carries a SubProcessing depth at or beyond maxDepth — i.e. a depth-2
// scope calling Enter again would be attempting depth-3, which is
// refused outright rather than silently capped.
func Enter(ctx context.Context, maxDepth int) (*SubProcessing, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	depth, _ := ctx.Value(ctxKeyDepth{}).(int)
	if depth >= maxDepth {
		return nil, errs.New(errs.NestingLimitExceeded,
			fmt.Sprintf("sub-process nesting depth %d exceeds limit %d", depth+1, maxDepth))
	}
	next := depth + 1
	return &SubProcessing{
		ctx:      context.WithValue(ctx, ctxKeyDepth{}, next),
		maxDepth: maxDepth,
		depth:    next,
	}, nil
}

// Depth returns this scope's nesting level (a root process that has
// never called Enter is depth 0; its first SubProcessing scope is 1).
func (s *SubProcessing) Depth() int { return s.depth }

// Spawn starts a fresh Skprocess as a child of this scope and tracks it
// for Close. factory must have been registered with process.Register in
// every binary that might run it. Spawn does not block; use the
// returned Skprocess's Join to read its result once Close has returned
// (or at any point — Join itself blocks until the child finishes).
func (s *SubProcessing) Spawn(name, factory string, cfg process.PConfig) *process.Skprocess {
	sp := process.New(name, factory, cfg)

	s.mu.Lock()
	s.procs = append(s.procs, sp)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = sp.Run(s.ctx)
	}()
	return sp
}

// Spawned returns every Skprocess spawned through this scope so far, in
// spawn order, for a caller that wants to read each sub-result
// explicitly rather than holding onto Spawn's return value.
func (s *SubProcessing) Spawned() []*process.Skprocess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Skprocess, len(s.procs))
	copy(out, s.procs)
	return out
}

// Close blocks until every sub-process spawned through this scope has
// finished. One sub-process failing never fails the scope itself —
// Close only waits; callers read each result via Spawned()/Join.
func (s *SubProcessing) Close() {
	s.wg.Wait()
}
