package circuit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ceetaro/suitkaise/sharemeta"
)

// Config parameterizes both Circuit and BreakingCircuit.
type Config struct {
	// ShortsToTrip is the number of Short calls required to trip the
	// circuit. Must be positive.
	ShortsToTrip int

	// InitialSleep is the starting backoff duration. A Circuit multiplies
	// it by Backoff on its first trip; a BreakingCircuit waits it out on
	// its first Reset.
	InitialSleep time.Duration

	// MaxSleep caps the backoff duration. Must be >= InitialSleep.
	MaxSleep time.Duration

	// Backoff is the multiplier applied to the sleep duration on each trip
	// (Circuit) or reset (BreakingCircuit). Must be >= 1.
	Backoff float64

	// Jitter is a fraction in [0, 1) of the sleep duration to randomize,
	// applied symmetrically (+/- Jitter/2).
	Jitter float64
}

func (c Config) validate() error {
	if c.ShortsToTrip <= 0 {
		return fmt.Errorf("circuit: ShortsToTrip must be positive, got %d", c.ShortsToTrip)
	}
	if c.InitialSleep < 0 || c.MaxSleep < c.InitialSleep {
		return fmt.Errorf("circuit: invalid sleep bounds [%s, %s]", c.InitialSleep, c.MaxSleep)
	}
	if c.Backoff < 1 {
		return fmt.Errorf("circuit: Backoff must be >= 1, got %v", c.Backoff)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("circuit: Jitter must be in [0, 1), got %v", c.Jitter)
	}
	return nil
}

// Circuit auto-resets: once a trip occurs, the short counter resets to
// zero and subsequent Short calls accumulate toward the next trip.
type Circuit struct {
	mu    sync.RWMutex
	cfg   Config
	short int
	trips int64
	sleep time.Duration
}

// New constructs a Circuit. Panics if cfg is invalid.
func New(cfg Config) *Circuit {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return &Circuit{cfg: cfg, sleep: cfg.InitialSleep}
}

// Short increments the short counter. When the threshold is reached, the
// counter resets, the trip counter increments, the backoff sleep duration
// grows (min(sleep*backoff, max)), and the caller sleeps for that duration
// (honoring ctx cancellation) before returning. Returns true iff this call
// tripped the circuit.
func (c *Circuit) Short(ctx context.Context) bool {
	tripped, sleepDur := c.shortLocked()
	if tripped && sleepDur > 0 {
		sleepCtx(ctx, sleepDur, c.cfg.Jitter)
	}
	return tripped
}

// ShortAsync performs the same state mutation as Short, but never blocks
// the calling goroutine: if the call trips the circuit, the returned
// channel closes once the backoff duration (or ctx cancellation) elapses.
// A nil channel is returned if the call did not trip the circuit.
func (c *Circuit) ShortAsync(ctx context.Context) (tripped bool, wait <-chan struct{}) {
	tripped, sleepDur := c.shortLocked()
	if tripped && sleepDur > 0 {
		wait = sleepAsync(ctx, sleepDur, c.cfg.Jitter)
	}
	return tripped, wait
}

func (c *Circuit) shortLocked() (tripped bool, sleepDur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.short++
	if c.short >= c.cfg.ShortsToTrip {
		c.short = 0
		c.trips++
		c.sleep = nextSleep(c.sleep, c.cfg)
		tripped = true
		sleepDur = c.sleep
	}
	return tripped, sleepDur
}

// Trip forces the same effect as a threshold-reaching Short, ignoring the
// current counter value.
func (c *Circuit) Trip(ctx context.Context) {
	sleepDur := c.tripLocked()
	if sleepDur > 0 {
		sleepCtx(ctx, sleepDur, c.cfg.Jitter)
	}
}

// TripAsync is the non-blocking counterpart of Trip.
func (c *Circuit) TripAsync(ctx context.Context) (wait <-chan struct{}) {
	sleepDur := c.tripLocked()
	if sleepDur > 0 {
		wait = sleepAsync(ctx, sleepDur, c.cfg.Jitter)
	}
	return wait
}

func (c *Circuit) tripLocked() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.short = 0
	c.trips++
	c.sleep = nextSleep(c.sleep, c.cfg)
	return c.sleep
}

// TotalTrips returns the lifetime number of trips.
func (c *Circuit) TotalTrips() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trips
}

// CurrentSleep returns the currently configured backoff sleep duration.
func (c *Circuit) CurrentSleep() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sleep
}

// ShareDisallowed implements sharemeta.Disallower: Circuit performs a
// blocking sleep while holding trip state, which cannot be meaningfully
// replayed inside a coordinator process serving many clients. Only
// BreakingCircuit, whose sleep is client-side only, may be shared.
func (c *Circuit) ShareDisallowed() (string, bool) {
	return "circuit.Circuit sleeps on the caller's behalf and cannot be safely proxied through a coordinator; use circuit.BreakingCircuit", true
}

// BreakingCircuit latches into a broken state on trip, rather than
// auto-resetting. The backoff sleep is applied when Reset is called
// (rather than when the circuit trips), since breaking never sleeps on
// its own — it simply blocks until explicitly reset.
type BreakingCircuit struct {
	mu     sync.RWMutex
	cfg    Config
	short  int
	trips  int64
	sleep  time.Duration
	broken bool
}

// NewBreaking constructs a BreakingCircuit. Panics if cfg is invalid.
func NewBreaking(cfg Config) *BreakingCircuit {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return &BreakingCircuit{cfg: cfg, sleep: cfg.InitialSleep}
}

// Short increments the short counter, latching Broken to true once the
// threshold is reached. Unlike Circuit, this never sleeps.
func (c *BreakingCircuit) Short() (tripped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.short++
	if c.short >= c.cfg.ShortsToTrip {
		c.short = 0
		c.trips++
		c.broken = true
		tripped = true
	}
	return tripped
}

// ShortNoSleep is an alias of Short, retained as the target of
// share_method_aliases: it has always been sleep-free, so the coordinator
// invokes it directly.
func (c *BreakingCircuit) ShortNoSleep() bool { return c.Short() }

// Trip forces the circuit into the broken state, ignoring the counter.
func (c *BreakingCircuit) Trip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.short = 0
	c.trips++
	c.broken = true
}

// TripNoSleep aliases Trip for coordinator dispatch.
func (c *BreakingCircuit) TripNoSleep() { c.Trip() }

// Broken reports whether the circuit is currently latched.
func (c *BreakingCircuit) Broken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broken
}

// TotalTrips returns the lifetime number of trips.
func (c *BreakingCircuit) TotalTrips() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trips
}

// CurrentSleep returns the currently configured backoff sleep duration.
func (c *BreakingCircuit) CurrentSleep() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sleep
}

// Reset clears the broken flag. The backoff sleep duration is grown here
// (not on trip), and the caller sleeps for the pre-growth duration before
// the circuit is unlatched, enforcing a cool-down period proportional to
// how many times the circuit has tripped. A no-op, returning immediately,
// if the circuit isn't currently broken.
func (c *BreakingCircuit) Reset(ctx context.Context) {
	sleepDur := c.resetLocked()
	if sleepDur > 0 {
		sleepCtx(ctx, sleepDur, c.cfg.Jitter)
	}
	c.mu.Lock()
	c.broken = false
	c.mu.Unlock()
}

// ResetAsync is the non-blocking counterpart of Reset; the returned
// channel closes once the cool-down elapses and broken is cleared. A nil
// channel is returned, with broken already cleared, when there is no
// cool-down to wait out.
func (c *BreakingCircuit) ResetAsync(ctx context.Context) (wait <-chan struct{}) {
	sleepDur := c.resetLocked()
	if sleepDur == 0 {
		c.mu.Lock()
		c.broken = false
		c.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sleepCtx(ctx, sleepDur, c.cfg.Jitter)
		c.mu.Lock()
		c.broken = false
		c.mu.Unlock()
	}()
	return done
}

// ResetNoSleep clears the broken flag immediately, without applying or
// waiting out the backoff cool-down. This is the share_method_aliases
// target invoked by the coordinator, which must not block on behalf of one
// client while serving others; the backoff bookkeeping still advances.
func (c *BreakingCircuit) ResetNoSleep() {
	c.resetLocked()
	c.mu.Lock()
	c.broken = false
	c.mu.Unlock()
}

func (c *BreakingCircuit) resetLocked() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.broken {
		return 0
	}
	sleepDur := c.sleep
	c.sleep = nextSleep(c.sleep, c.cfg)
	return sleepDur
}

// ShareMetadata implements sharemeta.Shareable.
func (c *BreakingCircuit) ShareMetadata() sharemeta.ClassMetadata {
	return sharemeta.ClassMetadata{
		Reads: []string{"Broken", "TotalTrips", "CurrentSleep"},
		Writes: map[string][]string{
			"Short": nil,
			"Trip":  nil,
			"Reset": nil,
		},
		Aliases: map[string]string{
			"Short": "ShortNoSleep",
			"Trip":  "TripNoSleep",
			"Reset": "ResetNoSleep",
		},
	}
}

func nextSleep(current time.Duration, cfg Config) time.Duration {
	if current <= 0 {
		return cfg.InitialSleep
	}
	next := time.Duration(float64(current) * cfg.Backoff)
	if next > cfg.MaxSleep {
		next = cfg.MaxSleep
	}
	return next
}

// sleepCtx blocks for d (with jitter applied), returning early if ctx is
// canceled.
func sleepCtx(ctx context.Context, d time.Duration, jitter float64) {
	d = withJitter(d, jitter)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// sleepAsync is the non-blocking equivalent of sleepCtx: it returns
// immediately with a channel that closes once the (jittered) duration
// elapses or ctx is canceled.
func sleepAsync(ctx context.Context, d time.Duration, jitter float64) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sleepCtx(ctx, d, jitter)
	}()
	return done
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * jitter
	offset := (rand.Float64() - 0.5) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
