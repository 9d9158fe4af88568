package process

import "context"

// The Lifecycle phase interfaces below are each optional — a user process
// type implements whichever it needs, the same way a Python subclass
// overrides only the lifecycle methods it cares about. The child runner
// checks for each via a type assertion (the same pattern as io.Closer vs.
// http.Flusher: presence, not a big interface every type must satisfy in
// full) and simply skips phases the value doesn't implement.
type (
	// Preloopper runs once at the start of every loop iteration, before
	// Looper.
	Preloopper interface {
		Preloop(ctx context.Context) error
	}

	// Looper is the main body of a loop iteration.
	Looper interface {
		Loop(ctx context.Context) error
	}

	// Postloopper runs once at the end of every loop iteration that
	// reached it (skipped by SkipAndRejoin).
	Postloopper interface {
		Postloop(ctx context.Context) error
	}

	// Onfinisher runs exactly once after the loop ends, unless Instakill
	// was called.
	Onfinisher interface {
		Onfinish(ctx context.Context)
	}

	// Resulter produces the value published to the parent's result slot.
	// A Lifecycle without Resulter publishes nil.
	Resulter interface {
		Result() (any, error)
	}

	// NumLoopsProvider lets a Lifecycle supply its own loop bound instead
	// of (or overriding) PConfig.NumLoops.
	NumLoopsProvider interface {
		NumLoops() *int
	}
)

// Factory constructs a fresh Lifecycle instance. Registered by name (see
// Register) so a re-exec'd child — which starts with empty memory, unlike
// a forked process — can build its own instance after looking itself up.
type Factory func() any
