package process

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// preset is the wire shape of one named PConfig preset in presets.yaml;
// durations are expressed in seconds there since YAML has no native
// time.Duration.
type preset struct {
	PreloopTimeoutSeconds    float64 `yaml:"preloop_timeout_seconds"`
	LoopTimeoutSeconds       float64 `yaml:"loop_timeout_seconds"`
	PostloopTimeoutSeconds   float64 `yaml:"postloop_timeout_seconds"`
	StartupTimeoutSeconds    float64 `yaml:"startup_timeout_seconds"`
	ShutdownTimeoutSeconds   float64 `yaml:"shutdown_timeout_seconds"`
	HeartbeatIntervalSeconds float64 `yaml:"heartbeat_interval_seconds"`
	CrashRestart             bool    `yaml:"crash_restart"`
	MaxRestarts              int     `yaml:"max_restarts"`
}

// PConfig parameterizes one process's lifecycle: phase timeouts, restart
// policy, and heartbeat cadence. Zero-value fields disable the
// corresponding behavior (no timeout, no restart, no heartbeat).
type PConfig struct {
	// NumLoops bounds the number of __loop__ iterations; nil means
	// unbounded (loop until stopped or an error ends it).
	NumLoops *int

	PreloopTimeout  time.Duration
	LoopTimeout     time.Duration
	PostloopTimeout time.Duration
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	// HeartbeatInterval drives a ticker goroutine in the child that emits
	// heartbeat events and updates a last-seen timestamp the parent can
	// poll via Skprocess.IsAlive. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// CrashRestart, if true, causes the parent to spawn a fresh child
	// (new PID, empty memory) after any non-sentinel phase error, up to
	// MaxRestarts attempts.
	CrashRestart bool
	MaxRestarts  int

	// JoinIn, if non-nil, is a hard wall-clock deadline (from process
	// start) after which the loop stops, independent of NumLoops and
	// JoinAfterLoops. A zero duration is a deliberately configured
	// deadline, not "unset": it still lets the first preloop run once
	// (its entry happens), but that iteration immediately behaves as
	// though it had called Rejoin, rather than letting the loop run
	// unbounded. Use nil (the zero value of the pointer) for "no
	// wall-clock deadline".
	JoinIn *time.Duration

	// JoinAfterLoops, if non-nil, is a loop-iteration ceiling configured
	// independently of NumLoops: the loop stops once loopCounter reaches
	// it, the same way NumLoops does, but as a PConfig-level knob rather
	// than a property of the Lifecycle itself. Whichever ceiling (this
	// or NumLoops) is reached first wins.
	JoinAfterLoops *int
}

func presetFromYAML(name string) (PConfig, error) {
	var all map[string]preset
	if err := yaml.Unmarshal(presetsYAML, &all); err != nil {
		return PConfig{}, fmt.Errorf("process: parsing presets.yaml: %w", err)
	}
	p, ok := all[name]
	if !ok {
		return PConfig{}, fmt.Errorf("process: no such preset %q", name)
	}
	return PConfig{
		PreloopTimeout:    seconds(p.PreloopTimeoutSeconds),
		LoopTimeout:       seconds(p.LoopTimeoutSeconds),
		PostloopTimeout:   seconds(p.PostloopTimeoutSeconds),
		StartupTimeout:    seconds(p.StartupTimeoutSeconds),
		ShutdownTimeout:   seconds(p.ShutdownTimeoutSeconds),
		HeartbeatInterval: seconds(p.HeartbeatIntervalSeconds),
		CrashRestart:      p.CrashRestart,
		MaxRestarts:       p.MaxRestarts,
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// QuickConfig returns the "quick" preset: short timeouts, suited to tests
// and fast-iterating development processes.
func QuickConfig() PConfig { return must(presetFromYAML("quick")) }

// LongConfig returns the "long" preset: generous timeouts, suited to
// genuinely long-running batch or service processes.
func LongConfig() PConfig { return must(presetFromYAML("long")) }

// DisabledTimeoutsConfig returns the "disabled_timeouts" preset: every
// timeout and restart policy is switched off, useful under a debugger.
func DisabledTimeoutsConfig() PConfig { return must(presetFromYAML("disabled_timeouts")) }

func must(cfg PConfig, err error) PConfig {
	if err != nil {
		panic(err)
	}
	return cfg
}
