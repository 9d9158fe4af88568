package process

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates name with factory, so a re-exec'd child can look
// itself up by name after Skprocess.Run sets internal/ipc.EnvChildName
// (via ipc.ParentSetup). Call this (typically from an init function, or
// early in main before Run/Main)
// in every binary that might run this process kind.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("process: no factory registered for %q", name)
	}
	return f, nil
}
