package process

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/ceetaro/suitkaise/internal/ipc"
	"github.com/ceetaro/suitkaise/internal/logging"
)

// Main is the re-exec entrypoint: every binary that Spawns a Skprocess
// must call Main (or check IsChild itself) before running its normal
// startup logic. If the current process was re-exec'd as a process
// child, Main never returns — it runs the 5-phase loop to completion
// and exits the OS process. Otherwise it returns immediately so the
// caller's ordinary main() continues, exactly like the parent side of
// any fork-on-demand tool (the host binary IS both the supervisor and
// every child it ever spawns).
func Main() {
	name, ok := ipc.IsChild()
	if !ok {
		return
	}

	conn, err := ipc.ChildConn()
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: child startup: %v\n", err)
		os.Exit(1)
	}

	first, err := ipc.ReadFrame(conn)
	if err != nil || first.Kind != ipc.KindConfig {
		fmt.Fprintf(os.Stderr, "process: child startup: expected config frame: %v\n", err)
		os.Exit(1)
	}
	var cfg PConfig
	if err := gob.NewDecoder(bytes.NewReader(first.ConfigPayload)).Decode(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "process: child startup: decoding config: %v\n", err)
		os.Exit(1)
	}

	factory, err := lookup(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: child startup: %v\n", err)
		os.Exit(1)
	}

	lc := factory()
	log := logging.Default

	runChild(context.Background(), conn, name, cfg, lc, log)
	os.Exit(0)
}
