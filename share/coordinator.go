package share

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/internal/shm"
	"github.com/ceetaro/suitkaise/sharemeta"
	"github.com/ceetaro/suitkaise/wire"
)

type shareRecord struct {
	attrs    map[string]any
	metadata map[string]sharemeta.ClassMetadata
}

type command struct {
	kind   Kind
	share  string
	attr   string
	method string
	value  any
	args   []any
	resp   chan commandResult
}

type commandResult struct {
	value any
	err   error
}

// Coordinator is the shared-state coordinator (C4): it owns named Share
// containers and serves commands over any number of connections, all
// funneled through a single run loop so ordering per (share, attribute) is
// free FIFO rather than something each command handler has to enforce.
type Coordinator struct {
	id string

	mu     sync.Mutex
	shares map[string]*shareRecord

	countersMu sync.Mutex
	counters   map[string]*shm.Counter

	cmdCh     chan *command
	stopCh    chan struct{}
	stopOnce  sync.Once
	destroyed bool

	wg sync.WaitGroup
}

// New returns a Coordinator identified by id, used to derive deterministic
// counter segment names.
func New(id string) *Coordinator {
	return &Coordinator{
		id:       id,
		shares:   make(map[string]*shareRecord),
		counters: make(map[string]*shm.Counter),
		cmdCh:    make(chan *command),
		stopCh:   make(chan struct{}),
	}
}

// Serve runs the coordinator's command-processing loop and accepts
// connections from listener until ctx is canceled or Stop/Destroy is
// called. It blocks until the accept loop exits.
func (c *Coordinator) Serve(ctx context.Context, listener net.Listener) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errs.New(errs.ShareStopped, "coordinator has been destroyed")
	}
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()

	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-c.stopCh:
			listener.Close()
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return nil
			default:
				return err
			}
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleConn(conn)
		}()
	}
}

func (c *Coordinator) run() {
	for {
		select {
		case cmd := <-c.cmdCh:
			result := c.process(cmd)
			if cmd.resp != nil {
				cmd.resp <- result
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		f, err := ReadFrame(conn)
		if err != nil {
			return
		}

		switch f.Kind {
		case KindPing:
			WriteFrame(conn, &Frame{ID: f.ID, Kind: kindOk})
			continue
		case KindShutdown:
			WriteFrame(conn, &Frame{ID: f.ID, Kind: kindOk})
			go c.Stop()
			return
		}

		cmd, err := c.frameToCommand(f)
		if err != nil {
			WriteFrame(conn, errFrame(f.ID, err))
			continue
		}

		if f.Kind == KindCallWrite {
			select {
			case c.cmdCh <- cmd:
			case <-c.stopCh:
				WriteFrame(conn, errFrame(f.ID, errs.New(errs.ShareStopped, "coordinator stopped")))
				continue
			}
			WriteFrame(conn, &Frame{ID: f.ID, Kind: kindOk})
			continue
		}

		cmd.resp = make(chan commandResult, 1)
		select {
		case c.cmdCh <- cmd:
		case <-c.stopCh:
			WriteFrame(conn, errFrame(f.ID, errs.New(errs.ShareStopped, "coordinator stopped")))
			continue
		}
		result := <-cmd.resp
		if result.err != nil {
			WriteFrame(conn, errFrame(f.ID, result.err))
			continue
		}
		payload, err := wire.Encode(result.value)
		if err != nil {
			WriteFrame(conn, errFrame(f.ID, err))
			continue
		}
		WriteFrame(conn, &Frame{ID: f.ID, Kind: kindOk, Payload: payload})
	}
}

func (c *Coordinator) frameToCommand(f *Frame) (*command, error) {
	cmd := &command{kind: f.Kind, share: f.Share, attr: f.Attr, method: f.Method}
	switch f.Kind {
	case KindAdd:
		var decoded any
		if len(f.Payload) > 0 {
			v, err := wire.Decode(f.Payload)
			if err != nil {
				return nil, err
			}
			decoded = v
		}
		// A built-in container is always constructed here, on the
		// coordinator side, from plain transferable initial contents —
		// never by decoding a client-built *List/*Set/*Mapping off the
		// wire, which would arrive as an inert *wire.Instance with none
		// of its Invoke behavior. This mirrors how a real manager
		// constructs a registered type inside its own process rather
		// than unpickling a client-side instance.
		switch f.Method {
		case containerMethodList:
			items, _ := decoded.([]any)
			cmd.value = &List{Items: append([]any(nil), items...)}
		case containerMethodSet:
			items, _ := decoded.([]any)
			cmd.value = NewSet(items...)
		case containerMethodMapping:
			items, _ := decoded.(map[any]any)
			m := NewMapping()
			for k, v := range items {
				m.Items[k] = v
			}
			cmd.value = m
		default:
			cmd.value = decoded
		}
	case KindCallRead, KindCallWrite:
		if len(f.Payload) > 0 {
			v, err := wire.Decode(f.Payload)
			if err != nil {
				return nil, err
			}
			if args, ok := v.([]any); ok {
				cmd.args = args
			}
		}
	}
	return cmd, nil
}

func (c *Coordinator) process(cmd *command) commandResult {
	switch cmd.kind {
	case KindAdd:
		return c.processAdd(cmd)
	case KindRemove:
		c.mu.Lock()
		defer c.mu.Unlock()
		if rec, ok := c.shares[cmd.share]; ok {
			delete(rec.attrs, cmd.attr)
			delete(rec.metadata, cmd.attr)
		}
		return commandResult{}
	case KindGet:
		c.mu.Lock()
		defer c.mu.Unlock()
		rec, ok := c.shares[cmd.share]
		if !ok {
			return commandResult{err: errs.New(errs.ShareStopped, fmt.Sprintf("no such share %q", cmd.share))}
		}
		v, ok := rec.attrs[cmd.attr]
		if !ok {
			return commandResult{err: errs.New(errs.ShareStopped, fmt.Sprintf("no such attribute %s.%s", cmd.share, cmd.attr))}
		}
		return commandResult{value: v}
	case KindCallRead, KindCallWrite:
		return c.processCall(cmd)
	case KindCounterAlloc:
		return c.processCounterAlloc(cmd)
	case KindCounterFree:
		return c.processCounterFree(cmd)
	default:
		return commandResult{err: fmt.Errorf("share: unknown command kind %q", cmd.kind)}
	}
}

func (c *Coordinator) processAdd(cmd *command) commandResult {
	if d, ok := cmd.value.(sharemeta.Disallower); ok {
		if reason, disallowed := d.ShareDisallowed(); disallowed {
			return commandResult{err: errs.New(errs.ShareDisallowed, reason)}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.shares[cmd.share]
	if !ok {
		rec = &shareRecord{attrs: make(map[string]any), metadata: make(map[string]sharemeta.ClassMetadata)}
		c.shares[cmd.share] = rec
	}
	rec.attrs[cmd.attr] = cmd.value
	if s, ok := cmd.value.(sharemeta.Shareable); ok {
		rec.metadata[cmd.attr] = s.ShareMetadata()
	}
	return commandResult{}
}

func (c *Coordinator) processCall(cmd *command) commandResult {
	c.mu.Lock()
	rec, ok := c.shares[cmd.share]
	if !ok {
		c.mu.Unlock()
		return commandResult{err: errs.New(errs.ShareStopped, fmt.Sprintf("no such share %q", cmd.share))}
	}
	value, ok := rec.attrs[cmd.attr]
	c.mu.Unlock()
	if !ok {
		return commandResult{err: errs.New(errs.ShareStopped, fmt.Sprintf("no such attribute %s.%s", cmd.share, cmd.attr))}
	}
	invokable, ok := value.(Invokable)
	if !ok {
		return commandResult{err: fmt.Errorf("share: %s.%s is not callable", cmd.share, cmd.attr)}
	}
	result, err := invokable.Invoke(cmd.method, cmd.args)
	if err != nil {
		return commandResult{err: err}
	}
	return commandResult{value: result}
}

func (c *Coordinator) processCounterAlloc(cmd *command) commandResult {
	name := shm.Name(c.id, cmd.share, cmd.attr)
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	if _, ok := c.counters[name]; !ok {
		counter, err := shm.Open(name)
		if err != nil {
			return commandResult{err: errs.Wrap(errs.ShareStopped, err)}
		}
		c.counters[name] = counter
	}
	return commandResult{value: name}
}

func (c *Coordinator) processCounterFree(cmd *command) commandResult {
	name := shm.Name(c.id, cmd.share, cmd.attr)
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	if counter, ok := c.counters[name]; ok {
		counter.Free()
		delete(c.counters, name)
		return commandResult{}
	}
	// Always unlink, even if this coordinator never allocated a handle for
	// it (another run may have): best-effort unconditional removal.
	if counter, err := shm.Open(name); err == nil {
		counter.Free()
	}
	return commandResult{}
}

// Stop closes the stop channel (the command channel itself stays open) and
// unlinks every counter segment, but leaves the coordinator's shares in
// memory so a subsequent Serve call resumes serving them. Safe to call more
// than once.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.mu.Unlock()
	c.wg.Wait()

	c.countersMu.Lock()
	for name, counter := range c.counters {
		counter.Free()
		delete(c.counters, name)
	}
	c.countersMu.Unlock()

	return nil
}

// Destroy permanently shuts the coordinator down: Stop, then discard every
// share. A destroyed coordinator cannot Serve again.
func (c *Coordinator) Destroy() error {
	if err := c.Stop(); err != nil {
		return err
	}
	c.mu.Lock()
	c.shares = make(map[string]*shareRecord)
	c.destroyed = true
	c.mu.Unlock()
	return nil
}

// errFrame builds an error response frame, carrying the originating
// *errs.Error's Kind across the wire (as a plain string) so the proxy can
// reconstruct the right taxonomy entry instead of collapsing every failure
// to one generic kind.
func errFrame(id uint64, err error) *Frame {
	f := &Frame{ID: id, Kind: kindErr, ErrMsg: err.Error(), ErrKind: string(errs.ShareStopped)}
	var e *errs.Error
	if ok := asErrsError(err, &e); ok {
		f.ErrKind = string(e.Kind)
		f.ErrMsg = e.Message
	}
	return f
}

func asErrsError(err error, target **errs.Error) bool {
	if e, ok := err.(*errs.Error); ok {
		*target = e
		return true
	}
	return false
}
