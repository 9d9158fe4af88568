package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/sharemeta"
	"github.com/ceetaro/suitkaise/wire"
)

// Dialer opens a fresh connection to the coordinator, used both for the
// Proxy's initial connection and for reconnecting a stale one.
type Dialer func() (net.Conn, error)

// Proxy is the client-side object proxy (C5): it wraps a connection to a
// Coordinator and routes attribute/method access according to sharemeta's
// read/write classification. A single Proxy multiplexes every in-flight
// call over one connection, matching frames to callers by request id.
type Proxy struct {
	dial       Dialer
	maxRetries int

	mu      sync.Mutex
	conn    net.Conn
	pending map[uint64]chan *Frame
	closed  bool

	nextID atomic.Uint64
}

// NewProxy dials a connection via dial and starts the background reader
// that demultiplexes responses by request id. maxRetries bounds how many
// times a stale connection is transparently redialed before a call
// surfaces errs.ShareStopped to its caller (spec §4.4 item 6).
func NewProxy(dial Dialer, maxRetries int) (*Proxy, error) {
	conn, err := dial()
	if err != nil {
		return nil, errs.Wrap(errs.ShareStopped, err)
	}
	p := &Proxy{
		dial:       dial,
		maxRetries: maxRetries,
		conn:       conn,
		pending:    make(map[uint64]chan *Frame),
	}
	go p.readLoop(conn)
	return p, nil
}

func (p *Proxy) readLoop(conn net.Conn) {
	for {
		f, err := ReadFrame(conn)
		if err != nil {
			p.mu.Lock()
			stale := p.conn == conn && !p.closed
			p.mu.Unlock()
			if stale {
				p.dropPending()
			}
			return
		}
		p.mu.Lock()
		ch, ok := p.pending[f.ID]
		if ok {
			delete(p.pending, f.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- f
		}
		// Not found: either a fire-and-forget ack nobody registered a
		// waiter for, or a frame for a connection that has since been
		// replaced by reconnect — both are safe to drop silently.
	}
}

func (p *Proxy) dropPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]chan *Frame)
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Close releases the proxy's connection. Subsequent calls return
// errs.ShareStopped.
func (p *Proxy) Close() error {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *Proxy) allocID() uint64 { return p.nextID.Add(1) }

// send writes f and waits for its matching response, reconnecting through
// dial up to maxRetries times if the write or the wait fails with a
// connection-level error.
func (p *Proxy) send(ctx context.Context, f *Frame) (*Frame, error) {
	for attempt := 0; ; attempt++ {
		resp, err := p.sendOnce(ctx, f)
		if err == nil {
			return resp, nil
		}
		if !isConnError(err) || attempt >= p.maxRetries {
			return nil, errs.Wrap(errs.ShareStopped, err)
		}
		if rerr := p.reconnect(); rerr != nil {
			return nil, errs.Wrap(errs.ShareStopped, rerr)
		}
	}
}

func (p *Proxy) sendOnce(ctx context.Context, f *Frame) (*Frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.New(errs.ShareStopped, "proxy closed")
	}
	conn := p.conn
	respCh := make(chan *Frame, 1)
	p.pending[f.ID] = respCh
	p.mu.Unlock()

	if err := WriteFrame(conn, f); err != nil {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, io.ErrClosedPipe
		}
		return resp, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// sendFireAndForget writes f without waiting for its response; any ack the
// coordinator sends back is dropped by readLoop since no waiter is
// registered for its id.
func (p *Proxy) sendFireAndForget(f *Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errs.New(errs.ShareStopped, "proxy closed")
	}
	conn := p.conn
	p.mu.Unlock()
	if err := WriteFrame(conn, f); err != nil {
		if isConnError(err) {
			if rerr := p.reconnect(); rerr == nil {
				return p.sendFireAndForget(f)
			}
		}
		return errs.Wrap(errs.ShareStopped, err)
	}
	return nil
}

func (p *Proxy) reconnect() error {
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		conn, err := p.dial()
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			go p.readLoop(conn)
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return errs.New(errs.ShareStopped, "exhausted reconnect attempts")
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Add sets share.attr to value, one round trip. Fails with
// errs.ShareDisallowed if value declares itself unshareable.
func (p *Proxy) Add(ctx context.Context, share, attr string, value any) error {
	payload, err := wire.Encode(value)
	if err != nil {
		return err
	}
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindAdd, Share: share, Attr: attr, Payload: payload})
	if err != nil {
		return err
	}
	return frameError(resp)
}

// AddList registers share.attr as a built-in List container, constructed
// on the coordinator side from initial (plain wire-transferable values,
// not Invokable types).
func (p *Proxy) AddList(ctx context.Context, share, attr string, initial []any) error {
	return p.addContainer(ctx, share, attr, containerMethodList, initial)
}

// AddSet registers share.attr as a built-in Set container.
func (p *Proxy) AddSet(ctx context.Context, share, attr string, initial []any) error {
	return p.addContainer(ctx, share, attr, containerMethodSet, initial)
}

// AddMapping registers share.attr as a built-in Mapping container.
func (p *Proxy) AddMapping(ctx context.Context, share, attr string, initial map[string]any) error {
	m := make(map[any]any, len(initial))
	for k, v := range initial {
		m[k] = v
	}
	payload, err := wire.Encode(m)
	if err != nil {
		return err
	}
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindAdd, Share: share, Attr: attr, Method: containerMethodMapping, Payload: payload})
	if err != nil {
		return err
	}
	return frameError(resp)
}

func (p *Proxy) addContainer(ctx context.Context, share, attr, method string, initial []any) error {
	payload, err := wire.Encode(initial)
	if err != nil {
		return err
	}
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindAdd, Share: share, Attr: attr, Method: method, Payload: payload})
	if err != nil {
		return err
	}
	return frameError(resp)
}

// Remove deletes share.attr.
func (p *Proxy) Remove(ctx context.Context, share, attr string) error {
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindRemove, Share: share, Attr: attr})
	if err != nil {
		return err
	}
	return frameError(resp)
}

// Get fetches share.attr.
func (p *Proxy) Get(ctx context.Context, share, attr string) (any, error) {
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindGet, Share: share, Attr: attr})
	if err != nil {
		return nil, err
	}
	if err := frameError(resp); err != nil {
		return nil, err
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	return wire.Decode(resp.Payload)
}

// Call invokes method on share.attr, consulting metadata (nil means "plain
// user class, no analyzer-generated metadata") to decide whether it is a
// blocked, write, or read call. Write calls return (nil, nil) immediately
// per spec §4.5 ("return None").
func (p *Proxy) Call(ctx context.Context, share, attr, method string, args []any, metadata *sharemeta.ClassMetadata) (any, error) {
	if reason, blocked := metadata.Blocked(method); blocked {
		return nil, errs.New(errs.ShareBlocked, fmt.Sprintf("%s: %s", method, reason))
	}
	internal := metadata.Resolve(method)

	payload, err := wire.Encode(args)
	if err != nil {
		return nil, err
	}

	if metadata.Classify(method) == sharemeta.Write {
		err := p.sendFireAndForget(&Frame{ID: p.allocID(), Kind: KindCallWrite, Share: share, Attr: attr, Method: internal, Payload: payload})
		return nil, err
	}

	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindCallRead, Share: share, Attr: attr, Method: internal, Payload: payload})
	if err != nil {
		return nil, err
	}
	if err := frameError(resp); err != nil {
		return nil, err
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	return wire.Decode(resp.Payload)
}

// Len, Contains, ItemGet, ItemSet, and ItemDel are the dunder-protocol
// passthroughs from spec §4.5, translated to named Go methods since the
// language has no magic-method dispatch. Each routes through Call using
// the built-in container classification.
func (p *Proxy) Len(ctx context.Context, share, attr string) (int, error) {
	v, err := p.Call(ctx, share, attr, "len", nil, sharemeta.BuiltinContainerMetadata())
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

func (p *Proxy) Contains(ctx context.Context, share, attr string, item any) (bool, error) {
	v, err := p.Call(ctx, share, attr, "contains", []any{item}, sharemeta.BuiltinContainerMetadata())
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (p *Proxy) ItemGet(ctx context.Context, share, attr string, key any) (any, error) {
	return p.Call(ctx, share, attr, "get", []any{key}, sharemeta.BuiltinContainerMetadata())
}

func (p *Proxy) ItemSet(ctx context.Context, share, attr string, key, value any) error {
	_, err := p.Call(ctx, share, attr, "item-set", []any{key, value}, sharemeta.BuiltinContainerMetadata())
	return err
}

func (p *Proxy) ItemDel(ctx context.Context, share, attr string, key any) error {
	_, err := p.Call(ctx, share, attr, "item-del", []any{key}, sharemeta.BuiltinContainerMetadata())
	return err
}

// AllocCounter asks the coordinator to allocate (or rediscover) the
// shared-memory segment for share.attr. The client does not need the
// returned name to use the counter — shm.Name derives it deterministically
// from the same (coordinator id, share, attr) — but the round trip
// guarantees the segment file exists before FetchAdd is attempted.
func (p *Proxy) AllocCounter(ctx context.Context, share, attr string) error {
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindCounterAlloc, Share: share, Attr: attr})
	if err != nil {
		return err
	}
	return frameError(resp)
}

// FreeCounter asks the coordinator to unlink share.attr's counter segment.
func (p *Proxy) FreeCounter(ctx context.Context, share, attr string) error {
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindCounterFree, Share: share, Attr: attr})
	if err != nil {
		return err
	}
	return frameError(resp)
}

// Ping reports coordinator liveness, used to detect a stale proxy before
// it is relied upon for a real call.
func (p *Proxy) Ping(ctx context.Context) error {
	resp, err := p.send(ctx, &Frame{ID: p.allocID(), Kind: KindPing})
	if err != nil {
		return err
	}
	return frameError(resp)
}

func frameError(f *Frame) error {
	if f.Kind != kindErr {
		return nil
	}
	kind := errs.Kind(f.ErrKind)
	if kind == "" {
		kind = errs.ShareStopped
	}
	return errs.New(kind, f.ErrMsg)
}
