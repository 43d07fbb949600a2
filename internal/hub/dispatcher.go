package hub

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// LocalHandler receives frames addressed to the hub itself (id 0). It runs on
// the dispatcher goroutine.
type LocalHandler interface {
	HandleLocal(st *State, src *Conn, f frame.Frame)
}

// LocalHandlerFunc adapts a function to LocalHandler.
type LocalHandlerFunc func(st *State, src *Conn, f frame.Frame)

func (fn LocalHandlerFunc) HandleLocal(st *State, src *Conn, f frame.Frame) {
	fn(st, src, f)
}

// Dispatcher is the hub's single event loop. Producers call Post from any
// goroutine; Run consumes events in the order they were posted.
type Dispatcher struct {
	queue   *eventQueue
	state   *State
	local   LocalHandler
	connCfg ConnConfig
	log     zerolog.Logger

	stopping bool
	runOnce  sync.Once
	done     chan struct{}
}

func NewDispatcher(cfg ConnConfig, local LocalHandler) *Dispatcher {
	return &Dispatcher{
		queue:   newEventQueue(),
		state:   newState(),
		local:   local,
		connCfg: cfg,
		log:     logging.Component("hub.dispatcher"),
		done:    make(chan struct{}),
	}
}

// Post enqueues ev. After the dispatcher has stopped it returns
// ErrServiceStopped and the caller keeps ownership of anything ev carries.
func (d *Dispatcher) Post(ev Event) error {
	if !d.queue.push(ev) {
		return ErrServiceStopped
	}
	return nil
}

// Start runs the loop on a new goroutine.
func (d *Dispatcher) Start() {
	go d.Run()
}

// Run consumes events until Stop. Only the first call runs the loop.
func (d *Dispatcher) Run() {
	d.runOnce.Do(d.loop)
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	d.log.Info().Msg("dispatcher started")
	for {
		<-d.queue.signal()
		for _, ev := range d.queue.drain() {
			d.handle(ev)
		}
		if d.stopping {
			for _, ev := range d.queue.close() {
				d.handle(ev)
			}
			d.log.Info().Msg("dispatcher stopped")
			return
		}
	}
}

// Stop closes every connection, drains the queue, and waits for Run to
// return. If the loop never started, Stop runs it on the calling goroutine to
// release whatever was queued. It must not be called from the dispatcher
// goroutine.
func (d *Dispatcher) Stop() {
	_ = d.Post(stopEvent{})
	d.Run()
	<-d.done
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Do runs fn on the dispatcher goroutine and waits for it to finish. When ctx
// ends first Do returns early but fn still runs later, so fn must not write
// anything the caller reads after Do returns; use query for results.
func (d *Dispatcher) Do(ctx context.Context, fn func(*State)) error {
	finished := make(chan struct{})
	err := d.Post(TaskEvent{Fn: func(st *State) {
		defer close(finished)
		fn(st)
	}})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the dispatcher goroutine and returns its result. The result
// travels over a buffered channel so a task that runs after ctx ended writes
// nothing the caller can see.
func query[T any](ctx context.Context, d *Dispatcher, fn func(*State) T) (T, error) {
	out := make(chan T, 1)
	var zero T
	if err := d.Post(TaskEvent{Fn: func(st *State) { out <- fn(st) }}); err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Snapshot copies the current hub state.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	return query(ctx, d, (*State).Snapshot)
}

func (d *Dispatcher) handle(ev Event) {
	observability.RecordEvent(ev.Kind())
	switch e := ev.(type) {
	case ConnectedEvent:
		d.onConnected(e)
	case DisconnectedEvent:
		d.onDisconnected(e)
	case MessageEvent:
		d.onMessage(e)
	case TaskEvent:
		d.runTask(e)
	case stopEvent:
		d.onStop()
	default:
		d.log.Error().Str("kind", ev.Kind()).Msg("unknown event kind")
	}
}

func (d *Dispatcher) onConnected(e ConnectedEvent) {
	if e.Conn == nil {
		return
	}
	if d.stopping {
		_ = e.Conn.Close()
		d.log.Debug().Str("ip", e.IP).Msg("connection refused during shutdown")
		return
	}
	c := newConn(e.Conn, e.IP, d, d.connCfg)
	d.state.addUnregistered(c)
	c.Start()
	d.log.Info().Str("session", c.session).Str("ip", c.ip).Msg("connection accepted")
}

func (d *Dispatcher) onDisconnected(e DisconnectedEvent) {
	c := e.Conn
	if c == nil || !d.state.remove(c) {
		return
	}
	d.release(c, "disconnected")
}

// releaseBroken drops c after a partial write corrupted its outbound stream.
func (d *Dispatcher) releaseBroken(c *Conn) {
	if !c.Broken() || !d.state.remove(c) {
		return
	}
	d.release(c, "partial write")
}

// release closes a connection already removed from the state.
func (d *Dispatcher) release(c *Conn, reason string) {
	_ = c.Close()
	if c.registered {
		d.log.Info().Uint32("node_id", c.id).Str("name", c.info.Name).Str("reason", reason).Msg("node released")
		return
	}
	d.log.Info().Str("session", c.session).Str("ip", c.ip).Str("reason", reason).Msg("unregistered connection closed")
}

func (d *Dispatcher) onMessage(e MessageEvent) {
	c := e.Conn
	if d.stopping {
		observability.RecordFrameDropped(observability.DropShutdown)
		return
	}
	if c == nil || !d.state.Tracked(c) {
		observability.RecordFrameDropped(observability.DropStaleConnection)
		return
	}
	f := e.Frame
	if f.DestinationID == frame.HubID {
		d.callLocal(c, f)
		d.releaseBroken(c)
		return
	}
	if !c.registered {
		observability.RecordFrameDropped(observability.DropUnregisteredSender)
		d.log.Warn().
			Str("session", c.session).
			Str("ip", c.ip).
			Uint32("dst", f.DestinationID).
			Msg("unregistered connection may only address the hub")
		return
	}
	dst, err := d.state.Lookup(f.DestinationID)
	if err != nil {
		observability.RecordFrameDropped(observability.DropUnknownDestination)
		d.log.Warn().Uint32("src", c.id).Uint32("dst", f.DestinationID).Msg("routing failed: unknown destination")
		return
	}
	if err := dst.Send(f); err != nil {
		observability.RecordFrameDropped(observability.DropSendFailed)
		d.log.Warn().Err(err).Uint32("src", c.id).Uint32("dst", f.DestinationID).Msg("routing failed: send")
		d.releaseBroken(dst)
		return
	}
	observability.RecordFrameRouted()
}

func (d *Dispatcher) callLocal(c *Conn, f frame.Frame) {
	if d.local == nil {
		d.log.Debug().Str("session", c.session).Msg("no local handler; dropping hub frame")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			observability.RecordLocalHandlerPanic()
			d.log.Error().
				Interface("panic", r).
				Str("session", c.session).
				Bytes("stack", debug.Stack()).
				Msg("local handler panicked")
		}
	}()
	d.local.HandleLocal(d.state, c, f)
}

func (d *Dispatcher) runTask(e TaskEvent) {
	if e.Fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("dispatcher task panicked")
		}
	}()
	e.Fn(d.state)
}

func (d *Dispatcher) onStop() {
	if d.stopping {
		return
	}
	d.stopping = true
	conns := d.state.all()
	d.log.Info().Int("connections", len(conns)).Msg("dispatcher draining")
	for _, c := range conns {
		d.state.remove(c)
		if err := c.Close(); err != nil {
			d.log.Debug().Err(err).Str("session", c.session).Msg("close during shutdown")
		}
	}
}

type capabilityResult struct {
	doc []byte
	err error
}

// Capability copies the capability document of a registered node.
func (d *Dispatcher) Capability(ctx context.Context, id uint32) ([]byte, error) {
	res, err := query(ctx, d, func(st *State) capabilityResult {
		doc, err := st.Capability(id)
		return capabilityResult{doc: doc, err: err}
	})
	if err != nil {
		return nil, err
	}
	return res.doc, res.err
}
