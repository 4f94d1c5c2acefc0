// Package controller owns the single active telemetry link: it drives the
// connection state machine, ingests decoded records into the latest cell and
// the history window, and runs the analysis scheduler while connected.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/history"
	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
)

// Config holds the collaborators of a Controller.
type Config struct {
	// Factories maps each supported kind to a transport constructor.
	Factories map[core.TransportKind]core.TransportFactory
	// History defaults to a buffer of history.DefaultCapacity.
	History   *history.Buffer
	Scheduler Scheduler
	// RecordSink, when set, receives every accepted record after ingestion.
	RecordSink func(telemetry.Record)
	Clock      clock.PassiveClock
	Logger     log.Logger
}

// Controller is safe for concurrent use.
type Controller struct {
	factories  map[core.TransportKind]core.TransportFactory
	history    *history.Buffer
	scheduler  Scheduler
	recordSink func(telemetry.Record)
	clock      clock.PassiveClock
	logger     log.Logger

	// mu guards the connection fields and every state machine event. It is
	// never held across transport I/O.
	mu        sync.Mutex
	fsm       *connectionFSM
	kind      core.TransportKind
	endpoint  string
	session   string
	since     time.Time
	lastErr   error
	transport core.Transport
	events    *sessionEvents

	// ingestMu serializes ingestion against the reset done by teardown.
	ingestMu  sync.Mutex
	lastStamp time.Time
	latest    atomic.Pointer[telemetry.Record]

	lmu       sync.RWMutex
	listeners []Listener
}

// New returns a Disconnected controller whose history and latest record
// hold the zero seed.
func New(cfg Config) *Controller {
	if cfg.History == nil {
		cfg.History = history.New(history.DefaultCapacity)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = nopScheduler{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("controller")
	}

	c := &Controller{
		factories:  cfg.Factories,
		history:    cfg.History,
		scheduler:  cfg.Scheduler,
		recordSink: cfg.RecordSink,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		fsm:        newConnectionFSM(cfg.Logger),
		kind:       core.KindNone,
		since:      cfg.Clock.Now(),
	}
	c.reset()
	return c
}

// Connect opens a link of the given kind. It blocks until the handshake
// resolves and returns the endpoint identifier.
//
// While an attempt is in progress or a link is up, Connect does nothing and
// returns the current endpoint.
func (c *Controller) Connect(ctx context.Context, kind core.TransportKind, target string) (string, error) {
	const op = "controller.connect"

	c.mu.Lock()
	if !c.fsm.Can(EventConnect) {
		endpoint, state := c.endpoint, c.fsm.State()
		c.mu.Unlock()
		c.logger.Debug("Connect ignored", "state", state, "kind", kind)
		return endpoint, nil
	}

	factory, ok := c.factories[kind]
	if !ok {
		err := core.Errorf(core.KindTransportUnavailable, op, "transport %q is not available", kind)
		c.lastErr = err
		st := c.statusLocked()
		c.mu.Unlock()
		metrics.ConnectAttempts.WithLabelValues(string(kind), string(core.KindTransportUnavailable)).Inc()
		c.logger.Error(err, "Connect failed", "kind", kind, "target", target)
		c.notify(Notification{Status: st})
		return "", err
	}

	if err := c.fsm.fire(EventConnect); err != nil {
		c.mu.Unlock()
		return "", core.Wrap(core.KindTransportUnavailable, op, err, "connect refused")
	}

	prior := c.transport
	c.transport = nil
	tr := factory()
	events := &sessionEvents{c: c, id: uuid.NewString(), kind: kind}
	c.events = events
	c.session = events.id
	c.kind = kind
	c.endpoint = ""
	c.lastErr = nil
	c.since = c.clock.Now()
	st := c.statusLocked()
	c.mu.Unlock()

	c.notify(Notification{Status: st})
	c.logger.Info("Connecting", "kind", kind, "target", target, "session", events.id)

	if prior != nil {
		_ = prior.Disconnect()
	}

	endpoint, err := tr.Connect(ctx, target, events)

	c.mu.Lock()
	if err == nil && c.fsm.closed {
		err = core.Wrap(core.KindTransportUnavailable, op, errClosed, "shutting down")
	}
	if lost := events.lost.Load(); err == nil && lost != nil {
		err = core.Wrap(core.KindHandshakeFailure, op, *lost, "link dropped during handshake")
	}
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = core.Wrap(core.KindHandshakeFailure, op, err, "handshake failed")
		}
		events.stale.Store(true)
		c.reset()
		c.events = nil
		c.lastErr = err
		c.kind = core.KindNone
		c.session = ""
		c.since = c.clock.Now()
		_ = c.fsm.fire(EventFail)
		st := c.statusLocked()
		c.mu.Unlock()

		_ = tr.Disconnect()
		metrics.ConnectAttempts.WithLabelValues(string(kind), string(core.KindOf(err))).Inc()
		c.logger.Error(err, "Connect failed", "kind", kind, "target", target)
		c.notify(Notification{Status: st})
		return "", err
	}

	c.transport = tr
	c.endpoint = endpoint
	c.since = c.clock.Now()
	_ = c.fsm.fire(EventEstablish)
	c.scheduler.Start()
	st = c.statusLocked()
	c.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues(string(kind), "success").Inc()
	c.logger.Info("Connected", "kind", kind, "endpoint", endpoint)
	c.notify(Notification{Status: st})
	return endpoint, nil
}

// Disconnect tears down an established link. In any other state it does
// nothing.
func (c *Controller) Disconnect() {
	c.teardown(nil, nil)
}

// Close disconnects and refuses further attempts. An attempt in progress is
// abandoned when its handshake resolves.
func (c *Controller) Close() {
	c.mu.Lock()
	c.fsm.closed = true
	c.mu.Unlock()
	c.teardown(nil, nil)
}

// teardown is the single exit from Connected. When from is set, the request
// only applies to that session.
func (c *Controller) teardown(from *sessionEvents, reason error) {
	c.mu.Lock()
	if c.fsm.State() != StateConnected || (from != nil && from != c.events) {
		c.mu.Unlock()
		return
	}

	if c.events != nil {
		c.events.stale.Store(true)
	}
	c.events = nil
	tr := c.transport
	c.transport = nil
	c.scheduler.Stop()
	c.reset()
	c.kind = core.KindNone
	c.endpoint = ""
	c.session = ""
	c.since = c.clock.Now()
	_ = c.fsm.fire(EventDisconnect)
	st := c.statusLocked()
	c.mu.Unlock()

	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			c.logger.Warn("Transport release failed", "error", err.Error())
		}
	}

	if reason != nil {
		c.logger.Warn("Link lost", "reason", reason.Error())
	} else {
		c.logger.Info("Disconnected")
	}
	c.notify(Notification{Status: st, Reason: reason})
}

// reset replaces history and latest with the zero seed.
func (c *Controller) reset() {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	now := c.clock.Now()
	c.history.Reset(now)
	seed := telemetry.Zero(now)
	c.latest.Store(&seed)
	c.lastStamp = now
	metrics.HistoryLength.Set(float64(c.history.Len()))
}

func (c *Controller) ingest(from *sessionEvents, r telemetry.Record) {
	c.ingestMu.Lock()
	if from.stale.Load() {
		c.ingestMu.Unlock()
		return
	}

	// Receipt stamps never go backwards, so history stays ordered even if
	// the wall clock is stepped.
	now := c.clock.Now()
	if now.Before(c.lastStamp) {
		now = c.lastStamp
	}
	c.lastStamp = now
	r.CapturedAt = now

	c.latest.Store(&r)
	c.history.Append(r)
	n := c.history.Len()
	c.ingestMu.Unlock()

	metrics.RecordsDecoded.WithLabelValues(string(from.kind)).Inc()
	metrics.HistoryLength.Set(float64(n))
	if c.recordSink != nil {
		c.recordSink(r)
	}
}

func (c *Controller) drop(from *sessionEvents, err error) {
	if from.stale.Load() {
		return
	}
	kind := core.KindOf(err)
	metrics.MessagesDropped.WithLabelValues(string(kind)).Inc()
	c.logger.Debug("Dropped inbound message", "reason", kind, "error", err.Error())
}

// Status returns a snapshot of the connection.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State:     c.fsm.State(),
		Kind:      c.kind,
		Endpoint:  c.endpoint,
		Session:   c.session,
		Since:     c.since,
		LastError: c.lastErr,
	}
	if c.lastErr != nil {
		st.ErrorKind = core.KindOf(c.lastErr)
		st.Error = c.lastErr.Error()
	}
	return st
}

// Latest returns the newest record, or the zero seed when none has arrived
// since the last reset.
func (c *Controller) Latest() telemetry.Record {
	return *c.latest.Load()
}

// History returns the retained records, oldest first.
func (c *Controller) History() []telemetry.Record {
	return c.history.Snapshot()
}

// Subscribe registers l for every future notification.
func (c *Controller) Subscribe(l Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) notify(n Notification) {
	c.lmu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.lmu.RUnlock()

	for _, l := range listeners {
		l(n)
	}
}
