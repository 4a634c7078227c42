package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dyluth/dhtc/internal/metrics"
)

// Forever makes Process wait until something can be dispatched.
const Forever time.Duration = -1

// closeStopTimeout bounds the engine stop performed by Close.
const closeStopTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithWaker installs a Waker that is called whenever a task has queued a message,
// for event loops that call Dispatch instead of Process.
func WithWaker(w Waker) Option {
	return func(c *Client) { c.waker = w }
}

// WithLogger sets the logger used for component log lines and JSON events.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers the client's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = metrics.New(reg) }
}

type deferredCall struct {
	entry *observerEntry // nil for lifecycle events
	fn    func()
}

// Client is the event-driven facade over an Engine. Its methods must be called
// from a single controlling goroutine, which is also where every handler and
// observer is invoked.
type Client struct {
	engine      Engine
	cfg         Config
	initialized bool
	closed      bool

	state          State
	address        netip.AddrPort
	engineStarted  bool
	disconnectTask *task

	ch       *messageChannel
	registry observerRegistry
	events   *eventNotifier

	mu      sync.Mutex
	running map[*task]struct{}

	deferred []deferredCall
	pumping  bool

	waker   Waker
	logger  *log.Logger
	metrics *metrics.Collectors
}

// New returns a disconnected client driving engine. Call Init before Connect.
func New(engine Engine, opts ...Option) *Client {
	c := &Client{
		engine:  engine,
		state:   Disconnected,
		events:  newEventNotifier(),
		running: make(map[*task]struct{}),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ch = newMessageChannel(c.waker)
	c.metrics.SetState(int(c.state))
	return c
}

// Init stores the configuration. It may be called once.
func (c *Client) Init(cfg Config) error {
	if c.closed {
		return c.callError("init", "", ErrClosed)
	}
	if c.initialized {
		return c.callError("init", "", ErrAlreadyInitialized)
	}
	c.cfg = cfg.normalized()
	c.initialized = true
	c.logEvent("client_initialized", map[string]interface{}{
		"bootstrap_file":  c.cfg.BootstrapFile,
		"peer_threshold":  c.cfg.Connect.PeerThreshold,
		"connect_timeout": c.cfg.Connect.Timeout.String(),
	})
	return nil
}

// Connect starts the engine and begins connection detection. h is notified
// with OnSuccess once connected or OnFailure if the attempt fails.
func (c *Client) Connect(h Handler) error {
	if c.closed {
		return c.callError("connect", "", ErrClosed)
	}
	return policyFor(c.state).connect(c, h)
}

// Disconnect aborts any pending connect, quits every running task and stops the engine.
func (c *Client) Disconnect(h Handler) error {
	if c.closed {
		return c.callError("disconnect", "", ErrClosed)
	}
	return policyFor(c.state).disconnect(c, h)
}

// Find searches for every value stored under k. Hits go to h's OnFound.
func (c *Client) Find(k Key, h Handler) error {
	if c.closed {
		return c.callError("find", "", ErrClosed)
	}
	if err := policyFor(c.state).operate(c, "find"); err != nil {
		return err
	}
	index, err := k.Digest()
	if err != nil {
		return c.callError("find", "invalid key", err)
	}
	t := c.spawn(taskFind, findBody(c.engine, k, index, c.cfg.Find), findAbort(k))
	if h != nil {
		c.registry.attach(&observerEntry{owner: Connected, handler: h, task: t})
	}
	return nil
}

// Store publishes v under k.
func (c *Client) Store(k Key, v Value, h Handler) error {
	if c.closed {
		return c.callError("store", "", ErrClosed)
	}
	if err := policyFor(c.state).operate(c, "store"); err != nil {
		return err
	}
	index, err := k.Digest()
	if err != nil {
		return c.callError("store", "invalid key", err)
	}
	value, err := v.Digest()
	if err != nil {
		return c.callError("store", "invalid value", err)
	}
	t := c.spawn(taskStore, storeBody(c.engine, index, value, v.Meta(), c.cfg.Store), storeAbort)
	if h != nil {
		c.registry.attach(&observerEntry{owner: Connected, handler: h, task: t})
	}
	return nil
}

// Process dispatches pending work. When nothing is pending it waits up to maxWait
// for a task to report, dispatches, and returns the unused part of maxWait.
// With Forever it returns immediately if no task is running.
func (c *Client) Process(maxWait time.Duration) time.Duration {
	if c.closed || c.pumping {
		return maxWait
	}
	start := time.Now()
	remaining := func() time.Duration {
		if maxWait == Forever {
			return Forever
		}
		if r := maxWait - time.Since(start); r > 0 {
			return r
		}
		return 0
	}

	if c.Dispatch() > 0 {
		return remaining()
	}

	var timeout <-chan time.Time
	if maxWait != Forever {
		if maxWait <= 0 {
			return 0
		}
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if maxWait == Forever && c.runningCount() == 0 {
			return Forever
		}
		select {
		case <-c.ch.notify:
			if c.Dispatch() > 0 {
				return remaining()
			}
		case <-timeout:
			c.Dispatch()
			return 0
		}
	}
}

// Dispatch runs deferred notifications and every queued message without blocking,
// returning how many it handled.
func (c *Client) Dispatch() int {
	if c.pumping || c.closed {
		return 0
	}
	c.pumping = true
	defer func() { c.pumping = false }()

	n := 0
	for len(c.deferred) > 0 {
		calls := c.deferred
		c.deferred = nil
		for _, d := range calls {
			if c.closed {
				return n
			}
			n++
			if d.entry != nil && c.silenced(d.entry) {
				continue
			}
			d.fn()
		}
	}
	for _, m := range c.ch.drainAll() {
		// A handler may close the client mid-batch
		if c.closed {
			break
		}
		c.dispatchMessage(m)
		n++
	}
	return n
}

func (c *Client) dispatchMessage(m *message) {
	c.metrics.MessageProcessed(m.kind.String())

	switch m.kind {
	case kindConnectDone:
		c.engineStarted = m.connect.engineStarted
		if m.failure != nil {
			c.logger.Printf("[DHT] Connect finished: %s", m.failure.Reason)
		}
	case kindSearchResult:
		c.events.searchResult(m.search.key, m.search.value)
	case kindTaskExit:
		c.reap(m.from)
	}

	for _, e := range c.registry.matching(m) {
		if !c.registry.contains(e) {
			continue
		}
		if p := policyFor(e.owner); p != nil {
			p.handle(c, e, m)
		}
	}

	if m.kind == kindTaskExit {
		for c.registry.detach(func(e *observerEntry) bool { return e.task == m.from }) != nil {
		}
	}
}

// ObserverAttach registers o for every event in mask. Each event holds at most one observer.
func (c *Client) ObserverAttach(o EventObserver, mask EventMask) error {
	if err := c.events.attach(o, mask); err != nil {
		return c.callError("observer attach", "", err)
	}
	return nil
}

// ObserverRemove detaches o from masks, or from every event when none are given.
func (c *Client) ObserverRemove(o EventObserver, masks ...EventMask) {
	mask := MaskAll
	if len(masks) > 0 {
		mask = 0
		for _, m := range masks {
			mask |= m
		}
	}
	c.events.remove(o, mask)
}

// HandlerCancel stops every pending notification to h and returns how many
// operations were affected. The operations themselves run to completion.
func (c *Client) HandlerCancel(h Handler) int {
	n := c.registry.cancel(h)
	for _, d := range c.deferred {
		if d.entry != nil && !d.entry.cancelled && sameHandler(d.entry.handler, h) {
			d.entry.cancelled = true
			n++
		}
	}
	return n
}

// ExternalAddress returns the address other peers see. Only valid while connected.
func (c *Client) ExternalAddress() (netip.AddrPort, error) {
	if c.state != Connected {
		return netip.AddrPort{}, c.callError("external address", "only available while connected", ErrInvalidState)
	}
	return c.address, nil
}

// InState returns the current lifecycle state.
func (c *Client) InState() State { return c.state }

// Close quits and joins every task and stops the engine if it was started.
// Pending handlers are not called. Close is idempotent.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.quitAll()
	c.mu.Lock()
	tasks := make([]*task, 0, len(c.running))
	for t := range c.running {
		tasks = append(tasks, t)
	}
	c.running = make(map[*task]struct{})
	c.mu.Unlock()
	for _, t := range tasks {
		t.join()
		c.metrics.TaskJoined()
	}

	c.ch.drainAll()
	c.deferred = nil
	c.registry = observerRegistry{}
	c.disconnectTask = nil

	var err error
	if c.engineStarted {
		ctx, cancel := context.WithTimeout(context.Background(), closeStopTimeout)
		defer cancel()
		if serr := c.engine.Stop(ctx); serr != nil {
			err = fmt.Errorf("failed to stop engine: %w", serr)
		}
		c.engineStarted = false
	}
	c.state = Disconnected
	c.metrics.SetState(int(c.state))
	c.logEvent("client_closed", map[string]interface{}{"joined_tasks": len(tasks)})
	return err
}

func (c *Client) callError(op, reason string, err error) error {
	return &CallError{Op: op, State: c.state, Reason: reason, Err: err}
}

func (c *Client) spawn(kind taskKind, body func(*task), abort func(*task, *Failure) *message) *task {
	t := newTask(kind, c.ch, c.logger, body, abort)
	c.mu.Lock()
	c.running[t] = struct{}{}
	c.mu.Unlock()
	c.metrics.TaskStarted(string(kind))
	c.logEvent("task_started", map[string]interface{}{"task_id": t.id, "kind": string(kind)})
	t.run()
	return t
}

// reap forgets an exited task and joins its goroutine.
func (c *Client) reap(t *task) {
	c.mu.Lock()
	_, ok := c.running[t]
	delete(c.running, t)
	c.mu.Unlock()
	if !ok {
		return
	}
	t.join()
	c.metrics.TaskJoined()
	c.logEvent("task_exited", map[string]interface{}{"task_id": t.id, "kind": string(t.kind)})
}

func (c *Client) runningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *Client) quitAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.running {
		t.requestQuit()
	}
}

func (c *Client) beginDisconnect(h Handler) {
	c.registry.attach(&observerEntry{owner: Disconnecting, handler: h})
	c.setState(Disconnecting)
	c.quitAll()
	c.maybeSpawnDisconnect()
}

// maybeSpawnDisconnect stops the engine once no other task is left running.
func (c *Client) maybeSpawnDisconnect() {
	if c.disconnectTask != nil || c.runningCount() > 0 {
		return
	}
	c.disconnectTask = c.spawn(taskDisconnect, disconnectBody(c.engine), disconnectAbort)
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Printf("[DHT] State %s -> %s", c.state, s)
	c.state = s
	c.metrics.SetState(int(s))
	c.emit(nil, func() { c.events.stateChanged(s) })
}

// emit runs fn now when dispatching, otherwise defers it to the next Dispatch so
// that handlers never run inside Connect or Disconnect.
func (c *Client) emit(e *observerEntry, fn func()) {
	if c.pumping {
		if e == nil || e.live() {
			fn()
		}
		return
	}
	c.deferred = append(c.deferred, deferredCall{entry: e, fn: fn})
	c.ch.signal()
}

func (c *Client) deliverSuccess(h Handler) {
	c.count(notifySuccess(h), metrics.OutcomeSuccess)
}

func (c *Client) deliverFailure(h Handler, f *Failure) {
	c.count(notifyFailure(h, f), metrics.OutcomeFailure)
}

// silenced reports whether e's handler must not be called, counting the dropped notification.
func (c *Client) silenced(e *observerEntry) bool {
	if e.live() {
		return false
	}
	if e.handler != nil {
		c.metrics.Notified(metrics.OutcomeSkipped)
	}
	return true
}

func (c *Client) count(delivered bool, outcome string) {
	if delivered {
		c.metrics.Notified(outcome)
	}
}

func (c *Client) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "dht"
	data["event_type"] = eventType
	data["state"] = c.state.String()

	jsonData, err := json.Marshal(data)
	if err != nil {
		c.logger.Printf("[DHT] Failed to marshal log event: %v", err)
		return
	}
	c.logger.Println(string(jsonData))
}
