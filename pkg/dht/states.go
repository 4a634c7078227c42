package dht

import (
	"net/netip"

	"github.com/dyluth/dhtc/internal/metrics"
)

// policy is the behaviour of one lifecycle state. Calls are checked against the
// current state's policy; messages are interpreted by the policy of the state
// that attached the observing entry.
type policy struct {
	connect    func(c *Client, h Handler) error
	disconnect func(c *Client, h Handler) error
	// operate gates Find and Store.
	operate func(c *Client, op string) error
	handle  func(c *Client, e *observerEntry, m *message)
}

var policies = [...]policy{
	Disconnected: {
		connect:    disconnectedConnect,
		disconnect: disconnectedDisconnect,
		operate:    rejectOperation,
		handle:     ignoreMessage,
	},
	Connecting: {
		connect:    rejectConnect("already connecting"),
		disconnect: connectingDisconnect,
		operate:    rejectOperation,
		handle:     connectingHandle,
	},
	Connected: {
		connect:    rejectConnect("already connected"),
		disconnect: connectedDisconnect,
		operate:    func(*Client, string) error { return nil },
		handle:     connectedHandle,
	},
	Disconnecting: {
		connect:    rejectConnect("can't connect until disconnect finished"),
		disconnect: rejectDisconnect("already disconnecting"),
		operate:    rejectOperation,
		handle:     disconnectingHandle,
	},
}

func policyFor(s State) *policy {
	if s < Disconnected || int(s) >= len(policies) {
		return nil
	}
	return &policies[s]
}

func rejectConnect(reason string) func(*Client, Handler) error {
	return func(c *Client, _ Handler) error {
		return c.callError("connect", reason, ErrInvalidState)
	}
}

func rejectDisconnect(reason string) func(*Client, Handler) error {
	return func(c *Client, _ Handler) error {
		return c.callError("disconnect", reason, ErrInvalidState)
	}
}

func rejectOperation(c *Client, op string) error {
	return c.callError(op, "only allowed while connected", ErrInvalidState)
}

func ignoreMessage(*Client, *observerEntry, *message) {}

// Disconnected

func disconnectedConnect(c *Client, h Handler) error {
	if !c.initialized {
		return c.callError("connect", "", ErrNotInitialized)
	}
	t := c.spawn(taskConnect, connectBody(c.engine, BootstrapConfig{ContactFile: c.cfg.BootstrapFile}, c.cfg.Connect), connectAbort)
	c.engineStarted = true
	c.registry.attach(&observerEntry{owner: Connecting, handler: h, task: t})
	c.setState(Connecting)
	return nil
}

func disconnectedDisconnect(c *Client, h Handler) error {
	if !c.engineStarted {
		return c.callError("disconnect", "", ErrNotStarted)
	}
	c.beginDisconnect(h)
	return nil
}

// Connecting

func connectingDisconnect(c *Client, h Handler) error {
	entry := c.registry.detach(func(e *observerEntry) bool { return e.owner == Connecting })
	if entry != nil && entry.live() {
		c.emit(entry, func() {
			c.deliverFailure(entry.handler, failuref(CodeAborted, "aborted by disconnect"))
		})
	}
	c.beginDisconnect(h)
	return nil
}

func connectingHandle(c *Client, e *observerEntry, m *message) {
	if m.kind != kindConnectDone {
		return
	}
	c.registry.remove(e)
	if m.success() {
		c.address = m.connect.address
		c.setState(Connected)
		if e.live() {
			c.deliverSuccess(e.handler)
		}
		return
	}
	c.setState(Disconnected)
	if e.live() {
		c.deliverFailure(e.handler, m.failure)
	}
}

// Connected

func connectedDisconnect(c *Client, h Handler) error {
	c.beginDisconnect(h)
	return nil
}

func connectedHandle(c *Client, e *observerEntry, m *message) {
	switch m.kind {
	case kindSearchResult:
		if c.silenced(e) {
			return
		}
		fh, ok := e.handler.(FoundHandler)
		if !ok {
			return
		}
		c.metrics.Notified(metrics.OutcomeFound)
		if fh.OnFound(m.search.key, m.search.value) {
			e.stopped = true
			m.from.requestQuit()
		}

	case kindSearchDone:
		c.registry.remove(e)
		if c.silenced(e) {
			return
		}
		if m.success() {
			c.count(notifySearchSuccess(e.handler, m.search.key), metrics.OutcomeSuccess)
		} else {
			c.count(notifySearchFailure(e.handler, m.search.key, m.failure), metrics.OutcomeFailure)
		}

	case kindStoreDone:
		c.registry.remove(e)
		if c.silenced(e) {
			return
		}
		if m.success() {
			c.deliverSuccess(e.handler)
		} else {
			c.deliverFailure(e.handler, m.failure)
		}
	}
}

// Disconnecting

// disconnectingHandle waits for every outstanding task to exit, then spawns the
// disconnect task exactly once and finally returns the client to Disconnected.
func disconnectingHandle(c *Client, e *observerEntry, m *message) {
	switch m.kind {
	case kindTaskExit:
		c.maybeSpawnDisconnect()

	case kindDisconnectDone:
		if m.from != c.disconnectTask {
			return
		}
		c.registry.remove(e)
		c.disconnectTask = nil
		c.engineStarted = false
		c.address = netip.AddrPort{}
		c.setState(Disconnected)
		if c.silenced(e) {
			return
		}
		if m.success() {
			c.deliverSuccess(e.handler)
		} else {
			c.deliverFailure(e.handler, m.failure)
		}
	}
}
