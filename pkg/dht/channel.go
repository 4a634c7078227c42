package dht

import "sync"

// Waker wakes an external event loop so that it calls Client.Dispatch.
// Wake is called from task goroutines and must not block.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to a Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// messageChannel carries messages from task goroutines to the controlling goroutine.
type messageChannel struct {
	mu     sync.Mutex
	queue  []*message
	notify chan struct{}
	waker  Waker
}

func newMessageChannel(w Waker) *messageChannel {
	return &messageChannel{
		notify: make(chan struct{}, 1),
		waker:  w,
	}
}

// push appends messages in order. Safe for concurrent use.
func (c *messageChannel) push(msgs ...*message) {
	c.mu.Lock()
	c.queue = append(c.queue, msgs...)
	c.mu.Unlock()
}

// drainAll removes and returns every queued message.
func (c *messageChannel) drainAll() []*message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.queue
	c.queue = nil
	return msgs
}

func (c *messageChannel) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// signal wakes the controlling context. A pending wake-up absorbs further signals.
func (c *messageChannel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
	if c.waker != nil {
		c.waker.Wake()
	}
}
