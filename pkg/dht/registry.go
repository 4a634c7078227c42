package dht

// observerEntry binds a pending operation to the handler that wants its outcome.
type observerEntry struct {
	owner   State   // policy that attached the entry and interprets its messages
	handler Handler // nil when nobody is to be notified
	task    *task   // nil observes messages from every task

	cancelled bool // handler must not be invoked any more
	stopped   bool // search handler asked for no further results
}

// live reports whether the entry's handler may still be notified.
func (e *observerEntry) live() bool {
	return e.handler != nil && !e.cancelled && !e.stopped
}

// observes reports whether the entry is interested in messages from m's task.
func (e *observerEntry) observes(m *message) bool {
	return e.task == nil || e.task == m.from
}

// observerRegistry is only touched by the controlling goroutine.
type observerRegistry struct {
	entries []*observerEntry
}

func (r *observerRegistry) attach(e *observerEntry) {
	r.entries = append(r.entries, e)
}

// cancel marks every entry bound to h as cancelled and returns how many were marked.
// Entries stay registered so their messages are still interpreted.
func (r *observerRegistry) cancel(h Handler) int {
	n := 0
	for _, e := range r.entries {
		if !e.cancelled && sameHandler(e.handler, h) {
			e.cancelled = true
			n++
		}
	}
	return n
}

// detach removes and returns the first entry matching pred, or nil.
func (r *observerRegistry) detach(pred func(*observerEntry) bool) *observerEntry {
	for i, e := range r.entries {
		if pred(e) {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return e
		}
	}
	return nil
}

// remove drops e if it is still registered.
func (r *observerRegistry) remove(e *observerEntry) {
	r.detach(func(x *observerEntry) bool { return x == e })
}

// matching returns a snapshot of the entries that observe m.
func (r *observerRegistry) matching(m *message) []*observerEntry {
	var out []*observerEntry
	for _, e := range r.entries {
		if e.observes(m) {
			out = append(out, e)
		}
	}
	return out
}

func (r *observerRegistry) contains(e *observerEntry) bool {
	for _, x := range r.entries {
		if x == e {
			return true
		}
	}
	return false
}

func (r *observerRegistry) len() int { return len(r.entries) }
