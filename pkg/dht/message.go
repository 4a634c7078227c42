package dht

import "net/netip"

// messageKind tags a message; kind-specific payload is only set for the kinds that use it.
type messageKind int

const (
	kindConnectDone messageKind = iota + 1
	kindDisconnectDone
	kindStoreDone
	kindSearchResult
	kindSearchDone
	kindTaskExit
)

func (k messageKind) String() string {
	switch k {
	case kindConnectDone:
		return "connect_done"
	case kindDisconnectDone:
		return "disconnect_done"
	case kindStoreDone:
		return "store_done"
	case kindSearchResult:
		return "search_result"
	case kindSearchDone:
		return "search_done"
	case kindTaskExit:
		return "task_exit"
	}
	return "unknown"
}

// message records one step of a task's outcome. It is built once by the
// constructors below and never modified after it has been pushed.
type message struct {
	kind    messageKind
	from    *task
	failure *Failure // nil means success

	search  *searchPayload  // kindSearchResult, kindSearchDone
	connect *connectPayload // kindConnectDone
}

type searchPayload struct {
	key   Key
	value Value // only for kindSearchResult
}

type connectPayload struct {
	engineStarted bool
	address       netip.AddrPort
}

func (m *message) success() bool { return m.failure == nil }

// terminal reports whether the message ends the operation its task performs.
func (m *message) terminal() bool {
	switch m.kind {
	case kindConnectDone, kindDisconnectDone, kindStoreDone, kindSearchDone:
		return true
	}
	return false
}

func newConnectDone(from *task, started bool, addr netip.AddrPort, f *Failure) *message {
	return &message{
		kind:    kindConnectDone,
		from:    from,
		failure: f,
		connect: &connectPayload{engineStarted: started, address: addr},
	}
}

func newDisconnectDone(from *task, f *Failure) *message {
	return &message{kind: kindDisconnectDone, from: from, failure: f}
}

func newStoreDone(from *task, f *Failure) *message {
	return &message{kind: kindStoreDone, from: from, failure: f}
}

func newSearchResult(from *task, key Key, value Value) *message {
	return &message{
		kind:   kindSearchResult,
		from:   from,
		search: &searchPayload{key: key, value: value},
	}
}

func newSearchDone(from *task, key Key, f *Failure) *message {
	return &message{
		kind:    kindSearchDone,
		from:    from,
		failure: f,
		search:  &searchPayload{key: key},
	}
}

func newTaskExit(from *task) *message {
	return &message{kind: kindTaskExit, from: from}
}
