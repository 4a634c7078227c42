package dht

import "fmt"

// EventMask selects lifecycle events an observer is attached to.
type EventMask int

const (
	MaskStateChanged EventMask = 1 << iota
	MaskSearchResult

	MaskAll = MaskStateChanged | MaskSearchResult
)

// EventObserver receives client-wide events independent of any single operation.
// It implements StateObserver, SearchObserver or both.
type EventObserver any

// StateObserver is notified after every lifecycle state change.
type StateObserver interface {
	OnStateChanged(state State)
}

// SearchObserver is notified of every search hit delivered by any search.
type SearchObserver interface {
	OnSearchResult(key Key, value Value)
}

// eventNotifier holds at most one observer per event bit.
type eventNotifier struct {
	slots map[EventMask]EventObserver
}

func newEventNotifier() *eventNotifier {
	return &eventNotifier{slots: make(map[EventMask]EventObserver)}
}

func (n *eventNotifier) attach(o EventObserver, mask EventMask) error {
	if o == nil {
		return fmt.Errorf("nil observer")
	}
	// Validate every bit first so a failed attach leaves no partial registration.
	for bit := EventMask(1); bit <= MaskAll; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		if _, taken := n.slots[bit]; taken {
			return fmt.Errorf("%w: event mask %d, remove the old observer first", ErrObserverSlotTaken, bit)
		}
	}
	for bit := EventMask(1); bit <= MaskAll; bit <<= 1 {
		if mask&bit != 0 {
			n.slots[bit] = o
		}
	}
	return nil
}

func (n *eventNotifier) remove(o EventObserver, mask EventMask) {
	for bit := EventMask(1); bit <= MaskAll; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		if cur, ok := n.slots[bit]; ok && sameHandler(cur, o) {
			delete(n.slots, bit)
		}
	}
}

func (n *eventNotifier) stateChanged(s State) {
	if so, ok := n.slots[MaskStateChanged].(StateObserver); ok {
		so.OnStateChanged(s)
	}
}

func (n *eventNotifier) searchResult(k Key, v Value) {
	if so, ok := n.slots[MaskSearchResult].(SearchObserver); ok {
		so.OnSearchResult(k, v)
	}
}
