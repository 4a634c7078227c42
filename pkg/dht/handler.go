package dht

import "reflect"

// Handler is any caller-supplied value interested in the outcome of one operation.
// It is notified through whichever of the capability interfaces below it implements;
// a missing capability means that kind of notification is simply not delivered.
//
// Handlers are identified by ==, so use pointer values if you intend to call
// HandlerCancel. All notifications happen on the goroutine that calls Process.
type Handler any

// SuccessHandler is notified when an operation completes successfully.
type SuccessHandler interface {
	OnSuccess()
}

// FailureHandler is notified when an operation fails asynchronously.
type FailureHandler interface {
	OnFailure(code int, reason string)
}

// FoundHandler receives search hits. Returning true stops the search: no further
// hits and no final success/failure are delivered for it.
type FoundHandler interface {
	OnFound(key Key, value Value) (stop bool)
}

// SearchSuccessHandler is the key-aware variant of SuccessHandler used by searches.
type SearchSuccessHandler interface {
	OnSearchSuccess(key Key)
}

// SearchFailureHandler is the key-aware variant of FailureHandler used by searches.
type SearchFailureHandler interface {
	OnSearchFailure(key Key, code int, reason string)
}

// NotifyFuncs adapts plain functions to a success/failure handler.
// Use a pointer (&NotifyFuncs{...}) so the handler can be cancelled.
type NotifyFuncs struct {
	Success func()
	Failure func(code int, reason string)
}

func (n *NotifyFuncs) OnSuccess() {
	if n.Success != nil {
		n.Success()
	}
}

func (n *NotifyFuncs) OnFailure(code int, reason string) {
	if n.Failure != nil {
		n.Failure(code, reason)
	}
}

// SearchFuncs adapts plain functions to a search handler.
type SearchFuncs struct {
	Found   func(key Key, value Value) bool
	Success func(key Key)
	Failure func(key Key, code int, reason string)
}

func (s *SearchFuncs) OnFound(key Key, value Value) bool {
	if s.Found != nil {
		return s.Found(key, value)
	}
	return false
}

func (s *SearchFuncs) OnSearchSuccess(key Key) {
	if s.Success != nil {
		s.Success(key)
	}
}

func (s *SearchFuncs) OnSearchFailure(key Key, code int, reason string) {
	if s.Failure != nil {
		s.Failure(key, code, reason)
	}
}

// sameHandler compares two handlers without panicking on non-comparable values.
func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func notifySuccess(h Handler) bool {
	if sh, ok := h.(SuccessHandler); ok {
		sh.OnSuccess()
		return true
	}
	return false
}

func notifyFailure(h Handler, f *Failure) bool {
	if fh, ok := h.(FailureHandler); ok {
		fh.OnFailure(f.Code, f.Reason)
		return true
	}
	return false
}

func notifySearchSuccess(h Handler, key Key) bool {
	if sh, ok := h.(SearchSuccessHandler); ok {
		sh.OnSearchSuccess(key)
		return true
	}
	return notifySuccess(h)
}

func notifySearchFailure(h Handler, key Key, f *Failure) bool {
	if fh, ok := h.(SearchFailureHandler); ok {
		fh.OnSearchFailure(key, f.Code, f.Reason)
		return true
	}
	return notifyFailure(h, f)
}
