package dht

import (
	"net/netip"
	"time"
)

// connectBody starts the engine and then samples its peer count until the
// connection is considered established, times out or is aborted.
func connectBody(e Engine, boot BootstrapConfig, p ConnectPolicy) func(*task) {
	return func(t *task) {
		if err := e.Start(t.ctx, boot); err != nil {
			if t.quitting() {
				t.send(newConnectDone(t, false, netip.AddrPort{}, failuref(CodeAborted, "aborted")))
				return
			}
			t.logger.Printf("[Task %s] Engine start failed: %v", t.id, err)
			t.send(newConnectDone(t, false, netip.AddrPort{}, failuref(CodeEngine, "error starting engine: %v", err)))
			return
		}

		deadline := time.Now().Add(p.Timeout)
		var settleAt time.Time
		seen := false
		for {
			if t.quitting() {
				t.send(newConnectDone(t, true, netip.AddrPort{}, failuref(CodeAborted, "aborted")))
				return
			}

			peers := e.PeerCount()
			now := time.Now()
			if peers > 0 && !seen {
				seen = true
				settleAt = now.Add(p.SettleTimeout)
				t.logger.Printf("[Task %s] First peer seen, settling for %s", t.id, p.SettleTimeout)
			}

			switch {
			case peers >= p.PeerThreshold, seen && !now.Before(settleAt):
				t.send(newConnectDone(t, true, e.ExternalAddress(), nil))
				return
			case !now.Before(deadline):
				if seen {
					t.send(newConnectDone(t, true, e.ExternalAddress(), nil))
				} else {
					t.send(newConnectDone(t, true, netip.AddrPort{}, failuref(CodeTimeout, "connection timed out, zero peers")))
				}
				return
			}

			if !t.sleep(p.PollInterval) {
				t.send(newConnectDone(t, true, netip.AddrPort{}, failuref(CodeAborted, "aborted")))
				return
			}
		}
	}
}

func connectAbort(t *task, f *Failure) *message {
	return newConnectDone(t, true, netip.AddrPort{}, f)
}

func disconnectBody(e Engine) func(*task) {
	return func(t *task) {
		if err := e.Stop(t.ctx); err != nil {
			t.logger.Printf("[Task %s] Engine stop failed: %v", t.id, err)
			t.send(newDisconnectDone(t, failuref(CodeEngine, "error stopping engine")))
			return
		}
		t.send(newDisconnectDone(t, nil))
	}
}

func disconnectAbort(t *task, f *Failure) *message {
	return newDisconnectDone(t, f)
}

// findBody looks up key and forwards every hit, then exactly one SearchDone.
func findBody(e Engine, key Key, index Digest, params FindParams) func(*task) {
	return func(t *task) {
		rs, err := e.Find(t.ctx, index, params)
		if err != nil {
			t.send(newSearchDone(t, key, searchFailure(t, err)))
			return
		}
		defer func() {
			if cerr := rs.Close(); cerr != nil {
				t.logger.Printf("[Task %s] Failed to close result set: %v", t.id, cerr)
			}
		}()

		for {
			if t.quitting() {
				t.send(newSearchDone(t, key, failuref(CodeAborted, "aborted")))
				return
			}
			hit, ok := rs.Next()
			if !ok {
				break
			}
			t.send(newSearchResult(t, key, RawValue(hit.Value[:], hit.Meta)))
		}
		t.send(newSearchDone(t, key, nil))
	}
}

func searchFailure(t *task, err error) *Failure {
	if t.quitting() {
		return failuref(CodeAborted, "aborted")
	}
	t.logger.Printf("[Task %s] Engine find failed: %v", t.id, err)
	return failuref(CodeEngine, "error searching: %v", err)
}

func findAbort(key Key) func(*task, *Failure) *message {
	return func(t *task, f *Failure) *message {
		return newSearchDone(t, key, f)
	}
}

func storeBody(e Engine, index, value Digest, meta Metadata, params StoreParams) func(*task) {
	return func(t *task) {
		accepted, err := e.Store(t.ctx, index, value, meta, params)
		switch {
		case err != nil && t.quitting():
			t.send(newStoreDone(t, failuref(CodeAborted, "aborted")))
		case err != nil:
			t.logger.Printf("[Task %s] Engine store failed: %v", t.id, err)
			t.send(newStoreDone(t, failuref(CodeEngine, "error publishing")))
		case accepted == 0:
			t.send(newStoreDone(t, failuref(CodeNoPeers, "0 peers accepted the stored key/value")))
		default:
			t.send(newStoreDone(t, nil))
		}
	}
}

func storeAbort(t *task, f *Failure) *message {
	return newStoreDone(t, f)
}
