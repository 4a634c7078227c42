// Package dht is an event-driven client for a distributed hash table.
//
// A Client drives an Engine, the component that actually speaks the DHT
// protocol, through four operations: Connect, Disconnect, Find and Store.
// Each operation runs one blocking engine call on its own goroutine and
// reports back through an internal message channel. Results are delivered to
// caller-supplied handlers only from Process or Dispatch, on the goroutine that
// owns the Client:
//
//	c := dht.New(engine)
//	_ = c.Init(dht.DefaultConfig())
//	_ = c.Connect(&dht.NotifyFuncs{Success: func() { log.Println("connected") }})
//	for c.InState() != dht.Connected {
//		c.Process(time.Second)
//	}
//
// Usage errors (calling an operation in a state that does not allow it, or
// passing data the engine cannot address) are returned synchronously as
// *CallError. Operational errors reach handlers as a code and a reason.
package dht
