package dht

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = log.New(io.Discard, "", 0)

func waitExit(t *testing.T, ch *messageChannel, tk *task) []*message {
	t.Helper()
	var got []*message
	deadline := time.After(2 * time.Second)
	for {
		got = append(got, ch.drainAll()...)
		if n := len(got); n > 0 && got[n-1].kind == kindTaskExit {
			tk.join()
			return got
		}
		select {
		case <-ch.notify:
		case <-deadline:
			t.Fatalf("task %s did not exit", tk.id)
		}
	}
}

func TestTaskPushesExactlyOneTaskExitLast(t *testing.T) {
	ch := newMessageChannel(nil)
	tk := newTask(taskStore, ch, quietLogger, func(t *task) {
		t.send(newStoreDone(t, nil))
	}, storeAbort)
	tk.run()

	msgs := waitExit(t, ch, tk)
	require.Len(t, msgs, 2)
	assert.Equal(t, kindStoreDone, msgs[0].kind)
	assert.True(t, msgs[0].success())
	assert.Equal(t, kindTaskExit, msgs[1].kind)
	assert.Same(t, tk, msgs[1].from)
	assert.True(t, tk.finished())
}

func TestTaskPanicAfterTerminalDoesNotDuplicate(t *testing.T) {
	ch := newMessageChannel(nil)
	tk := newTask(taskStore, ch, quietLogger, func(t *task) {
		t.send(newStoreDone(t, nil))
		panic("late")
	}, storeAbort)
	tk.run()

	msgs := waitExit(t, ch, tk)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].success())
}

func TestTaskPanicBeforeTerminal(t *testing.T) {
	ch := newMessageChannel(nil)
	tk := newTask(taskDisconnect, ch, quietLogger, func(t *task) {
		var m map[string]int
		m["boom"]++
	}, disconnectAbort)
	tk.run()

	msgs := waitExit(t, ch, tk)
	require.Len(t, msgs, 2)
	assert.Equal(t, kindDisconnectDone, msgs[0].kind)
	require.NotNil(t, msgs[0].failure)
	assert.Equal(t, CodeInternal, msgs[0].failure.Code)
}

func TestTaskSleepInterruptedByQuit(t *testing.T) {
	ch := newMessageChannel(nil)
	result := make(chan bool, 1)
	tk := newTask(taskConnect, ch, quietLogger, func(t *task) {
		result <- t.sleep(time.Hour)
	}, connectAbort)
	tk.run()

	tk.requestQuit()
	tk.requestQuit()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep was not interrupted")
	}
	waitExit(t, ch, tk)
	assert.True(t, tk.quitting())
	assert.Error(t, tk.ctx.Err())
}

func TestTaskIDCarriesKind(t *testing.T) {
	tk := newTask(taskFind, newMessageChannel(nil), quietLogger, func(*task) {}, findAbort(KeyString("k")))
	assert.Regexp(t, `^find-[0-9a-f]{8}$`, tk.id)
}

func TestChannelKeepsPerProducerOrder(t *testing.T) {
	ch := newMessageChannel(nil)
	producers := make([]*task, 4)
	for i := range producers {
		producers[i] = &task{}
	}

	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(p *task) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ch.push(newSearchResult(p, KeyString("k"), RawValue([]byte{byte(i)}, nil)))
				ch.signal()
			}
		}(p)
	}
	wg.Wait()

	msgs := ch.drainAll()
	require.Len(t, msgs, 400)
	next := map[*task]int{}
	for _, m := range msgs {
		assert.Equal(t, byte(next[m.from]), m.search.value.Bytes()[0])
		next[m.from]++
	}
	assert.Empty(t, ch.drainAll())
	assert.Len(t, ch.notify, 1, "signals coalesce")
}

func TestChannelSignalCallsWaker(t *testing.T) {
	n := 0
	ch := newMessageChannel(WakerFunc(func() { n++ }))
	ch.signal()
	ch.signal()
	assert.Equal(t, 2, n)
}

func TestRegistryCancelAndDetach(t *testing.T) {
	var r observerRegistry
	h := &recorder{}
	other := &recorder{}
	t1, t2 := &task{}, &task{}

	e1 := &observerEntry{owner: Connected, handler: h, task: t1}
	e2 := &observerEntry{owner: Connected, handler: h, task: t2}
	e3 := &observerEntry{owner: Disconnecting, handler: other}
	r.attach(e1)
	r.attach(e2)
	r.attach(e3)

	assert.Equal(t, 2, r.cancel(h))
	assert.Equal(t, 0, r.cancel(h))
	assert.False(t, e1.live())
	assert.True(t, e3.live())
	assert.Equal(t, 3, r.len(), "cancelled entries stay until their outcome arrives")

	assert.Equal(t, []*observerEntry{e1, e3}, r.matching(newTaskExit(t1)))

	got := r.detach(func(e *observerEntry) bool { return e.task == t2 })
	assert.Same(t, e2, got)
	assert.Nil(t, r.detach(func(e *observerEntry) bool { return e.task == t2 }))
	r.remove(e1)
	assert.Equal(t, 1, r.len())
	assert.True(t, r.contains(e3))
}

func TestSameHandlerWithNonComparableValues(t *testing.T) {
	type funcs struct{ f []func() }
	assert.False(t, sameHandler(funcs{}, funcs{}))
	assert.False(t, sameHandler(nil, nil))
	h := &recorder{}
	assert.True(t, sameHandler(h, h))
	assert.False(t, sameHandler(h, &recorder{}))
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{
		Find:  FindParams{Threads: 50, Duration: time.Hour, MaxHits: 10000},
		Store: StoreParams{Threads: -1, Duration: 0},
	}.normalized()

	assert.Equal(t, DefaultConnectPolicy(), cfg.Connect)
	assert.Equal(t, MaxThreads, cfg.Find.Threads)
	assert.Equal(t, MaxDuration, cfg.Find.Duration)
	assert.Equal(t, MaxFindHits, cfg.Find.MaxHits)
	assert.Equal(t, DefaultStoreThreads, cfg.Store.Threads)
	assert.Equal(t, DefaultStoreDuration, cfg.Store.Duration)

	def := DefaultConfig().normalized()
	assert.Equal(t, MaxFindHits, def.Find.MaxHits)
	assert.Zero(t, def.Find.Threads, "zero selects the engine default")
}
