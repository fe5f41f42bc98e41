package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder stands in for the spacing wait and records each duration.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.durations = append(r.durations, d)

	return nil
}

func TestChainInvokesDirectSinksInOrderWithSpacing(t *testing.T) {
	t.Parallel()

	var order []string

	var mu sync.Mutex

	mkSink := func(name string) Sink {
		return sinkFunc{name: name, deliver: func() (Outcome, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()

			return Outcome{}, nil
		}}
	}

	rec := &sleepRecorder{}
	c := NewChain("p", time.Second, []SinkEntry{
		{Sink: mkSink("a")},
		{Sink: mkSink("b")},
		{Sink: mkSink("c")},
	}, nil, testLogger())
	c.sleep = rec.sleep

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.durations)
}

func TestChainContinuesAfterSinkFailure(t *testing.T) {
	t.Parallel()

	failing := &stubSink{name: "a", err: errors.New("backend down")}
	second := &stubSink{name: "b"}
	third := &stubSink{name: "c"}

	rec := &sleepRecorder{}
	c := NewChain("p", 0, []SinkEntry{
		{Sink: failing},
		{Sink: second},
		{Sink: third},
	}, nil, testLogger())
	c.sleep = rec.sleep

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	assert.Equal(t, 1, failing.calls())
	assert.Equal(t, 1, second.calls())
	assert.Equal(t, 1, third.calls())
}

func TestChainBusyDropDoesNotStopChain(t *testing.T) {
	t.Parallel()

	busy := &stubSink{name: "a", outcome: Outcome{Dropped: true}}
	next := &stubSink{name: "b"}

	c := NewChain("p", 0, []SinkEntry{{Sink: busy}, {Sink: next}}, nil, testLogger())

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	assert.Equal(t, 1, busy.calls())
	assert.Equal(t, 1, next.calls())
}

func TestChainForwardsTaskHandles(t *testing.T) {
	t.Parallel()

	async := &stubSink{name: "refresher", outcome: Outcome{Tasks: []TaskHandle{{ID: "42"}}}}
	tasks := make(chan TaskHandle, 1)

	c := NewChain("p", 0, []SinkEntry{{Sink: async}}, tasks, testLogger())

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	select {
	case handle := <-tasks:
		assert.Equal(t, "refresher", handle.Sink)
		assert.Equal(t, "42", handle.ID)
		assert.False(t, handle.StartedAt.IsZero())
	default:
		t.Fatal("expected a task handle on the queue")
	}
}

func TestChainForwardsTaskHandlesDespiteDeliveryError(t *testing.T) {
	t.Parallel()

	// A fan-out sink can submit an async job on one backend and still
	// report a sibling backend's failure; the job must be monitored.
	partial := &stubSink{
		name:    "media",
		outcome: Outcome{Tasks: []TaskHandle{{Sink: "rc-main", ID: "99"}}},
		err:     errors.New("plex backend down"),
	}
	tasks := make(chan TaskHandle, 1)

	c := NewChain("p", 0, []SinkEntry{{Sink: partial}}, tasks, testLogger())

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	select {
	case handle := <-tasks:
		assert.Equal(t, "rc-main", handle.Sink)
		assert.Equal(t, "99", handle.ID)
	default:
		t.Fatal("expected the task handle despite the delivery error")
	}
}

func TestChainForwardsEveryTaskHandle(t *testing.T) {
	t.Parallel()

	async := &stubSink{name: "media", outcome: Outcome{Tasks: []TaskHandle{
		{Sink: "rc-a", ID: "11"},
		{Sink: "rc-b", ID: "22"},
	}}}
	tasks := make(chan TaskHandle, 2)

	c := NewChain("p", 0, []SinkEntry{{Sink: async}}, tasks, testLogger())

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/x"})

	require.Len(t, tasks, 2)
	first, second := <-tasks, <-tasks
	assert.Equal(t, "11", first.ID)
	assert.Equal(t, "22", second.ID)
}

func TestChainBufferedSinkReceivesBatchOnDrain(t *testing.T) {
	t.Parallel()

	buffered := &stubSink{name: "batcher"}
	direct := &stubSink{name: "direct"}

	c := NewChain("p", 0, []SinkEntry{
		{Sink: buffered, BufferInterval: time.Minute},
		{Sink: direct},
	}, nil, testLogger())
	c.Start(context.Background())

	c.Submit(context.Background(), Activity{ID: "1", ResolvedPath: "/shows/s1/e1.mkv"})
	c.Submit(context.Background(), Activity{ID: "2", ResolvedPath: "/shows/s1/e2.mkv"})

	// Direct sink saw each activity immediately, one per invocation.
	assert.Equal(t, 2, direct.calls())
	assert.Equal(t, 0, buffered.calls())

	c.DrainBuffers()
	c.Wait()

	require.Equal(t, 1, buffered.calls())
	assert.Len(t, buffered.batch(0), 2)
}

// sinkFunc adapts a closure to the Sink interface.
type sinkFunc struct {
	name    string
	deliver func() (Outcome, error)
}

func (s sinkFunc) Name() string            { return s.name }
func (s sinkFunc) MapPath(p string) string { return p }

func (s sinkFunc) Deliver(context.Context, []Activity) (Outcome, error) {
	return s.deliver()
}
