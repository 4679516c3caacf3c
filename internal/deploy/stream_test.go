package deploy

import (
	"os"
	"testing"
	"time"

	"github.com/archflow/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

func collect(ch <-chan string, n int, t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-timeout:
			t.Fatalf("timed out waiting for %d lines, got %v", n, out)
		}
	}
	return out
}

func TestBroadcasterReplaysBeforeLive(t *testing.T) {
	b := NewBroadcaster()
	b.Publish("one")
	b.Publish("two")

	replay, live, cancel := b.Subscribe()
	defer cancel()
	require.Equal(t, []string{"one", "two"}, replay)

	b.Publish("three")
	require.Equal(t, []string{"three"}, collect(live, 1, t))
}

func TestBroadcasterDropsLinesForStalledSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_, live, cancel := b.Subscribe()
	defer cancel()

	// nobody reads; publishing must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*2; i++ {
			b.Publish("line")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}

	// the full history is still intact
	require.Len(t, b.Tail(0), subBuffer*2)
	require.Len(t, collect(live, subBuffer, t), subBuffer)
}

func TestBroadcasterCloseEndsSubscribers(t *testing.T) {
	b := NewBroadcaster()
	_, live, cancel := b.Subscribe()
	defer cancel()

	b.Publish("last")
	b.Close()
	b.Close()
	b.Publish("after close")

	lines := collect(live, 1, t)
	require.Equal(t, []string{"last"}, lines)
	_, open := <-live
	require.False(t, open)
	require.Equal(t, []string{"last"}, b.Tail(0))
}

func TestBroadcasterSubscribeAfterCloseStillReplays(t *testing.T) {
	b := NewBroadcaster()
	b.Publish("kept")
	b.Close()

	replay, live, cancel := b.Subscribe()
	defer cancel()
	require.Equal(t, []string{"kept"}, replay)
	_, open := <-live
	require.False(t, open)
}

func TestBroadcasterTail(t *testing.T) {
	b := NewBroadcaster()
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Publish(s)
	}
	require.Equal(t, []string{"c", "d"}, b.Tail(2))
	require.Equal(t, []string{"a", "b", "c", "d"}, b.Tail(10))
}

func TestLineWriterSplitsAndFlushes(t *testing.T) {
	var got []string
	w := newLineWriter(func(s string) { got = append(got, s) })

	_, err := w.Write([]byte("alpha\nbe"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ta\r\ngam"))
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, got)

	w.Flush()
	require.Equal(t, []string{"alpha", "beta", "gam"}, got)
}

func TestHubOpenLookupDrop(t *testing.T) {
	h := NewHub()
	id := newUUID(t)

	b := h.Open(id)
	require.Same(t, b, h.Open(id))

	found, ok := h.Lookup(id)
	require.True(t, ok)
	require.Same(t, b, found)

	h.Drop(id)
	_, ok = h.Lookup(id)
	require.False(t, ok)
}
