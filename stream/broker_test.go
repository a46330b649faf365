package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroker_EmitWithoutSubscriberDrops(t *testing.T) {
	b := NewBroker(zap.NewNop())

	delivered := b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "x", At: time.Now()}, false)
	assert.False(t, delivered)
	assert.False(t, b.HasSubscriber("s1"))
}

func TestBroker_AttachAndReceive(t *testing.T) {
	b := NewBroker(zap.NewNop())

	ch, detach := b.Attach("s1")
	defer detach()

	require.True(t, b.HasSubscriber("s1"))
	require.True(t, b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "hello", At: time.Now()}, false))

	ev := <-ch
	chunk, ok := ev.(*ChunkEvent)
	require.True(t, ok)
	assert.Equal(t, "hello", chunk.Delta)
}

func TestBroker_FinalClosesSubscriber(t *testing.T) {
	b := NewBroker(zap.NewNop())

	ch, detach := b.Attach("s1")
	defer detach()

	b.Emit("s1", &DoneEvent{StreamID: "s1", Final: true, At: time.Now()}, true)

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventDone, ev.Type())

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after terminal event")
	assert.False(t, b.HasSubscriber("s1"))
}

func TestBroker_SecondAttachReplacesFirst(t *testing.T) {
	b := NewBroker(zap.NewNop())

	ch1, _ := b.Attach("s1")
	ch2, detach2 := b.Attach("s1")
	defer detach2()

	// First subscriber is closed.
	_, ok := <-ch1
	assert.False(t, ok)

	b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "for-second", At: time.Now()}, false)
	ev := <-ch2
	assert.Equal(t, "for-second", ev.(*ChunkEvent).Delta)
}

func TestBroker_DetachIsScopedToOwnSubscription(t *testing.T) {
	b := NewBroker(zap.NewNop())

	_, detach1 := b.Attach("s1")
	ch2, detach2 := b.Attach("s1")
	defer detach2()

	// detach1 belongs to the replaced subscription and must not evict ch2.
	detach1()
	require.True(t, b.HasSubscriber("s1"))

	b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "still-live", At: time.Now()}, false)
	ev := <-ch2
	assert.Equal(t, "still-live", ev.(*ChunkEvent).Delta)
}

func TestBroker_SubscriberAttachedSignal(t *testing.T) {
	b := NewBroker(zap.NewNop())

	attached, cancel := b.SubscriberAttached("s1")
	defer cancel()
	select {
	case <-attached:
		t.Fatal("signal fired before any subscriber attached")
	default:
	}

	_, detach := b.Attach("s1")
	defer detach()

	select {
	case <-attached:
	case <-time.After(time.Second):
		t.Fatal("signal did not fire on attach")
	}

	// Already-attached streams yield an immediately-closed channel.
	ready, cancelReady := b.SubscriberAttached("s1")
	defer cancelReady()
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("signal should be closed when subscriber already attached")
	}
}

func TestBroker_CanceledWaitLeavesNoWaiterBehind(t *testing.T) {
	b := NewBroker(zap.NewNop())

	// Repeated waits that end without a subscriber, as every unwatched run's
	// grace period does, must not accumulate state.
	for i := 0; i < 100; i++ {
		attached, cancel := b.SubscriberAttached("s1")
		select {
		case <-attached:
			t.Fatal("signal fired with no subscriber")
		default:
		}
		cancel()
	}

	b.mu.Lock()
	n := len(b.waiters)
	b.mu.Unlock()
	assert.Zero(t, n)
}

func TestBroker_CancelAfterAttachIsHarmless(t *testing.T) {
	b := NewBroker(zap.NewNop())

	attached, cancel := b.SubscriberAttached("s1")
	_, detach := b.Attach("s1")
	defer detach()

	<-attached
	cancel()

	b.mu.Lock()
	n := len(b.waiters)
	b.mu.Unlock()
	assert.Zero(t, n)
}

func TestBroker_BufferOverflowDropsNotBlocks(t *testing.T) {
	b := NewBroker(zap.NewNop())

	ch, detach := b.Attach("s1")
	defer detach()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "d", At: time.Now()}, false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber buffer")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			assert.Equal(t, subscriberBuffer, received)
			return
		}
	}
}

func TestBroker_TerminalFrameSurvivesFullBuffer(t *testing.T) {
	b := NewBroker(zap.NewNop())

	ch, detach := b.Attach("s1")
	defer detach()

	for i := 0; i < subscriberBuffer; i++ {
		require.True(t, b.Emit("s1", &ChunkEvent{StreamID: "s1", Delta: "d", At: time.Now()}, false))
	}

	// The buffer is full, but the terminal frame carries the snapshot the
	// client rehydrates from and must still be delivered.
	require.True(t, b.Emit("s1", &DoneEvent{StreamID: "s1", Final: true, At: time.Now()}, true))

	var last Event
	for ev := range ch {
		last = ev
	}
	require.NotNil(t, last)
	assert.Equal(t, EventDone, last.Type())
}
