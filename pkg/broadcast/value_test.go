package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value")
	}
	var zero T
	return zero
}

func TestValue_ReplaysLatestToNewSubscriber(t *testing.T) {
	v := New[int]()
	defer v.Close()

	v.Publish(1)
	v.Publish(2)

	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Equal(t, 2, receive(t, ch))
}

func TestValue_NoReplayBeforeFirstPublish(t *testing.T) {
	v := New[string]()
	defer v.Close()

	ch, cancel := v.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		t.Fatalf("unexpected value %q", got)
	default:
	}

	v.Publish("a")
	assert.Equal(t, "a", receive(t, ch))
}

func TestValue_NewWithReplaysInitial(t *testing.T) {
	v := NewWith[*int](nil)
	defer v.Close()

	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Nil(t, receive(t, ch))
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := New[int]()
	defer v.Close()

	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 100; i++ {
		v.Publish(i)
	}

	assert.Equal(t, 100, receive(t, ch))
	select {
	case got := <-ch:
		t.Fatalf("expected no further values, got %d", got)
	default:
	}
}

func TestValue_UnsubscribeClosesChannel(t *testing.T) {
	v := New[int]()
	defer v.Close()

	ch, cancel := v.Subscribe()
	require.Equal(t, 1, v.Subscribers())

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, v.Subscribers())

	assert.NotPanics(t, cancel)
}

func TestValue_CloseStopsPublishing(t *testing.T) {
	v := New[int]()
	ch, _ := v.Subscribe()

	v.Close()
	_, ok := <-ch
	assert.False(t, ok)

	v.Publish(5)
	_, has := v.Latest()
	assert.False(t, has)

	late, cancel := v.Subscribe()
	defer cancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestValue_ConcurrentPublishers(t *testing.T) {
	v := New[int]()
	defer v.Close()

	ch, cancel := v.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Publish(n)
			}
		}(i)
	}
	wg.Wait()

	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, latest, receive(t, ch))
}

func TestValue_CloneIsolatesSubscribers(t *testing.T) {
	clone := func(s []int) []int { return append([]int(nil), s...) }
	v := NewWithClone([]int{}, clone)
	defer v.Close()

	a, stopA := v.Subscribe()
	defer stopA()
	b, stopB := v.Subscribe()
	defer stopB()
	receive(t, a)
	receive(t, b)

	v.Publish([]int{1, 2, 3})
	got := receive(t, a)
	got[0] = 99

	assert.Equal(t, []int{1, 2, 3}, receive(t, b))
	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, latest)

	latest[1] = 42
	again, _ := v.Latest()
	assert.Equal(t, []int{1, 2, 3}, again)
}
