package subscription

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	released atomic.Int32
	err      error
}

func (h *fakeHandle) Unsubscribe() error {
	h.released.Add(1)
	return h.err
}

type recorder struct {
	mu        sync.Mutex
	activated map[string]int
	handles   map[string][]*fakeHandle
	fail      error
}

func newRecorder() *recorder {
	return &recorder{
		activated: make(map[string]int),
		handles:   make(map[string][]*fakeHandle),
	}
}

func (r *recorder) activate(key string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	r.activated[key]++
	h := &fakeHandle{}
	r.handles[key] = append(r.handles[key], h)
	return h, nil
}

func (r *recorder) released(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, h := range r.handles[key] {
		total += int(h.released.Load())
	}
	return total
}

func TestMultiplexer_FirstAttachActivates(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-1"))

	assert.Equal(t, 1, rec.activated["op-1"])
	assert.Equal(t, 3, m.Count("op-1"))
	assert.Equal(t, []string{"op-1"}, m.Keys())
}

func TestMultiplexer_LastDetachReleases(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-1"))

	require.NoError(t, m.Detach("op-1"))
	assert.Equal(t, 0, rec.released("op-1"))
	assert.Equal(t, 1, m.Count("op-1"))

	require.NoError(t, m.Detach("op-1"))
	assert.Equal(t, 1, rec.released("op-1"))
	assert.Equal(t, 0, m.Count("op-1"))
	assert.Empty(t, m.Keys())
}

func TestMultiplexer_DetachUnknownKeyIsNoop(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	assert.NoError(t, m.Detach("missing"))

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Detach("op-1"))
	assert.NoError(t, m.Detach("op-1"))
	assert.Equal(t, 1, rec.released("op-1"))
}

func TestMultiplexer_ReattachActivatesAgain(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Detach("op-1"))
	require.NoError(t, m.Attach("op-1"))

	assert.Equal(t, 2, rec.activated["op-1"])
	assert.Equal(t, 1, rec.released("op-1"))
}

func TestMultiplexer_KeysAreIndependent(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-2"))
	require.NoError(t, m.Detach("op-1"))

	assert.Equal(t, 1, rec.released("op-1"))
	assert.Equal(t, 0, rec.released("op-2"))
	assert.Equal(t, []string{"op-2"}, m.Keys())
}

func TestMultiplexer_ActivateFailureStoresNothing(t *testing.T) {
	rec := newRecorder()
	rec.fail = errors.New("transport down")
	m := NewMultiplexer(rec.activate)

	err := m.Attach("op-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.fail)
	assert.Equal(t, 0, m.Count("op-1"))

	rec.fail = nil
	require.NoError(t, m.Attach("op-1"))
	assert.Equal(t, 1, m.Count("op-1"))
}

func TestMultiplexer_ReleaseErrorIsReturned(t *testing.T) {
	failing := &fakeHandle{err: errors.New("already closed")}
	m := NewMultiplexer(func(string) (Handle, error) { return failing, nil })

	require.NoError(t, m.Attach("op-1"))
	err := m.Detach("op-1")
	assert.ErrorIs(t, err, failing.err)
	assert.Equal(t, 0, m.Count("op-1"))
}

func TestMultiplexer_BalancedInterleavingActivatesOnce(t *testing.T) {
	const subscribers = 20
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		rec := newRecorder()
		m := NewMultiplexer(rec.activate)

		// Attach everyone, then detach in a random order interleaved with
		// nothing that lets the count reach zero early.
		require.NoError(t, m.Attach("op"))
		pending := subscribers - 1
		attached := 1
		for pending > 0 || attached > 1 {
			if pending > 0 && (attached == 1 || rng.Intn(2) == 0) {
				require.NoError(t, m.Attach("op"))
				pending--
				attached++
				continue
			}
			require.NoError(t, m.Detach("op"))
			attached--
		}
		require.NoError(t, m.Detach("op"))

		assert.Equal(t, 1, rec.activated["op"], "round %d", round)
		assert.Equal(t, 1, rec.released("op"), "round %d", round)
	}
}

func TestMultiplexer_ConcurrentAttachDetach(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	// Hold one reference so the count never reaches zero mid-test.
	require.NoError(t, m.Attach("op"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Attach("op")
				_ = m.Detach("op")
			}
		}()
	}
	wg.Wait()

	require.NoError(t, m.Detach("op"))
	assert.Equal(t, 1, rec.activated["op"])
	assert.Equal(t, 1, rec.released("op"))
}

type countingObserver struct {
	activated, released []string
}

func (o *countingObserver) Activated(key string) { o.activated = append(o.activated, key) }
func (o *countingObserver) Released(key string)  { o.released = append(o.released, key) }

func TestMultiplexer_ObserverAndClose(t *testing.T) {
	rec := newRecorder()
	obs := &countingObserver{}
	m := NewMultiplexer(rec.activate, WithObserver(obs))

	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-1"))
	require.NoError(t, m.Attach("op-2"))
	assert.ElementsMatch(t, []string{"op-1", "op-2"}, obs.activated)

	require.NoError(t, m.Close())
	assert.ElementsMatch(t, []string{"op-1", "op-2"}, obs.released)
	assert.Equal(t, 1, rec.released("op-1"))
	assert.Equal(t, 1, rec.released("op-2"))
	assert.Empty(t, m.Keys())
}

func TestMultiplexer_AttachAfterCloseFails(t *testing.T) {
	rec := newRecorder()
	m := NewMultiplexer(rec.activate)

	require.NoError(t, m.Close())
	err := m.Attach("op-1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, rec.activated["op-1"])
	assert.Empty(t, m.Keys())
	assert.NoError(t, m.Detach("op-1"))
}
