package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

// FetchFunc loads the value for key. It must honor ctx cancellation.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// WatchFunc receives every value (or fetch error) resolved for a watched key.
type WatchFunc[T any] func(value T, err error)

// RetrieverConfig configures a Retriever.
type RetrieverConfig[T any] struct {
	// Name labels metrics, spans and logs.
	Name  string
	Fetch FetchFunc[T]
	// Cache defaults to a fresh cache using time.Now.
	Cache  *Cache[T]
	Logger *logging.Logger
}

type result[T any] struct {
	value T
	err   error
}

// keyState tracks dependents and the in-flight fetch of one key.
type keyState[T any] struct {
	waiters  map[uint64]chan result[T]
	watchers map[uint64]WatchFunc[T]
	cancel   context.CancelFunc // non-nil while a fetch runs
	gen      uint64

	deliverMu sync.Mutex
	delivered uint64 // guarded by deliverMu
}

func (s *keyState[T]) dependents() int {
	return len(s.waiters) + len(s.watchers)
}

// Retriever serves values from a Cache and fetches misses, running at most
// one fetch per key at a time. Callers arriving while a fetch runs share
// its result.
type Retriever[T any] struct {
	name  string
	cache *Cache[T]
	fetch FetchFunc[T]
	log   *logging.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	keys   map[string]*keyState[T]
	nextID uint64
}

// NewRetriever constructs a Retriever. Close cancels in-flight fetches.
func NewRetriever[T any](cfg RetrieverConfig[T]) *Retriever[T] {
	if cfg.Cache == nil {
		cfg.Cache = New[T](nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Retriever[T]{
		name:    cfg.Name,
		cache:   cfg.Cache,
		fetch:   cfg.Fetch,
		log:     logging.OrNop(cfg.Logger).WithComponent("cache." + cfg.Name),
		baseCtx: ctx,
		stop:    cancel,
		keys:    make(map[string]*keyState[T]),
	}
}

// Name returns the retriever's label.
func (r *Retriever[T]) Name() string {
	return r.name
}

// Cache exposes the underlying cache.
func (r *Retriever[T]) Cache() *Cache[T] {
	return r.cache
}

// Get returns the cached value for key or waits for a fetch, joining one that
// is already running. ctx only bounds this caller's wait.
func (r *Retriever[T]) Get(ctx context.Context, key string) (T, error) {
	r.mu.Lock()
	if v, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		telemetry.CacheHits.WithLabelValues(r.name).Inc()
		return v, nil
	}
	telemetry.CacheMisses.WithLabelValues(r.name).Inc()

	st := r.state(key)
	id := r.id()
	ch := make(chan result[T], 1)
	st.waiters[id] = ch
	if st.cancel == nil {
		r.startFetch(key, st)
	}
	r.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		r.mu.Lock()
		delete(st.waiters, id)
		r.cleanup(key, st)
		r.mu.Unlock()
		var zero T
		return zero, ctx.Err()
	}
}

// Watch registers fn as a long-lived dependent of key. fn receives the
// current value (fetching it if needed) and every value fetched after a later
// Invalidate, until stop is called. fn must not block.
func (r *Retriever[T]) Watch(key string, fn WatchFunc[T]) (stop func()) {
	r.mu.Lock()
	st := r.state(key)
	id := r.id()
	st.watchers[id] = fn
	v, cached := r.cache.Get(key)
	gen := st.gen
	if cached {
		telemetry.CacheHits.WithLabelValues(r.name).Inc()
	} else {
		telemetry.CacheMisses.WithLabelValues(r.name).Inc()
		if st.cancel == nil {
			r.startFetch(key, st)
		}
	}
	r.mu.Unlock()

	if cached {
		st.deliverMu.Lock()
		if st.delivered <= gen {
			fn(v, nil)
		}
		st.deliverMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(st.watchers, id)
			r.cleanup(key, st)
		})
	}
}

// Invalidate drops the cached value for key. When the key has dependents, a
// running fetch is cancelled and exactly one new fetch is started so they
// receive a fresh value.
func (r *Retriever[T]) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Clear(key)
	st, ok := r.keys[key]
	if !ok || st.dependents() == 0 {
		return
	}
	if st.cancel != nil {
		st.cancel()
	}
	r.startFetch(key, st)
}

// InvalidateAllOlderThan evicts entries not accessed within minAge and
// invalidates each evicted key. It returns the evicted keys.
func (r *Retriever[T]) InvalidateAllOlderThan(minAge time.Duration) []string {
	keys := r.cache.ClearAllOlderThan(minAge)
	telemetry.CacheEvictions.WithLabelValues(r.name).Add(float64(len(keys)))
	for _, key := range keys {
		r.Invalidate(key)
	}
	r.log.CacheSwept(r.name, len(keys), minAge)
	return keys
}

// Dependents returns the number of waiters and watchers registered for key.
func (r *Retriever[T]) Dependents(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.keys[key]; ok {
		return st.dependents()
	}
	return 0
}

// InFlight reports whether a fetch for key is running.
func (r *Retriever[T]) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.keys[key]
	return ok && st.cancel != nil
}

// Close cancels all in-flight fetches and waits for them to return.
func (r *Retriever[T]) Close() {
	r.stop()
	r.wg.Wait()
}

// state returns the bookkeeping for key, creating it. Caller holds r.mu.
func (r *Retriever[T]) state(key string) *keyState[T] {
	st, ok := r.keys[key]
	if !ok {
		st = &keyState[T]{
			waiters:  make(map[uint64]chan result[T]),
			watchers: make(map[uint64]WatchFunc[T]),
		}
		r.keys[key] = st
	}
	return st
}

// cleanup forgets key once nothing depends on it and no fetch runs. Caller
// holds r.mu.
func (r *Retriever[T]) cleanup(key string, st *keyState[T]) {
	if st.dependents() == 0 && st.cancel == nil && r.keys[key] == st {
		delete(r.keys, key)
	}
}

func (r *Retriever[T]) id() uint64 {
	r.nextID++
	return r.nextID
}

// startFetch launches a fetch for key. Caller holds r.mu.
func (r *Retriever[T]) startFetch(key string, st *keyState[T]) {
	st.gen++
	gen := st.gen
	ctx, cancel := context.WithCancel(r.baseCtx)
	st.cancel = cancel
	telemetry.CacheFetches.WithLabelValues(r.name).Inc()

	r.wg.Add(1)
	go r.run(ctx, cancel, key, st, gen)
}

func (r *Retriever[T]) run(ctx context.Context, cancel context.CancelFunc, key string, st *keyState[T], gen uint64) {
	defer r.wg.Done()
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "cache.fetch", trace.WithAttributes(
		telemetry.AttrCache.String(r.name),
		telemetry.AttrCacheKey.String(key),
	))
	v, err := r.fetch(ctx, key)
	telemetry.EndSpan(span, err)

	r.mu.Lock()
	if st.gen != gen {
		// Superseded by Invalidate; the newer fetch answers dependents.
		r.mu.Unlock()
		return
	}
	st.cancel = nil
	if err == nil {
		r.cache.Set(key, v)
	} else {
		telemetry.CacheFetchFailures.WithLabelValues(r.name).Inc()
		r.log.Debug("fetch failed", "key", key, "error", err.Error())
	}
	waiters := st.waiters
	st.waiters = make(map[uint64]chan result[T])
	watchers := make([]WatchFunc[T], 0, len(st.watchers))
	for _, fn := range st.watchers {
		watchers = append(watchers, fn)
	}
	r.cleanup(key, st)
	r.mu.Unlock()

	res := result[T]{value: v, err: err}
	for _, ch := range waiters {
		ch <- res
	}

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()
	if st.delivered > gen {
		return
	}
	st.delivered = gen
	for _, fn := range watchers {
		fn(v, err)
	}
}
