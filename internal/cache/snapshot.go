package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long fetched sheets are served before a reload.
const DefaultTTL = 5 * time.Minute

// DefaultLoadTimeout bounds a shared load once no caller controls it.
const DefaultLoadTimeout = time.Minute

// Snapshot holds one value loaded from a slow source and serves it until the
// TTL elapses or Invalidate is called. Concurrent misses share a single load.
type Snapshot[T any] struct {
	mu          sync.RWMutex
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	value       T
	loadedAt    time.Time
	valid       bool
	gen         uint64

	group singleflight.Group
}

const flightKey = "snapshot"

type loaded[T any] struct {
	value T
	at    time.Time
}

// NewSnapshot creates an empty snapshot. A non-positive ttl uses DefaultTTL.
func NewSnapshot[T any](ttl time.Duration) *Snapshot[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Snapshot[T]{ttl: ttl, loadTimeout: DefaultLoadTimeout, now: time.Now}
}

// Get returns the cached value and the time it was loaded, calling load when
// it is missing or expired. Load errors are returned as is and leave any
// previous value untouched.
//
// The shared load is detached from the cancellation of whichever caller
// started it and bounded by DefaultLoadTimeout instead. A caller whose ctx
// ends while waiting gets ctx.Err(); the others keep waiting.
func (s *Snapshot[T]) Get(ctx context.Context, load func(context.Context) (T, error)) (T, time.Time, error) {
	if v, at, ok := s.fresh(); ok {
		return v, at, nil
	}

	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	ch := s.group.DoChan(flightKey, func() (any, error) {
		if v, at, ok := s.fresh(); ok {
			return loaded[T]{value: v, at: at}, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		at := s.now()
		s.mu.Lock()
		if s.gen == gen {
			s.value = v
			s.loadedAt = at
			s.valid = true
		}
		s.mu.Unlock()
		return loaded[T]{value: v, at: at}, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, time.Time{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, time.Time{}, res.Err
		}
		l := res.Val.(loaded[T])
		return l.value, l.at, nil
	}
}

func (s *Snapshot[T]) fresh() (T, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.valid && s.now().Sub(s.loadedAt) < s.ttl {
		return s.value, s.loadedAt, true
	}
	var zero T
	return zero, time.Time{}, false
}

// Peek returns the stored value without loading, even when expired.
func (s *Snapshot[T]) Peek() (T, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.loadedAt, s.valid
}

// Expired reports whether the next Get will reload.
func (s *Snapshot[T]) Expired() bool {
	_, _, ok := s.fresh()
	return !ok
}

// Invalidate drops the stored value. A load already in flight will not
// repopulate the snapshot.
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	var zero T
	s.value = zero
	s.valid = false
	s.gen++
	s.mu.Unlock()
	s.group.Forget(flightKey)
}

// TTL returns the configured time to live.
func (s *Snapshot[T]) TTL() time.Duration { return s.ttl }

// CleanExpired implements Cleaner: it releases an expired value.
func (s *Snapshot[T]) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.now().Sub(s.loadedAt) >= s.ttl {
		var zero T
		s.value = zero
		s.valid = false
		return 1
	}
	return 0
}
