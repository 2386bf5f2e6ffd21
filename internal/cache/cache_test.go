package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSnapshotServesUntilTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewSnapshot[int](5 * time.Minute)
	s.now = clock.Now

	var loads int32
	load := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&loads, 1)), nil
	}
	ctx := context.Background()

	if !s.Expired() {
		t.Fatalf("empty snapshot should be expired")
	}
	v, at, _ := s.Get(ctx, load)
	if v != 1 || !at.Equal(clock.Now()) {
		t.Fatalf("first get = %d at %v", v, at)
	}
	clock.Advance(4 * time.Minute)
	if v, cachedAt, _ := s.Get(ctx, load); v != 1 || !cachedAt.Equal(at) {
		t.Fatalf("expected cached value, got %d", v)
	}
	clock.Advance(time.Minute)
	if !s.Expired() {
		t.Fatalf("expected expiry at TTL")
	}
	if v, _, _ := s.Get(ctx, load); v != 2 {
		t.Fatalf("expected reload, got %d", v)
	}

	s.Invalidate()
	if _, _, ok := s.Peek(); ok {
		t.Fatalf("Peek should report nothing after Invalidate")
	}
	if v, _, _ := s.Get(ctx, load); v != 3 {
		t.Fatalf("expected reload after invalidate, got %d", v)
	}
}

func TestSnapshotLoadErrorKeepsPrevious(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := NewSnapshot[string](time.Minute)
	s.now = clock.Now
	ctx := context.Background()

	_, _, _ = s.Get(ctx, func(context.Context) (string, error) { return "v1", nil })
	clock.Advance(2 * time.Minute)
	boom := errors.New("boom")
	if _, _, err := s.Get(ctx, func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if v, _, ok := s.Peek(); !ok || v != "v1" {
		t.Fatalf("previous value lost: %q %v", v, ok)
	}
	if n := s.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired = %d", n)
	}
	if _, _, ok := s.Peek(); ok {
		t.Fatalf("expected value released")
	}
}

func TestSnapshotSharesConcurrentLoads(t *testing.T) {
	s := NewSnapshot[int](time.Minute)
	var loads int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, _, err := s.Get(context.Background(), load); err != nil || v != 42 {
				t.Errorf("got %d, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
}

func TestSnapshotLoadSurvivesStarterCancel(t *testing.T) {
	s := NewSnapshot[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 7, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := s.Get(first, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, _, err := s.Get(context.Background(), load)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}
	close(release)

	got := <-second
	if got.err != nil || got.v != 7 {
		t.Fatalf("waiting caller got %d, %v", got.v, got.err)
	}
	if v, _, ok := s.Peek(); !ok || v != 7 {
		t.Fatalf("shared load should populate the snapshot, got %d %v", v, ok)
	}
}

func TestLRUCacheEvictionAndTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewLRUCache[string](2, time.Minute)
	c.now = clock.Now

	c.Set("a", "A")
	c.Set("b", "B")
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a")
	}
	c.Set("c", "C") // evicts b, the least recently used
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d", c.Size())
	}

	clock.Advance(2 * time.Minute)
	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("CleanExpired = %d", n)
	}

	c.Set("d", "D")
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
}

func TestManagerCleansRegisteredCaches(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	lru := NewLRUCache[int](4, time.Second)
	lru.now = clock.Now
	lru.Set("x", 1)
	snap := NewSnapshot[int](time.Second)
	snap.now = clock.Now
	_, _, _ = snap.Get(context.Background(), func(context.Context) (int, error) { return 1, nil })

	m := NewManager(nil)
	m.Register(lru)
	m.Register(snap)
	clock.Advance(2 * time.Second)
	if n := m.CleanNow(); n != 2 {
		t.Fatalf("CleanNow = %d", n)
	}

	m.StartCleanup(10 * time.Millisecond)
	m.Stop()
	m.Stop()
}
