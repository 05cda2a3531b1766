package cache

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wizenheimer/qeval"
)

var _ qeval.ResultCache = (*ResultCache)(nil)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, false, errors.New("connection refused")
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

type counter struct{ hits, misses int }

func (c *counter) CacheHit()  { c.hits++ }
func (c *counter) CacheMiss() { c.misses++ }

func TestResultCache_GetOrCompute(t *testing.T) {
	obs := &counter{}
	c := New(newMemoryStore(), time.Minute, obs)
	want := []qeval.ScoredDoc{{Doc: 3, Score: 1.5}, {Doc: 1, Score: 0.25}}
	calls := 0
	compute := func() ([]qeval.ScoredDoc, error) {
		calls++
		return want, nil
	}

	ctx := context.Background()
	got, hit, err := c.GetOrCompute(ctx, "BM25\x00dog", compute)
	if err != nil || hit || !reflect.DeepEqual(got, want) {
		t.Fatalf("first lookup = %v, %v, %v", got, hit, err)
	}
	got, hit, err = c.GetOrCompute(ctx, "BM25\x00dog", compute)
	if err != nil || !hit || !reflect.DeepEqual(got, want) {
		t.Fatalf("second lookup = %v, %v, %v", got, hit, err)
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 || obs.hits != 1 || obs.misses != 1 {
		t.Errorf("stats = %d/%d observer %+v", hits, misses, obs)
	}
}

func TestResultCache_ComputeError(t *testing.T) {
	c := New(newMemoryStore(), 0, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "k", func() ([]qeval.ScoredDoc, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestResultCache_StoreFailureIsMiss(t *testing.T) {
	store := newMemoryStore()
	store.failGet = true
	c := New(store, 0, nil)
	got, hit, err := c.GetOrCompute(context.Background(), "k", func() ([]qeval.ScoredDoc, error) {
		return []qeval.ScoredDoc{{Doc: 1, Score: 1}}, nil
	})
	if err != nil || hit || len(got) != 1 {
		t.Errorf("lookup with a failing store = %v, %v, %v", got, hit, err)
	}
}

func TestResultCache_ConcurrentComputeOnce(t *testing.T) {
	c := New(newMemoryStore(), 0, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() ([]qeval.ScoredDoc, error) {
		calls.Add(1)
		<-release
		return []qeval.ScoredDoc{{Doc: 2, Score: 2}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(context.Background(), "same", compute); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
}

func TestKey(t *testing.T) {
	a, b := Key("BM25\x00dog"), Key("BM25\x00cat")
	if a == b || !strings.HasPrefix(a, keyPrefix) || len(a) != len(keyPrefix)+32 {
		t.Errorf("keys %q %q", a, b)
	}
	if Key("BM25\x00dog") != a {
		t.Error("key is not deterministic")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("QE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QE_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(addr, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	key := Key(t.Name() + time.Now().String())
	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Set(ctx, key, []byte("[]"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := s.Get(ctx, key); err != nil || !ok || string(v) != "[]" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
}
