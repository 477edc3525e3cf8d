package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/searxng-scraper/pkg/config"
	"github.com/mikeboe/searxng-scraper/pkg/search"
)

// gateBackend counts overlapping Execute calls.
type gateBackend struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (b *gateBackend) Execute(_ context.Context, query string, _ search.Options) ([]search.Result, error) {
	n := b.inFlight.Add(1)
	if n > b.maxInFlight.Load() {
		b.maxInFlight.Store(n)
	}
	time.Sleep(b.delay)
	b.inFlight.Add(-1)
	return []search.Result{{URL: "https://x.org/" + query}}, nil
}

func newLiveBatch(t *testing.T, raw string) *liveBatch {
	t.Helper()
	batch, err := search.ParseBatch(raw)
	require.NoError(t, err)
	return &liveBatch{batch: batch, subs: make(map[int]chan search.ProgressEvent)}
}

func testRunOptions() search.Options {
	return search.Options{PerQueryTimeout: time.Second, InterQueryDelay: time.Millisecond}
}

func TestServiceSerializesBatchRuns(t *testing.T) {
	svc := NewService(nil, &config.Config{})
	backend := &gateBackend{delay: 10 * time.Millisecond}

	// Several overlapping submissions must still dispatch one query at a
	// time process-wide.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		lb := newLiveBatch(t, "a\nb")
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.runEngine(context.Background(), lb, backend, testRunOptions(), nil, func(search.ProgressEvent) {})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.maxInFlight.Load())
	assert.Equal(t, 6, svc.CorpusSize())
}

func TestServiceRunEngineReturnsOwnContribution(t *testing.T) {
	svc := NewService(nil, &config.Config{})
	backend := &gateBackend{}

	first := svc.runEngine(context.Background(), newLiveBatch(t, "shared"), backend, testRunOptions(), nil, func(search.ProgressEvent) {})
	require.Len(t, first, 1)

	// The second batch repeats the first one's query; the duplicate URL
	// belongs to the first batch, not the second.
	second := svc.runEngine(context.Background(), newLiveBatch(t, "shared\nfresh"), backend, testRunOptions(), nil, func(search.ProgressEvent) {})
	require.Len(t, second, 1)
	assert.Equal(t, "https://x.org/fresh", second[0].URL)

	// A corpus reset between runs cannot distort a later batch's count.
	svc.ResetCorpus()
	third := svc.runEngine(context.Background(), newLiveBatch(t, "shared"), backend, testRunOptions(), nil, func(search.ProgressEvent) {})
	assert.Len(t, third, 1)
}

func TestServiceEvictsFinishedBatches(t *testing.T) {
	svc := NewService(nil, &config.Config{})

	id := uuid.New()
	svc.live[id] = &liveBatch{subs: make(map[int]chan search.ProgressEvent), done: true}
	svc.evictAfter(id, time.Millisecond)

	assert.Eventually(t, func() bool {
		svc.mu.RLock()
		defer svc.mu.RUnlock()
		_, ok := svc.live[id]
		return !ok
	}, time.Second, 5*time.Millisecond)
}
