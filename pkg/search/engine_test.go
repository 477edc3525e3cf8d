package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend scripts one response per query text.
type stubBackend struct {
	mu      sync.Mutex
	calls   []string
	handler func(ctx context.Context, query string) ([]Result, error)
}

func (s *stubBackend) Execute(ctx context.Context, query string, _ Options) ([]Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	s.mu.Unlock()
	return s.handler(ctx, query)
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testOptions() Options {
	return Options{
		PerQueryTimeout: 2 * time.Second,
		InterQueryDelay: time.Millisecond,
	}
}

func collectEvents(ch <-chan ProgressEvent) []ProgressEvent {
	var events []ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestEngineRunEndToEnd(t *testing.T) {
	// Two queries sharing one URL: 3 + 2 raw results must accumulate to 4.
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		if query == "filetype:pdf budget" {
			return []Result{
				{Title: "a", URL: "https://x.org/a.pdf", Engines: []string{"google"}},
				{Title: "b", URL: "https://x.org/b.pdf"},
				{Title: "c", URL: "https://x.org/c.pdf"},
			}, nil
		}
		return []Result{
			{Title: "a again", URL: "https://x.org/a.pdf", Engines: []string{"bing"}},
			{Title: "d", URL: "https://x.org/d.pdf"},
		}, nil
	}}

	batch, err := ParseBatch("filetype:pdf budget\nfiletype:pdf report")
	require.NoError(t, err)

	acc := NewAccumulator()
	engine := NewEngine(backend, acc, testOptions(), nil)

	events := collectEvents(engine.Run(context.Background(), batch))

	require.Len(t, events, 2)
	totalAdded := 0
	for i, ev := range events {
		assert.Equal(t, i, ev.QueryIndex)
		assert.Equal(t, StatusCompleted, ev.Status)
		totalAdded += ev.ResultsAdded
	}
	assert.Equal(t, 4, totalAdded)
	assert.Equal(t, 4, events[1].TotalAccumulated)
	assert.Len(t, acc.Snapshot(), 4)

	// Duplicate sighting unioned the second query's engine in.
	assert.ElementsMatch(t, []string{"google", "bing"}, acc.Snapshot()[0].Engines)

	require.True(t, batch.Progress.IsComplete())
	assert.Equal(t, 2, batch.Progress.Summary().Completed)
	assert.False(t, batch.FinishedAt.IsZero())
}

func TestEngineRecordsBatchContribution(t *testing.T) {
	// Two batches feed the same corpus. Each batch's Contributed must hold
	// only its own net-new rows: a URL the first batch already merged cannot
	// be attributed to the second.
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		if query == "first" {
			return []Result{
				{Title: "a", URL: "https://x.org/a.pdf"},
				{Title: "b", URL: "https://x.org/b.pdf"},
			}, nil
		}
		return []Result{
			{Title: "a again", URL: "https://x.org/a.pdf"},
			{Title: "c", URL: "https://x.org/c.pdf"},
		}, nil
	}}

	acc := NewAccumulator()

	batch1, err := ParseBatch("first")
	require.NoError(t, err)
	collectEvents(NewEngine(backend, acc, testOptions(), nil).Run(context.Background(), batch1))

	batch2, err := ParseBatch("second")
	require.NoError(t, err)
	collectEvents(NewEngine(backend, acc, testOptions(), nil).Run(context.Background(), batch2))

	require.Len(t, batch1.Contributed, 2)
	assert.Equal(t, "https://x.org/a.pdf", batch1.Contributed[0].URL)
	assert.Equal(t, "https://x.org/b.pdf", batch1.Contributed[1].URL)

	require.Len(t, batch2.Contributed, 1)
	assert.Equal(t, "https://x.org/c.pdf", batch2.Contributed[0].URL)

	assert.Equal(t, 3, acc.Len())
}

func TestEngineContributionSurvivesReset(t *testing.T) {
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		return []Result{{URL: "https://x.org/" + query}}, nil
	}}

	acc := NewAccumulator()

	batch1, err := ParseBatch("one")
	require.NoError(t, err)
	collectEvents(NewEngine(backend, acc, testOptions(), nil).Run(context.Background(), batch1))

	acc.Reset()

	batch2, err := ParseBatch("two")
	require.NoError(t, err)
	collectEvents(NewEngine(backend, acc, testOptions(), nil).Run(context.Background(), batch2))

	// Contribution comes from the engine's own merges, not corpus offsets,
	// so a reset between batches cannot distort it.
	require.Len(t, batch1.Contributed, 1)
	require.Len(t, batch2.Contributed, 1)
	assert.Equal(t, "https://x.org/two", batch2.Contributed[0].URL)
}

func TestEngineFailureDoesNotAbortBatch(t *testing.T) {
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		if query == "bad" {
			return nil, errors.New("connection refused")
		}
		return []Result{{URL: "https://x.org/" + query}}, nil
	}}

	batch, err := ParseBatch("good\nbad\nalso good")
	require.NoError(t, err)

	engine := NewEngine(backend, NewAccumulator(), testOptions(), nil)
	events := collectEvents(engine.Run(context.Background(), batch))

	require.Len(t, events, 3)
	assert.Equal(t, StatusCompleted, events[0].Status)
	assert.Equal(t, StatusFailed, events[1].Status)
	assert.Equal(t, StatusCompleted, events[2].Status)
	assert.Equal(t, 0, events[1].ResultsAdded)

	s := batch.Progress.Summary()
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.True(t, batch.Progress.IsComplete())
}

func TestEngineTimeoutAbandonsInFlightCall(t *testing.T) {
	hangRelease := make(chan struct{})
	backend := &stubBackend{handler: func(ctx context.Context, query string) ([]Result, error) {
		if query == "hangs" {
			// Outlive the per-query timeout, then answer anyway. The late
			// response must be discarded, never merged.
			<-hangRelease
			return []Result{{URL: "https://late.example.com/never"}}, nil
		}
		return []Result{{URL: "https://x.org/" + query}}, nil
	}}

	batch, err := ParseBatch("hangs\nfast")
	require.NoError(t, err)

	acc := NewAccumulator()
	opts := Options{PerQueryTimeout: 50 * time.Millisecond, InterQueryDelay: time.Millisecond}
	engine := NewEngine(backend, acc, opts, nil)

	start := time.Now()
	events := collectEvents(engine.Run(context.Background(), batch))
	elapsed := time.Since(start)

	require.Len(t, events, 2)
	assert.Equal(t, StatusTimedOut, events[0].Status)
	assert.Equal(t, StatusCompleted, events[1].Status)

	// The second query began right after the timeout instead of waiting for
	// the hung call to return.
	assert.Less(t, elapsed, time.Second)

	close(hangRelease)
	time.Sleep(20 * time.Millisecond)

	snap := acc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "https://x.org/fast", snap[0].URL)
}

func TestEngineCancellationStopsLaunchingWork(t *testing.T) {
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		return []Result{{URL: "https://x.org/" + query}}, nil
	}}

	batch, err := ParseBatch("one\ntwo\nthree")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{PerQueryTimeout: time.Second, InterQueryDelay: 100 * time.Millisecond}
	engine := NewEngine(backend, NewAccumulator(), opts, nil)

	events := engine.Run(ctx, batch)

	first := <-events
	assert.Equal(t, 0, first.QueryIndex)
	cancel()

	// Channel drains without further terminal events.
	remaining := collectEvents(events)
	assert.Empty(t, remaining)

	s := batch.Progress.Summary()
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.Pending)
	assert.False(t, batch.Progress.IsComplete())
	assert.Equal(t, 1, backend.callCount())
}

func TestEngineDispatchIsStrictlySequential(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	backend := &stubBackend{handler: func(_ context.Context, _ string) ([]Result, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}}

	batch, err := ParseBatch("a\nb\nc\nd")
	require.NoError(t, err)

	engine := NewEngine(backend, NewAccumulator(), testOptions(), nil)
	events := collectEvents(engine.Run(context.Background(), batch))

	require.Len(t, events, 4)
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, []string{"a", "b", "c", "d"}, backend.calls)
}

func TestEngineSnapshotDuringDispatch(t *testing.T) {
	gate := make(chan struct{})
	backend := &stubBackend{handler: func(_ context.Context, query string) ([]Result, error) {
		if query == "second" {
			<-gate
		}
		return []Result{{URL: "https://x.org/" + query}}, nil
	}}

	batch, err := ParseBatch("first\nsecond")
	require.NoError(t, err)

	acc := NewAccumulator()
	engine := NewEngine(backend, acc, testOptions(), nil)
	events := engine.Run(context.Background(), batch)

	<-events
	// Mid-dispatch snapshot: the second query's merge has not landed yet, so
	// the reader sees exactly the first query's contribution.
	assert.Len(t, acc.Snapshot(), 1)

	close(gate)
	collectEvents(events)
	assert.Len(t, acc.Snapshot(), 2)
}
