package search

import "sync"

// Tracker maintains per-query lifecycle state for one batch. It is mutated
// only by the engine's dispatch loop; reads may come from any goroutine.
type Tracker struct {
	mu      sync.RWMutex
	queries []*Query
}

// Summary is a point-in-time count of query states.
type Summary struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// Total returns the number of queries in the batch.
func (s Summary) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed + s.TimedOut
}

func NewTracker(queries []*Query) *Tracker {
	return &Tracker{queries: queries}
}

func (t *Tracker) markRunning(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[i].Status = StatusRunning
}

func (t *Tracker) markTerminal(i int, status QueryStatus, resultsAdded int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[i].Status = status
	t.queries[i].ResultsAdded = resultsAdded
}

// Summary returns current counts per status.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Summary
	for _, q := range t.queries {
		switch q.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusTimedOut:
			s.TimedOut++
		}
	}
	return s
}

// IsComplete reports whether every query has reached a terminal state.
func (t *Tracker) IsComplete() bool {
	s := t.Summary()
	return s.Pending == 0 && s.Running == 0
}

// Queries returns a copy of the per-query states in input order.
func (t *Tracker) Queries() []Query {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Query, len(t.queries))
	for i, q := range t.queries {
		out[i] = *q
	}
	return out
}
