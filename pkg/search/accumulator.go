package search

import (
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// Accumulator merges backend results into a deduplicated, order-preserving
// corpus. The corpus outlives a single batch: successive batches append to it
// until Reset is called.
//
// Writes come only from the engine's dispatch loop; snapshots may be taken
// concurrently from other goroutines and are atomic per merge, so a reader
// never observes a partially applied backend response.
type Accumulator struct {
	mu      sync.RWMutex
	index   map[string]int
	results []Result
}

func NewAccumulator() *Accumulator {
	return &Accumulator{index: make(map[string]int)}
}

// NormalizeURL builds the dedup key for a result URL: lowercased scheme and
// host plus path, query string and fragment dropped, trailing slash stripped.
// Unparseable URLs fall back to the trimmed raw string.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

// Merge applies one backend response as a unit and returns copies of the
// entries that were genuinely new. A result whose dedup key is already
// present is discarded except for unioning its engine list into the existing
// entry (first write wins).
func (a *Accumulator) Merge(queryIndex int, incoming []Result) []Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	var added []Result
	for _, r := range incoming {
		key := NormalizeURL(r.URL)
		if key == "" {
			continue
		}

		if i, ok := a.index[key]; ok {
			a.results[i].Engines = unionEngines(a.results[i].Engines, r.Engines)
			continue
		}

		r.SourceQueryIndex = queryIndex
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		a.index[key] = len(a.results)
		a.results = append(a.results, r)

		cp := r
		cp.Engines = slices.Clone(r.Engines)
		added = append(added, cp)
	}
	return added
}

// Snapshot returns the corpus in first-discovery order. The returned slice
// and its engine lists are copies, safe to hold across later merges.
func (a *Accumulator) Snapshot() []Result {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Result, len(a.results))
	for i, r := range a.results {
		r.Engines = slices.Clone(r.Engines)
		out[i] = r
	}
	return out
}

// Len returns the current number of deduplicated results.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.results)
}

// Reset discards the corpus.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = make(map[string]int)
	a.results = nil
}

func unionEngines(existing, incoming []string) []string {
	for _, e := range incoming {
		if !slices.Contains(existing, e) {
			existing = append(existing, e)
		}
	}
	return existing
}
