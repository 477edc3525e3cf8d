package search

import (
	"fmt"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain", "https://x.org/a.pdf", "https://x.org/a.pdf"},
		{"Trailing slash stripped", "https://x.org/docs/", "https://x.org/docs"},
		{"Host case folded", "https://X.Org/A.pdf", "https://x.org/A.pdf"},
		{"Query dropped", "https://x.org/a.pdf?session=1", "https://x.org/a.pdf"},
		{"Fragment dropped", "https://x.org/a.pdf#page=2", "https://x.org/a.pdf"},
		{"Scheme case folded", "HTTPS://x.org/a", "https://x.org/a"},
		{"Whitespace trimmed", "  https://x.org/a  ", "https://x.org/a"},
		{"Unparseable falls back to raw", "not a url/", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAccumulatorDedup(t *testing.T) {
	acc := NewAccumulator()

	a := Result{Title: "A", URL: "https://x.org/a.pdf", Engines: []string{"google"}}
	b := Result{Title: "B", URL: "https://x.org/a.pdf", Engines: []string{"bing", "google"}}
	c := Result{Title: "C", URL: "https://x.org/b.pdf", Engines: []string{"duckduckgo"}}

	added := acc.Merge(0, []Result{a, b, c})
	if len(added) != 2 {
		t.Fatalf("Merge() added %d results, want 2", len(added))
	}
	if added[0].Title != "A" || added[1].Title != "C" {
		t.Errorf("added = [%s, %s], want [A, C]", added[0].Title, added[1].Title)
	}

	snap := acc.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].Title != "A" || snap[1].Title != "C" {
		t.Errorf("snapshot order = [%s, %s], want [A, C]", snap[0].Title, snap[1].Title)
	}

	// First write wins, but the duplicate's engines are unioned in.
	wantEngines := []string{"google", "bing"}
	if len(snap[0].Engines) != len(wantEngines) {
		t.Fatalf("engines = %v, want %v", snap[0].Engines, wantEngines)
	}
	for i, e := range wantEngines {
		if snap[0].Engines[i] != e {
			t.Errorf("engines[%d] = %q, want %q", i, snap[0].Engines[i], e)
		}
	}
}

func TestAccumulatorDedupAcrossMerges(t *testing.T) {
	acc := NewAccumulator()

	acc.Merge(0, []Result{{Title: "first", URL: "https://x.org/a.pdf", Description: "original"}})
	added := acc.Merge(1, []Result{{Title: "second", URL: "https://x.org/a.pdf", Description: "fresher"}})

	if len(added) != 0 {
		t.Fatalf("duplicate merge added %d results, want 0", len(added))
	}
	snap := acc.Snapshot()
	if snap[0].Title != "first" || snap[0].Description != "original" {
		t.Errorf("first write did not win: %+v", snap[0])
	}
	if snap[0].SourceQueryIndex != 0 {
		t.Errorf("source query index = %d, want 0", snap[0].SourceQueryIndex)
	}
}

func TestAccumulatorSnapshotIsolation(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(0, []Result{{URL: "https://x.org/a", Engines: []string{"google"}}})

	snap := acc.Snapshot()
	acc.Merge(1, []Result{{URL: "https://x.org/a", Engines: []string{"bing"}}})

	if len(snap[0].Engines) != 1 {
		t.Errorf("earlier snapshot mutated by later merge: %v", snap[0].Engines)
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator()
	acc.Merge(0, []Result{{URL: "https://x.org/a"}})
	acc.Reset()

	if acc.Len() != 0 {
		t.Fatalf("Len() after reset = %d, want 0", acc.Len())
	}
	if added := acc.Merge(0, []Result{{URL: "https://x.org/a"}}); len(added) != 1 {
		t.Errorf("merge after reset added %d results, want 1", len(added))
	}
}

func TestAccumulatorOrderAcrossBatch(t *testing.T) {
	acc := NewAccumulator()
	for i := 0; i < 3; i++ {
		acc.Merge(i, []Result{{URL: fmt.Sprintf("https://x.org/%d", i)}})
	}

	snap := acc.Snapshot()
	for i, r := range snap {
		if r.SourceQueryIndex != i {
			t.Errorf("result %d source query = %d, want %d", i, r.SourceQueryIndex, i)
		}
	}
}
